// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/btrekkie/file-builder/lib/cachestore"
	"github.com/btrekkie/file-builder/lib/fingerprint"
)

// SkipDir can be returned by a WalkFunc to skip descending into the
// current directory. It is filepath.WalkDir's sentinel, re-exported
// so callers need not import io/fs.
var SkipDir = fs.SkipDir

// WalkFunc is invoked once per directory during Walk, with the
// directory's absolute path and the names of its immediate
// subdirectories and files.
type WalkFunc func(dir string, subdirs, subfiles []string) error

// virtualType returns the type of a path in the session's virtual
// view: a committed output is a regular file, a pending or carryover
// output is absent, anything else is whatever the probe reports.
func (s *session) virtualType(path string) (cachestore.FactKind, error) {
	switch s.overlay.lookup(path) {
	case visPresent:
		return cachestore.FactIsFile, nil
	case visHidden:
		return cachestore.FactAbsent, nil
	}

	isDir, err := s.probe.IsDir(path)
	if err != nil {
		return 0, &Error{Kind: KindFS, Op: path, Err: err}
	}
	if isDir {
		return cachestore.FactIsDir, nil
	}
	isFile, err := s.probe.IsFile(path)
	if err != nil {
		return 0, &Error{Kind: KindFS, Op: path, Err: err}
	}
	if isFile {
		return cachestore.FactIsFile, nil
	}
	return cachestore.FactAbsent, nil
}

// virtualListing returns the sorted child names of a directory in
// the virtual view. The caller must already know the path is a
// directory.
func (s *session) virtualListing(dir string) ([]string, error) {
	names, err := s.probe.ListDir(dir)
	if err != nil {
		return nil, &Error{Kind: KindFS, Op: dir, Err: err}
	}
	return s.overlay.filterListing(dir, names, func(dir, name string) string {
		return filepath.Join(dir, name)
	}), nil
}

// virtualContent returns the content fingerprint of a regular file
// in the virtual view. For a committed build output, the producing
// operation's content token is reported instead of the raw digest,
// so a comparison that suppressed a change suppresses it for readers
// of the file as well.
func (s *session) virtualContent(path string) (fingerprint.Sum, error) {
	sum, err := s.probe.FingerprintFile(path)
	if err != nil {
		return fingerprint.Sum{}, &Error{Kind: KindFS, Op: path, Err: err}
	}
	if s.overlay.isCommitted(path) {
		sum = s.contentToken(path, sum)
	}
	return sum, nil
}

// observeType records a type fact for the path and returns the fact
// kind.
func (b *Builder) observeType(path string) (cachestore.FactKind, error) {
	kind, err := b.session.virtualType(path)
	if err != nil {
		b.frame.poison()
		return 0, err
	}
	if err := b.frame.addFact(&cachestore.FileFact{Kind: kind, Path: path}); err != nil {
		return 0, err
	}
	return kind, nil
}

// Exists reports whether path refers to an existing file or
// directory in the virtual state of the file system. The path's
// observed type is recorded as a dependency.
func (b *Builder) Exists(path string) (bool, error) {
	path, err := b.prepare(path)
	if err != nil {
		return false, err
	}
	kind, err := b.observeType(path)
	if err != nil {
		return false, err
	}
	return kind != cachestore.FactAbsent, nil
}

// IsFile reports whether path refers to a regular file in the
// virtual state of the file system, following symlinks.
func (b *Builder) IsFile(path string) (bool, error) {
	path, err := b.prepare(path)
	if err != nil {
		return false, err
	}
	kind, err := b.observeType(path)
	if err != nil {
		return false, err
	}
	return kind == cachestore.FactIsFile, nil
}

// IsDir reports whether path refers to a directory in the virtual
// state of the file system, following symlinks.
func (b *Builder) IsDir(path string) (bool, error) {
	path, err := b.prepare(path)
	if err != nil {
		return false, err
	}
	kind, err := b.observeType(path)
	if err != nil {
		return false, err
	}
	return kind == cachestore.FactIsDir, nil
}

// ListDir returns the names of the direct children of dir in the
// virtual state of the file system, in lexicographic order. The
// ordered child set is recorded as a dependency.
func (b *Builder) ListDir(dir string) ([]string, error) {
	dir, err := b.prepare(dir)
	if err != nil {
		return nil, err
	}

	kind, err := b.session.virtualType(dir)
	if err != nil {
		b.frame.poison()
		return nil, err
	}
	if kind != cachestore.FactIsDir {
		if err := b.frame.addFact(&cachestore.FileFact{Kind: kind, Path: dir}); err != nil {
			return nil, err
		}
		if kind == cachestore.FactIsFile {
			return nil, &Error{Kind: KindFS, Op: dir, Err: fmt.Errorf("not a directory: %w", fs.ErrInvalid)}
		}
		return nil, &Error{Kind: KindFS, Op: dir, Err: fs.ErrNotExist}
	}

	names, err := b.session.virtualListing(dir)
	if err != nil {
		b.frame.poison()
		return nil, err
	}
	if err := b.frame.addFact(&cachestore.FileFact{Kind: cachestore.FactListing, Path: dir, Children: names}); err != nil {
		return nil, err
	}
	return names, nil
}

// ReadBinary returns the contents of the file at path. The file's
// content fingerprint is recorded as a dependency: any byte change
// invalidates cache entries containing this read.
func (b *Builder) ReadBinary(path string) ([]byte, error) {
	path, err := b.prepare(path)
	if err != nil {
		return nil, err
	}
	data, _, err := b.readTracked(path, true)
	return data, err
}

// ReadText returns the contents of the file at path as a string.
func (b *Builder) ReadText(path string) (string, error) {
	path, err := b.prepare(path)
	if err != nil {
		return "", err
	}
	data, _, err := b.readTracked(path, true)
	return string(data), err
}

// DeclareRead records the file at path as a dependency without
// returning its contents. Use it when the read itself happens
// elsewhere — a shell command, a third-party library — so the engine
// still learns about it.
func (b *Builder) DeclareRead(path string) error {
	path, err := b.prepare(path)
	if err != nil {
		return err
	}
	_, _, err = b.readTracked(path, false)
	return err
}

// readTracked records a content fact for a regular file and returns
// its bytes if wantData is set. Missing files are recorded as
// explicit absence facts — a fingerprint observation on a
// non-existent file is a failure, not a tautology.
func (b *Builder) readTracked(path string, wantData bool) ([]byte, fingerprint.Sum, error) {
	kind, err := b.session.virtualType(path)
	if err != nil {
		b.frame.poison()
		return nil, fingerprint.Sum{}, err
	}
	if kind != cachestore.FactIsFile {
		if err := b.frame.addFact(&cachestore.FileFact{Kind: kind, Path: path}); err != nil {
			return nil, fingerprint.Sum{}, err
		}
		if kind == cachestore.FactIsDir {
			return nil, fingerprint.Sum{}, &Error{Kind: KindFS, Op: path, Err: fmt.Errorf("is a directory: %w", fs.ErrInvalid)}
		}
		return nil, fingerprint.Sum{}, &Error{Kind: KindFS, Op: path, Err: fs.ErrNotExist}
	}

	var data []byte
	var sum fingerprint.Sum
	if wantData {
		// Fingerprint the same bytes that are returned, so the
		// recorded fact can never disagree with what the function
		// saw.
		data, err = b.session.probe.ReadBytes(path)
		if err != nil {
			b.frame.poison()
			return nil, fingerprint.Sum{}, &Error{Kind: KindFS, Op: path, Err: err}
		}
		sum = fingerprint.Content(data)
		if b.session.overlay.isCommitted(path) {
			sum = b.session.contentToken(path, sum)
		}
	} else {
		sum, err = b.session.virtualContent(path)
		if err != nil {
			b.frame.poison()
			return nil, fingerprint.Sum{}, err
		}
	}

	if err := b.frame.addFact(&cachestore.FileFact{Kind: cachestore.FactContent, Path: path, Content: sum}); err != nil {
		return nil, fingerprint.Sum{}, err
	}
	return data, sum, nil
}

// Walk visits root and every directory below it in the virtual state
// of the file system, invoking fn once per directory with its
// subdirectory and file names. Directory listings and child types
// are recorded as dependencies at the moment each directory is
// visited. Symbolic links are recorded by their target string and
// are not descended. If root does not exist or is a regular file,
// Walk records that observation and visits nothing.
func (b *Builder) Walk(root string, fn WalkFunc) error {
	root, err := b.prepare(root)
	if err != nil {
		return err
	}
	kind, err := b.observeType(root)
	if err != nil {
		return err
	}
	if kind != cachestore.FactIsDir {
		return nil
	}
	err = b.walkDir(root, fn)
	if err == SkipDir {
		return nil
	}
	return err
}

func (b *Builder) walkDir(dir string, fn WalkFunc) error {
	names, err := b.session.virtualListing(dir)
	if err != nil {
		// The directory vanished mid-walk (or was never readable).
		// Visit nothing below it; the listing cannot be recorded, so
		// the entry must not be reused.
		b.frame.poison()
		return nil
	}
	if err := b.frame.addFact(&cachestore.FileFact{Kind: cachestore.FactListing, Path: dir, Children: names}); err != nil {
		return err
	}

	var subdirs, subfiles, descend []string
	for _, name := range names {
		full := filepath.Join(dir, name)

		if target, err := b.session.probe.ReadSymlink(full); err == nil {
			if err := b.frame.addFact(&cachestore.FileFact{Kind: cachestore.FactSymlink, Path: full, Target: target}); err != nil {
				return err
			}
			// Classify by dereference, but never descend a link.
			kind, err := b.session.virtualType(full)
			if err != nil {
				b.frame.poison()
				return err
			}
			switch kind {
			case cachestore.FactIsDir:
				subdirs = append(subdirs, name)
			case cachestore.FactIsFile:
				subfiles = append(subfiles, name)
			}
			continue
		}

		kind, err := b.observeType(full)
		if err != nil {
			return err
		}
		switch kind {
		case cachestore.FactIsDir:
			subdirs = append(subdirs, name)
			descend = append(descend, full)
		case cachestore.FactIsFile:
			subfiles = append(subfiles, name)
		}
	}

	if err := fn(dir, subdirs, subfiles); err != nil {
		if err == SkipDir {
			return nil
		}
		return err
	}
	for _, sub := range descend {
		if err := b.walkDir(sub, fn); err != nil {
			return err
		}
	}
	return nil
}

// prepare validates that the builder is still active and returns the
// absolute, cleaned form of the given path.
func (b *Builder) prepare(path string) (string, error) {
	if err := b.frame.ensureActive(); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &Error{Kind: KindFS, Op: path, Err: err}
	}
	return abs, nil
}
