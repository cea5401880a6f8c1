// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

// Package builder memoizes build operations that derive outputs from
// files. A build presents the illusion of a clean-slate rebuild —
// every run behaves as if all previous outputs were deleted and every
// function ran from scratch — while in practice functions are only
// re-invoked when the file-system facts they observed last time no
// longer hold.
//
// A build is a tree of operations. The root function passed to
// [Build] is not cacheable; the operations it triggers are:
// [Builder.BuildFile] produces exactly one output file, and
// [Builder.Subbuild] produces an in-memory value. Build functions
// must be functional and deterministic — they may depend only on
// their declared arguments and on the file system as seen through
// the [Builder] they are handed — and must perform all relevant
// file-system reads through that Builder, so that every read becomes
// a tracked dependency. Reads the engine cannot see (a shell
// command, a third-party library) are declared with
// [Builder.DeclareRead].
//
// If the root function returns an error the build rolls back: files
// written during the build are removed, displaced originals are
// restored, and the cache is left as the previous build committed
// it. The rollback journal is durable, so a build interrupted by a
// crash is rolled back when the next build (or [Clean]) starts.
package builder

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/btrekkie/file-builder/lib/cachestore"
	"github.com/btrekkie/file-builder/lib/codec"
	"github.com/btrekkie/file-builder/lib/fingerprint"
	"github.com/btrekkie/file-builder/lib/journal"
)

// RootFunc is the function passed to Build: the build's entry point.
// Its return value is handed back by Build but is not cached.
type RootFunc func(b *Builder) (any, error)

// FileFunc produces the output file at outputPath. It must create
// that file (and no other relevant file) before returning.
type FileFunc func(b *Builder, outputPath string) error

// ValueFunc produces an in-memory value. The value must be
// canonically encodable: maps with string keys, slices, strings,
// integers, floats, booleans, byte slices, nil, and structs composed
// of those.
type ValueFunc func(b *Builder) (any, error)

// Args is the declared argument list of a cacheable operation. The
// arguments identify the operation in the cache, so a function must
// depend only on them and on tracked file-system state. Arguments
// must be canonically encodable; values that are not fail the
// operation with a programming-error kind at call time.
type Args []any

// Versions maps function names to version values. Changing a
// function's version invalidates all of its cache entries, and
// transitively the entries of every operation that invoked it.
type Versions map[string]any

// Builder is the handle a build function uses for all tracked
// file-system access and for invoking nested operations. Each
// function receives its own Builder and must not use another
// operation's; a Builder becomes invalid when its operation returns.
//
// A Builder may be shared across goroutines spawned by its own
// function, and distinct operations may run on distinct goroutines
// in parallel.
type Builder struct {
	session *session
	frame   *frame
}

// Build executes a build operation rooted at fn, using the cache
// file at cachePath. It is equivalent to BuildVersioned with no
// versions. buildName identifies the build type: reusing one cache
// file across different build types is rejected.
func Build(cachePath, buildName string, fn RootFunc) (any, error) {
	return BuildVersioned(cachePath, buildName, nil, fn)
}

// BuildVersioned executes a build operation rooted at fn.
//
// The observable behavior is: delete every output of the previous
// build, call fn, and if it succeeds commit the results to
// cachePath; if it fails, restore the file system and cache to the
// state the previous build left behind. Unchanged outputs are in
// reality carried over untouched, and operations whose recorded
// observations still hold are not re-invoked.
func BuildVersioned(cachePath, buildName string, versions Versions, fn RootFunc) (any, error) {
	s, err := newSession(cachePath, buildName, versions, slog.Default())
	if err != nil {
		return nil, err
	}

	root := &Builder{session: s, frame: newFrame("", "", nil)}
	value, err := fn(root)
	root.frame.finish()
	if err != nil {
		s.rollback()
		return nil, wrapKind(KindUserFunction, buildName, err)
	}
	if err := s.commit(); err != nil {
		s.rollback()
		return nil, err
	}
	return value, nil
}

// Clean removes everything the last build produced: its output
// files, any directories left empty by their removal, and the cache
// file itself. A missing cache file means there is nothing to clean.
// Clean is idempotent. Pass "" for buildName to skip the build-name
// check.
func Clean(cachePath, buildName string) error {
	logger := slog.Default()
	abs, err := filepath.Abs(cachePath)
	if err != nil {
		return &Error{Kind: KindFS, Op: cachePath, Err: err}
	}
	store := cachestore.NewFileStore(abs)

	if err := journal.Recover(store.JournalPath(), store.StagingDir(), logger); err != nil {
		return &Error{Kind: KindFS, Op: abs, Err: err}
	}

	state, err := store.Load()
	if err != nil {
		if errors.Is(err, cachestore.ErrCorrupt) {
			return &Error{Kind: KindCacheCorruption, Op: abs, Err: err}
		}
		return &Error{Kind: KindFS, Op: abs, Err: err}
	}
	if state == nil {
		return nil
	}
	if buildName != "" && state.BuildName != buildName {
		return programmingf(buildName,
			"cache file %s belongs to the build named %q", abs, state.BuildName)
	}

	var dirs []string
	for _, path := range state.Outputs {
		if path == abs {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				logger.Error("failed to remove output", "path", path, "error", err)
			}
			continue
		}
		logger.Info("removed output", "path", path)
		dirs = append(dirs, filepath.Dir(path))
	}
	pruneEmptyDirs(dirs, logger)

	if err := store.Delete(); err != nil {
		return &Error{Kind: KindFS, Op: abs, Err: err}
	}
	return store.Discard()
}

// opID derives the stable identity of a cacheable operation from its
// kind, function name, canonical argument encoding, and (for
// build-file operations) output path.
func (s *session) opID(kind cachestore.OpKind, funcName string, args Args, outputPath string) (cachestore.OpID, error) {
	encoded, err := codec.Marshal([]any(args))
	if err != nil {
		return cachestore.OpID{}, programmingf(funcName, "arguments are not encodable: %v", err)
	}
	return cachestore.OpID{
		Kind:       kind,
		Name:       funcName,
		ArgsSum:    fingerprint.Args(encoded),
		OutputPath: outputPath,
	}, nil
}

// BuildFile produces the output file at path by calling fn, unless
// the cached result from the previous build is still valid, in which
// case the existing file is carried over untouched.
//
// fn must write exactly one file, at the path it is given. Until fn
// returns, the file is invisible to every build function — it
// appears atomically with its final contents. Rebuilding a file that
// changes its bytes invalidates downstream entries; use
// [Builder.BuildFileWithComparison] to suppress that when a change
// is not semantically meaningful.
//
// Concurrent calls with the same identity coalesce into a single
// execution. Two operations with different identities producing the
// same path is a programming error.
func (b *Builder) BuildFile(path, funcName string, args Args, fn FileFunc) error {
	return b.BuildFileWithComparison(path, nil, funcName, args, fn)
}

// BuildFileWithComparison is BuildFile with a custom notion of
// output equality. After fn rebuilds the file, cmp compares the new
// output against the previous build's; if they are semantically
// equal, operations that depended on the output are not invalidated
// even though the bytes changed.
func (b *Builder) BuildFileWithComparison(path string, cmp Comparison, funcName string, args Args, fn FileFunc) error {
	path, err := b.prepare(path)
	if err != nil {
		return err
	}
	if path == b.session.cachePath {
		return programmingf(funcName, "build_file may not write to the cache file %s", path)
	}

	id, err := b.session.opID(cachestore.OpBuildFile, funcName, args, path)
	if err != nil {
		return err
	}
	if err := b.session.claimOutputPath(path, id.Key()); err != nil {
		return err
	}

	entry, err := b.session.dispatch(b.frame, id, func() (*cachestore.Entry, bool, error) {
		return b.session.runBuildFile(b.frame, id, cmp, fn)
	})
	if err != nil {
		b.frame.poison()
		return err
	}
	return b.frame.addChild(&cachestore.ChildRef{ID: id, Output: entry.Token})
}

// Subbuild computes an in-memory value by calling fn, unless the
// cached result from the previous build is still valid. The returned
// value is round-tripped through the canonical encoding, so a cache
// hit and a fresh execution yield identical shapes (maps decode as
// map[string]any, slices as []any, integers as int64 or uint64).
//
// Concurrent calls with the same function name and arguments
// coalesce into a single execution.
func (b *Builder) Subbuild(funcName string, args Args, fn ValueFunc) (any, error) {
	if err := b.frame.ensureActive(); err != nil {
		return nil, err
	}

	id, err := b.session.opID(cachestore.OpSubbuild, funcName, args, "")
	if err != nil {
		return nil, err
	}

	entry, err := b.session.dispatch(b.frame, id, func() (*cachestore.Entry, bool, error) {
		child := &Builder{
			session: b.session,
			frame:   newFrame(id.Key(), id.String(), b.frame),
		}
		value, err := fn(child)
		if err != nil {
			child.frame.finish()
			return nil, false, wrapKind(KindUserFunction, id.String(), err)
		}
		steps, cacheable := child.frame.seal()

		raw, err := codec.Marshal(value)
		if err != nil {
			return nil, false, programmingf(id.String(), "return value is not encodable: %v", err)
		}
		return &cachestore.Entry{
			ID:      id,
			Steps:   steps,
			Value:   raw,
			Version: b.session.versionRaw(funcName),
			BuildID: b.session.buildID,
		}, cacheable, nil
	})
	if err != nil {
		b.frame.poison()
		return nil, err
	}

	if err := b.frame.addChild(&cachestore.ChildRef{ID: id, Value: entry.Value}); err != nil {
		return nil, err
	}

	var decoded any
	if len(entry.Value) > 0 {
		if err := codec.Unmarshal(entry.Value, &decoded); err != nil {
			return nil, programmingf(id.String(), "decoding cached value: %v", err)
		}
	}
	return decoded, nil
}
