// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package fsprobe

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"

	"github.com/btrekkie/file-builder/lib/fingerprint"
)

// Mem is an in-memory Probe for tests. Paths are slash-separated and
// absolute; they are cleaned on every call, so "/in//a.txt" and
// "/in/a.txt" are the same file. The root "/" always exists as a
// directory.
//
// Mem is safe for concurrent use.
type Mem struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	symlinks map[string]string
}

// NewMem returns an empty in-memory probe.
func NewMem() *Mem {
	return &Mem{
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		symlinks: make(map[string]string),
	}
}

// WriteFile stores data at path, creating parent directories.
func (p *Mem) WriteFile(filePath string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	filePath = path.Clean(filePath)
	p.mkdirAllLocked(path.Dir(filePath))
	p.files[filePath] = append([]byte(nil), data...)
}

// Mkdir creates a directory (and parents) at dirPath.
func (p *Mem) Mkdir(dirPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mkdirAllLocked(path.Clean(dirPath))
}

// Symlink records a symbolic link at linkPath pointing at target.
func (p *Mem) Symlink(target, linkPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	linkPath = path.Clean(linkPath)
	p.mkdirAllLocked(path.Dir(linkPath))
	p.symlinks[linkPath] = target
}

// Remove deletes the file, symlink, or (recursively) directory at
// the given path.
func (p *Mem) Remove(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target = path.Clean(target)
	delete(p.files, target)
	delete(p.symlinks, target)
	delete(p.dirs, target)
	prefix := target + "/"
	for name := range p.files {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			delete(p.files, name)
		}
	}
	for name := range p.dirs {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			delete(p.dirs, name)
		}
	}
	for name := range p.symlinks {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			delete(p.symlinks, name)
		}
	}
}

func (p *Mem) mkdirAllLocked(dirPath string) {
	for dirPath != "/" && dirPath != "." {
		p.dirs[dirPath] = true
		dirPath = path.Dir(dirPath)
	}
}

// resolveLocked follows symlinks at the final component, bounded so
// that link cycles terminate.
func (p *Mem) resolveLocked(target string) string {
	for hops := 0; hops < 16; hops++ {
		linkTarget, ok := p.symlinks[target]
		if !ok {
			return target
		}
		if !path.IsAbs(linkTarget) {
			linkTarget = path.Join(path.Dir(target), linkTarget)
		}
		target = path.Clean(linkTarget)
	}
	return target
}

func (p *Mem) Exists(filePath string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resolved := p.resolveLocked(path.Clean(filePath))
	if _, ok := p.files[resolved]; ok {
		return true, nil
	}
	return p.dirs[resolved], nil
}

func (p *Mem) IsFile(filePath string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resolved := p.resolveLocked(path.Clean(filePath))
	_, ok := p.files[resolved]
	return ok, nil
}

func (p *Mem) IsDir(filePath string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resolved := p.resolveLocked(path.Clean(filePath))
	return p.dirs[resolved], nil
}

func (p *Mem) ListDir(dir string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dir = p.resolveLocked(path.Clean(dir))
	if !p.dirs[dir] {
		if _, ok := p.files[dir]; ok {
			return nil, fmt.Errorf("listing %s: %w", dir, fs.ErrInvalid)
		}
		return nil, fmt.Errorf("listing %s: %w", dir, fs.ErrNotExist)
	}

	seen := make(map[string]bool)
	collect := func(name string) {
		if path.Dir(name) == dir {
			seen[path.Base(name)] = true
		}
	}
	for name := range p.files {
		collect(name)
	}
	for name := range p.dirs {
		if name != "/" {
			collect(name)
		}
	}
	for name := range p.symlinks {
		collect(name)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Mem) ReadBytes(filePath string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resolved := p.resolveLocked(path.Clean(filePath))
	data, ok := p.files[resolved]
	if !ok {
		if p.dirs[resolved] {
			return nil, fmt.Errorf("reading %s: %w", filePath, fs.ErrInvalid)
		}
		return nil, fmt.Errorf("reading %s: %w", filePath, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (p *Mem) FingerprintFile(filePath string) (fingerprint.Sum, error) {
	data, err := p.ReadBytes(filePath)
	if err != nil {
		return fingerprint.Sum{}, err
	}
	return fingerprint.Content(data), nil
}

func (p *Mem) ReadSymlink(filePath string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.symlinks[path.Clean(filePath)]
	if !ok {
		return "", fmt.Errorf("readlink %s: %w", filePath, fs.ErrInvalid)
	}
	return target, nil
}
