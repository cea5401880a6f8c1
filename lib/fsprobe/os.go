// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package fsprobe

import (
	"os"
	"sort"
	"sync"

	"github.com/btrekkie/file-builder/lib/fingerprint"
)

// OS is the production Probe backed by the real file system.
//
// FingerprintFile memoizes digests keyed by (size, mtime). The memo
// is scoped to the probe instance: the engine creates a fresh probe
// per build session, so the mtime hint only short-circuits repeat
// hashing within one build. Across builds every file is re-hashed,
// and content equality is always decided by the digest, never by the
// metadata alone.
type OS struct {
	mu     sync.Mutex
	hashes map[string]cachedSum
}

type cachedSum struct {
	size    int64
	mtimeNs int64
	sum     fingerprint.Sum
}

// NewOS returns a Probe backed by the real file system.
func NewOS() *OS {
	return &OS{hashes: make(map[string]cachedSum)}
}

func (p *OS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *OS) IsFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (p *OS) IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (p *OS) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	// os.ReadDir sorts, but the ordering contract is ours, not the
	// platform's.
	sort.Strings(names)
	return names, nil
}

func (p *OS) ReadBytes(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (p *OS) FingerprintFile(path string) (fingerprint.Sum, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint.Sum{}, err
	}
	size := info.Size()
	mtimeNs := info.ModTime().UnixNano()

	p.mu.Lock()
	cached, ok := p.hashes[path]
	p.mu.Unlock()
	if ok && cached.size == size && cached.mtimeNs == mtimeNs {
		return cached.sum, nil
	}

	sum, err := fingerprint.File(path)
	if err != nil {
		return fingerprint.Sum{}, err
	}

	p.mu.Lock()
	p.hashes[path] = cachedSum{size: size, mtimeNs: mtimeNs, sum: sum}
	p.mu.Unlock()
	return sum, nil
}

func (p *OS) ReadSymlink(path string) (string, error) {
	return os.Readlink(path)
}
