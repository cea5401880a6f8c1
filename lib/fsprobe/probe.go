// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package fsprobe

import (
	"github.com/btrekkie/file-builder/lib/fingerprint"
)

// Probe performs raw, read-only file-system observations. All
// operations are idempotent; none follow through to the engine's
// virtual overlay — the engine layers that on top.
//
// Two implementations exist: [OS], backed by the real file system,
// and [Mem], an in-memory tree for tests.
type Probe interface {
	// Exists reports whether path refers to an existing file or
	// directory. Broken symlinks report false.
	Exists(path string) (bool, error)

	// IsFile reports whether path refers to a regular file,
	// following symlinks.
	IsFile(path string) (bool, error)

	// IsDir reports whether path refers to a directory, following
	// symlinks.
	IsDir(path string) (bool, error)

	// ListDir returns the names of the direct children of dir in
	// lexicographic order. Names are single path components.
	ListDir(dir string) ([]string, error)

	// ReadBytes returns the contents of the file at path.
	ReadBytes(path string) ([]byte, error)

	// FingerprintFile returns the content fingerprint of the file at
	// path. Implementations may cache digests keyed by size and
	// modification time; the cache must not outlive the probe, so a
	// stale hint can never cross builds.
	FingerprintFile(path string) (fingerprint.Sum, error)

	// ReadSymlink returns the target of the symbolic link at path
	// without resolving it.
	ReadSymlink(path string) (string, error)
}
