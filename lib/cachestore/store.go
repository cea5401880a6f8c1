// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btrekkie/file-builder/lib/codec"
)

// Snapshot file framing. The magic embeds the format version: any
// schema change bumps the final byte, and an unknown version is
// treated as an empty cache rather than misinterpreted. The footer is
// the completion marker — a file without it was never sealed.
var (
	fileMagic  = []byte("fbcache\x01")
	fileFooter = []byte("fbdone\x00\x01")
)

// ErrCorrupt reports that the cache backing exists but cannot be
// trusted: bad framing, an undecodable body, or a schema this version
// does not understand. Callers recover by treating the cache as empty
// and rebuilding from scratch.
var ErrCorrupt = errors.New("cache snapshot is corrupt or has an unknown format")

// Store persists build state across runs. Implementations:
// [FileStore] for production, and any test double satisfying the same
// contract.
type Store interface {
	// Load reads the last committed state. A missing backing returns
	// (nil, nil). An unreadable or unsealed backing returns
	// ErrCorrupt (possibly wrapped).
	Load() (*State, error)

	// Begin prepares session-scoped scratch storage for the given
	// build. It must be called before any output file is displaced.
	Begin(buildID string) error

	// Commit atomically replaces the persisted state and removes the
	// session scratch storage. A crash at any point leaves either
	// the old state or the new state, never a torn file.
	Commit(state *State) error

	// Discard abandons the session scratch storage without touching
	// the persisted state.
	Discard() error
}

// FileStore persists the build state as a single snapshot file at a
// caller-chosen path. The session staging area (used by the rollback
// journal for displaced files) lives alongside it.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the snapshot file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// StagingDir returns the session staging area created by Begin.
func (s *FileStore) StagingDir() string { return s.path + ".staging" }

// JournalPath returns the rollback journal path associated with this
// store.
func (s *FileStore) JournalPath() string { return s.path + ".journal" }

func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache snapshot: %w", err)
	}

	if len(data) < len(fileMagic)+len(fileFooter) {
		return nil, fmt.Errorf("%w: snapshot too short", ErrCorrupt)
	}
	if !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if !bytes.Equal(data[len(data)-len(fileFooter):], fileFooter) {
		return nil, fmt.Errorf("%w: missing completion marker", ErrCorrupt)
	}

	body := data[len(fileMagic) : len(data)-len(fileFooter)]
	var state State
	if err := codec.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if state.Versions == nil {
		state.Versions = make(map[string]codec.RawMessage)
	}
	if state.Entries == nil {
		state.Entries = make(map[string]*Entry)
	}
	return &state, nil
}

func (s *FileStore) Begin(buildID string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.MkdirAll(s.StagingDir(), 0o755); err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}
	return nil
}

func (s *FileStore) Commit(state *State) error {
	body, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding cache snapshot: %w", err)
	}

	// Write-to-temp-then-rename in the target directory so the
	// rename is a same-filesystem atomic replacement.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".fbcache-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	for _, chunk := range [][]byte{fileMagic, body, fileFooter} {
		if _, err := tmp.Write(chunk); err != nil {
			tmp.Close()
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	// The snapshot is committed; a failure to clear the staging area
	// must not be reported as a failed commit. A leftover staging
	// directory is reused by the next Begin and removed by that
	// session's Commit or Discard.
	_ = s.Discard()
	return nil
}

func (s *FileStore) Discard() error {
	if err := os.RemoveAll(s.StagingDir()); err != nil {
		return fmt.Errorf("removing staging area: %w", err)
	}
	return nil
}

// Delete removes the snapshot file itself. Used by clean.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache snapshot: %w", err)
	}
	return nil
}
