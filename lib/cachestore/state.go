// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"fmt"

	"github.com/btrekkie/file-builder/lib/codec"
	"github.com/btrekkie/file-builder/lib/fingerprint"
)

// OpKind distinguishes the two kinds of cacheable operation.
type OpKind uint8

const (
	// OpSubbuild produces an in-memory value.
	OpSubbuild OpKind = iota + 1
	// OpBuildFile produces exactly one output file.
	OpBuildFile
)

// OpID is the stable identity of a cacheable operation: kind,
// function name, a digest over the deterministically encoded
// arguments, and (for build-file operations) the output path. The
// function version is not part of the identity; each Entry records
// its own.
type OpID struct {
	Kind       OpKind          `cbor:"kind"`
	Name       string          `cbor:"name"`
	ArgsSum    fingerprint.Sum `cbor:"args"`
	OutputPath string          `cbor:"output,omitempty"`
}

// Key returns a stable map key for the identity. The separator cannot
// appear in a function name or path, and ArgsSum is rendered in hex,
// so distinct identities never collide.
func (id OpID) Key() string {
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s", id.Kind, id.Name, id.ArgsSum, id.OutputPath)
}

func (id OpID) String() string {
	switch id.Kind {
	case OpBuildFile:
		return fmt.Sprintf("build_file %s (%s)", id.OutputPath, id.Name)
	case OpSubbuild:
		return fmt.Sprintf("subbuild %s", id.Name)
	}
	return fmt.Sprintf("op %s", id.Name)
}

// FactKind enumerates the closed set of replayable file-system
// observations. Type-only facts (FactIsFile, FactIsDir, FactAbsent)
// pin a path's type without pinning its contents, so an operation
// that merely asked "is this a file?" does not invalidate when the
// file's bytes change.
type FactKind uint8

const (
	// FactAbsent records that the path did not exist.
	FactAbsent FactKind = iota + 1
	// FactIsFile records that the path was a regular file.
	FactIsFile
	// FactIsDir records that the path was a directory.
	FactIsDir
	// FactContent records a regular file together with its content
	// fingerprint.
	FactContent
	// FactListing records a directory together with its ordered
	// child names.
	FactListing
	// FactSymlink records a symbolic link together with its literal
	// target string.
	FactSymlink
)

// FileFact is one observation about a path, recorded during an
// operation's execution and re-verified during validation. The
// validator replays facts in recorded order; the first fact that no
// longer holds invalidates the entry.
type FileFact struct {
	Kind     FactKind        `cbor:"kind"`
	Path     string          `cbor:"path"`
	Content  fingerprint.Sum `cbor:"content,omitempty"`
	Children []string        `cbor:"children,omitempty"`
	Target   string          `cbor:"target,omitempty"`
}

// ChildRef records one child-operation invocation inside a parent's
// step list: the child's identity plus the result the parent
// observed. For subbuilds the result is the encoded return value; for
// build-file children it is the output's content token (the file
// fingerprint, except where a comparison suppressed a change).
type ChildRef struct {
	ID     OpID             `cbor:"id"`
	Value  codec.RawMessage `cbor:"value,omitempty"`
	Output fingerprint.Sum  `cbor:"fp,omitempty"`
}

// Step is one element of an operation's recorded execution: either a
// file-system fact or a child-operation invocation. Exactly one field
// is set. Order is program order — an earlier step's answer may
// control whether a later step happens at all, so validation must
// replay in sequence.
type Step struct {
	Fact  *FileFact `cbor:"fact,omitempty"`
	Child *ChildRef `cbor:"child,omitempty"`
}

// Entry is the persisted record of one successful operation. Failed
// operations are never persisted: an exception cannot be replayed, so
// there is nothing to reuse.
//
// For build-file operations Output is the fingerprint of the bytes on
// disk and Token is the content token dependents observe. The two
// differ only when a comparison judged a rebuilt output semantically
// equal to its predecessor, in which case Token keeps its previous
// value so downstream entries do not invalidate.
type Entry struct {
	ID      OpID             `cbor:"id"`
	Steps   []Step           `cbor:"steps,omitempty"`
	Value   codec.RawMessage `cbor:"value,omitempty"`
	Output  fingerprint.Sum  `cbor:"fp,omitempty"`
	Token   fingerprint.Sum  `cbor:"token,omitempty"`
	Version codec.RawMessage `cbor:"version,omitempty"`
	BuildID string           `cbor:"build"`
}

// State is the union of all cache entries surviving from one
// completed build, plus the output paths that build produced (so the
// next build can delete whatever it orphans).
type State struct {
	BuildName string                      `cbor:"name"`
	BuildID   string                      `cbor:"id"`
	Versions  map[string]codec.RawMessage `cbor:"versions,omitempty"`
	Entries   map[string]*Entry           `cbor:"entries,omitempty"`
	Outputs   []string                    `cbor:"outputs,omitempty"`
}

// NewState returns an empty state for the named build.
func NewState(buildName, buildID string) *State {
	return &State{
		BuildName: buildName,
		BuildID:   buildID,
		Versions:  make(map[string]codec.RawMessage),
		Entries:   make(map[string]*Entry),
	}
}

// Entry returns the entry for the given identity, or nil.
func (s *State) Entry(id OpID) *Entry {
	return s.Entries[id.Key()]
}

// Version returns the recorded version for a function name, or nil
// bytes if none was set.
func (s *State) Version(funcName string) codec.RawMessage {
	return s.Versions[funcName]
}
