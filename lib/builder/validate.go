// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"bytes"
	"slices"

	"github.com/btrekkie/file-builder/lib/cachestore"
)

// validateEntry replays a prior-build cache entry against the current
// virtual file system. Steps are replayed in recorded order; the
// first divergence short-circuits. Child operations are recursively
// validated (never run — running needs the user function, which only
// a fresh execution of the parent can supply; if a child does not
// validate, the parent re-runs and invokes it for real).
//
// A validated build-file entry additionally requires the on-disk
// output to match the recorded fingerprint, at which point the output
// is adopted as a surviving carryover.
func (s *session) validateEntry(entry *cachestore.Entry, stack map[string]bool) bool {
	if !bytes.Equal(entry.Version, s.versionRaw(entry.ID.Name)) {
		return false
	}

	for i := range entry.Steps {
		step := &entry.Steps[i]
		switch {
		case step.Fact != nil:
			if !s.factHolds(step.Fact) {
				return false
			}
		case step.Child != nil:
			childEntry, ok := s.validateChild(step.Child.ID, stack)
			if !ok {
				return false
			}
			if !bytes.Equal(childEntry.Value, step.Child.Value) {
				return false
			}
			if childEntry.Token != step.Child.Output {
				return false
			}
		}
	}

	if entry.ID.Kind == cachestore.OpBuildFile {
		path := entry.ID.OutputPath
		sum, err := s.probe.FingerprintFile(path)
		if err != nil || sum != entry.Output {
			return false
		}
		if !s.overlay.consumeCarryover(path) {
			return false
		}
	}
	return true
}

// factHolds re-verifies one recorded observation against the current
// virtual view, using the same probes that recorded it.
func (s *session) factHolds(fact *cachestore.FileFact) bool {
	switch fact.Kind {
	case cachestore.FactAbsent, cachestore.FactIsFile, cachestore.FactIsDir:
		kind, err := s.virtualType(fact.Path)
		return err == nil && kind == fact.Kind

	case cachestore.FactContent:
		kind, err := s.virtualType(fact.Path)
		if err != nil || kind != cachestore.FactIsFile {
			return false
		}
		sum, err := s.virtualContent(fact.Path)
		return err == nil && sum == fact.Content

	case cachestore.FactListing:
		kind, err := s.virtualType(fact.Path)
		if err != nil || kind != cachestore.FactIsDir {
			return false
		}
		names, err := s.virtualListing(fact.Path)
		return err == nil && slices.Equal(names, fact.Children)

	case cachestore.FactSymlink:
		target, err := s.probe.ReadSymlink(fact.Path)
		return err == nil && target == fact.Target
	}
	return false
}

// validateChild attempts to validate a child operation referenced by
// a parent entry, going through the per-operation state so that a
// concurrent real invocation of the same operation is coordinated
// rather than raced. If the child cannot be validated it is left
// unvisited — the parent will re-run and invoke it with its real
// function.
//
// stack holds the operation keys currently being validated on this
// call chain; a recorded entry graph that references itself (only
// possible with a tampered cache) is rejected instead of recursing
// forever.
func (s *session) validateChild(id cachestore.OpID, stack map[string]bool) (*cachestore.Entry, bool) {
	key := id.Key()
	if stack[key] {
		return nil, false
	}

	op := s.opFor(id)

	op.mu.Lock()
	defer op.mu.Unlock()

	switch op.status {
	case statusDone, statusHit:
		return op.entry, true
	case statusFailed:
		return nil, false
	}

	if s.old == nil {
		return nil, false
	}
	entry := s.old.Entry(id)
	if entry == nil {
		return nil, false
	}

	op.status = statusValidating
	stack[key] = true
	valid := s.validateEntry(entry, stack)
	delete(stack, key)
	if valid {
		op.status = statusHit
		op.entry = entry
		s.persist(entry)
		return entry, true
	}
	op.status = statusUnvisited
	return nil, false
}
