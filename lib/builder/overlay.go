// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"path/filepath"
	"sort"
	"sync"
)

// overlay is the session's view adjustment over the real file system.
// It tracks three path sets:
//
//   - carryover: outputs of the previous build that this session has
//     not yet proven to survive. Physically present, virtually absent
//     — the clean-slate illusion says they were deleted before the
//     build began.
//   - pending: outputs a build-file operation is currently producing.
//     Hidden until the operation completes, so the file appears
//     atomically with its final contents.
//   - committed: outputs produced or revalidated this session.
//     Physically present and virtually visible.
//
// A query for a path in committed uses the disk state (the file is
// real); a query for a path in pending or carryover reports absence;
// anything else falls through to the probe.
type overlay struct {
	mu        sync.Mutex
	carryover map[string]bool
	pending   map[string]bool
	committed map[string]bool
}

func newOverlay(priorOutputs []string, cachePath string) *overlay {
	o := &overlay{
		carryover: make(map[string]bool, len(priorOutputs)),
		pending:   make(map[string]bool),
		committed: make(map[string]bool),
	}
	for _, path := range priorOutputs {
		// The cache file itself is infrastructure, not an output.
		if path != cachePath {
			o.carryover[path] = true
		}
	}
	return o
}

// visibility classifies a path for virtual queries.
type visibility int

const (
	visDisk    visibility = iota // no overlay opinion: ask the probe
	visHidden                    // virtually absent
	visPresent                   // a committed output: a regular file
)

func (o *overlay) lookup(path string) visibility {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.committed[path]:
		return visPresent
	case o.pending[path] || o.carryover[path]:
		return visHidden
	default:
		return visDisk
	}
}

// beginOutput marks a path as being produced. Reports false if the
// path is already pending or committed (a second producer).
func (o *overlay) beginOutput(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending[path] || o.committed[path] {
		return false
	}
	delete(o.carryover, path)
	o.pending[path] = true
	return true
}

// commitOutput moves a path from pending to committed.
func (o *overlay) commitOutput(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, path)
	o.committed[path] = true
}

// abortOutput drops a pending path after a failed build-file
// operation. The path stays virtually absent for the rest of the
// session (it is neither carryover nor committed).
func (o *overlay) abortOutput(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, path)
}

// consumeCarryover marks a prior-build output as surviving: its
// producing operation validated, so the on-disk file is adopted
// unchanged. Reports false if another operation already owns the
// path.
func (o *overlay) consumeCarryover(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending[path] || o.committed[path] {
		return false
	}
	delete(o.carryover, path)
	o.committed[path] = true
	return true
}

// filterListing removes virtually absent names from a directory's
// on-disk listing and merges in committed outputs that live directly
// under dir (they are on disk too, but merging keeps the listing
// correct if the probe raced a concurrent write). The result is
// sorted and deduplicated.
func (o *overlay) filterListing(dir string, names []string, join func(dir, name string) string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool, len(names))
	result := make([]string, 0, len(names))
	for _, name := range names {
		full := join(dir, name)
		if o.pending[full] || o.carryover[full] {
			continue
		}
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}
	for path := range o.committed {
		if filepath.Dir(path) != dir {
			continue
		}
		name := filepath.Base(path)
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// committedOutputs returns the committed output paths, sorted.
func (o *overlay) committedOutputs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	outputs := make([]string, 0, len(o.committed))
	for path := range o.committed {
		outputs = append(outputs, path)
	}
	sort.Strings(outputs)
	return outputs
}

// isCommitted reports whether a path is a committed output.
func (o *overlay) isCommitted(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.committed[path]
}
