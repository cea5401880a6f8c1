// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"sync"

	"github.com/btrekkie/file-builder/lib/cachestore"
)

// frame accumulates the observations of one in-flight operation: an
// ordered list of file-system facts and child-operation invocations,
// in program order. When the operation completes, the step list is
// sealed into a cache entry candidate. Ordering is preserved because
// validation replays the same probes in the same order — an earlier
// probe's answer may control whether a later probe happens at all.
//
// The root build has a frame too (for cycle detection and the
// finished check), but its steps are discarded: the top-level build
// is not cacheable.
type frame struct {
	mu       sync.Mutex
	opKey    string // "" for the root build
	opLabel  string // for error messages
	parent   *frame
	steps    []cachestore.Step
	finished bool

	// poisoned marks the frame non-cacheable: a child operation
	// failed (even if the function caught the error), or a probe
	// failed in a way that cannot be replayed. The operation may
	// still succeed, but its entry is not persisted.
	poisoned bool
}

func newFrame(opKey, opLabel string, parent *frame) *frame {
	return &frame{opKey: opKey, opLabel: opLabel, parent: parent}
}

// onStack reports whether key identifies this frame or any ancestor.
// Used to reject cyclic operation graphs.
func (f *frame) onStack(key string) bool {
	for cur := f; cur != nil; cur = cur.parent {
		if cur.opKey != "" && cur.opKey == key {
			return true
		}
	}
	return false
}

func (f *frame) addFact(fact *cachestore.FileFact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return f.finishedErrLocked()
	}
	f.steps = append(f.steps, cachestore.Step{Fact: fact})
	return nil
}

func (f *frame) addChild(child *cachestore.ChildRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return f.finishedErrLocked()
	}
	f.steps = append(f.steps, cachestore.Step{Child: child})
	return nil
}

// ensureActive fails if the frame's operation has already finished.
// Build functions must not retain and use a builder past their own
// return.
func (f *frame) ensureActive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return f.finishedErrLocked()
	}
	return nil
}

func (f *frame) finishedErrLocked() error {
	label := f.opLabel
	if label == "" {
		label = "the build function"
	}
	return programmingf(label, "builder used after its operation finished")
}

func (f *frame) finish() {
	f.mu.Lock()
	f.finished = true
	f.mu.Unlock()
}

func (f *frame) poison() {
	f.mu.Lock()
	f.poisoned = true
	f.mu.Unlock()
}

// seal returns the recorded steps and whether the frame is cacheable.
func (f *frame) seal() ([]cachestore.Step, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = true
	return f.steps, !f.poisoned
}
