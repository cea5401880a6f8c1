// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/btrekkie/file-builder/lib/cachestore"
	"github.com/btrekkie/file-builder/lib/codec"
	"github.com/btrekkie/file-builder/lib/fingerprint"
	"github.com/btrekkie/file-builder/lib/fsprobe"
	"github.com/btrekkie/file-builder/lib/journal"
)

// opStatus is the per-operation state machine within a session:
//
//	unvisited → validating → {hit | running} → {done | failed}
//
// Only one goroutine may hold validating/running for a given
// operation; others block on the operation's mutex and observe the
// terminal state when it is released.
type opStatus uint8

const (
	statusUnvisited opStatus = iota
	statusValidating
	statusRunning
	statusHit
	statusDone
	statusFailed
)

// opState is the session-scoped record of one operation identity.
// Its mutex provides single-flight execution: concurrent requests
// for the same identity serialize here, and all but the first
// observe the memoized outcome.
type opState struct {
	mu     sync.Mutex
	id     cachestore.OpID
	status opStatus
	entry  *cachestore.Entry
	err    error
}

// session is the runtime state of one top-level build.
type session struct {
	probe   fsprobe.Probe
	store   *cachestore.FileStore
	journal *journal.Journal
	logger  *slog.Logger
	overlay *overlay

	buildName string
	buildID   string
	cachePath string

	old      *cachestore.State // prior build, nil on first build
	versions map[string]codec.RawMessage

	// mu guards the maps below. It is held only for brief map
	// updates; probes and user functions run outside it.
	mu          sync.Mutex
	ops         map[string]*opState
	outputOwner map[string]string // output path → OpID key
	entries     map[string]*cachestore.Entry
	createdDirs []string
}

func newBuildID() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("builder: reading random build id: " + err.Error())
	}
	return hex.EncodeToString(raw[:])
}

// newSession recovers any interrupted build at the cache path, loads
// the prior state, and opens the journal and staging area for a new
// build.
func newSession(cachePath, buildName string, versions Versions, logger *slog.Logger) (*session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(cachePath)
	if err != nil {
		return nil, &Error{Kind: KindFS, Op: cachePath, Err: err}
	}
	cachePath = abs
	store := cachestore.NewFileStore(cachePath)

	// A crash during a previous build leaves a journal behind; roll
	// it back before observing anything.
	if err := journal.Recover(store.JournalPath(), store.StagingDir(), logger); err != nil {
		return nil, &Error{Kind: KindFS, Op: cachePath, Err: err}
	}

	old, err := store.Load()
	if err != nil {
		if !errors.Is(err, cachestore.ErrCorrupt) {
			return nil, &Error{Kind: KindFS, Op: cachePath, Err: err}
		}
		logger.Warn("cache snapshot is corrupt, rebuilding from scratch",
			"cache", cachePath, "error", err)
		old = nil
	}
	if old != nil && old.BuildName != buildName {
		return nil, programmingf(buildName,
			"cache file %s belongs to the build named %q", cachePath, old.BuildName)
	}

	encoded := make(map[string]codec.RawMessage, len(versions))
	for name, version := range versions {
		raw, err := codec.Marshal(version)
		if err != nil {
			return nil, programmingf(name, "function version is not encodable: %v", err)
		}
		encoded[name] = raw
	}

	buildID := newBuildID()
	if err := store.Begin(buildID); err != nil {
		return nil, &Error{Kind: KindFS, Op: cachePath, Err: err}
	}
	sessionJournal, err := journal.Open(store.JournalPath(), store.StagingDir(), logger)
	if err != nil {
		return nil, &Error{Kind: KindFS, Op: cachePath, Err: err}
	}

	var priorOutputs []string
	if old != nil {
		priorOutputs = old.Outputs
	}

	return &session{
		probe:       fsprobe.NewOS(),
		store:       store,
		journal:     sessionJournal,
		logger:      logger,
		overlay:     newOverlay(priorOutputs, cachePath),
		buildName:   buildName,
		buildID:     buildID,
		cachePath:   cachePath,
		old:         old,
		versions:    encoded,
		ops:         make(map[string]*opState),
		outputOwner: make(map[string]string),
		entries:     make(map[string]*cachestore.Entry),
	}, nil
}

// versionRaw returns the canonical encoding of a function's version,
// or nil if none was supplied.
func (s *session) versionRaw(funcName string) codec.RawMessage {
	return s.versions[funcName]
}

// opFor returns the session-scoped state for an operation identity,
// creating it on first use.
func (s *session) opFor(id cachestore.OpID) *opState {
	key := id.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.ops[key]
	if op == nil {
		op = &opState{id: id}
		s.ops[key] = op
	}
	return op
}

// persist records an entry for inclusion in the committed state.
// Validated entries are persisted as-is (their creation build id is
// preserved); fresh entries carry the current build id.
func (s *session) persist(entry *cachestore.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID.Key()] = entry
}

// contentToken maps a committed output's on-disk fingerprint to the
// content token its producing operation published. When a comparison
// judged a rebuilt output semantically unchanged, the token is the
// previous build's, so readers of the file do not observe a change.
// For any other path the digest passes through unchanged.
func (s *session) contentToken(path string, sum fingerprint.Sum) fingerprint.Sum {
	s.mu.Lock()
	key, ok := s.outputOwner[path]
	var op *opState
	if ok {
		op = s.ops[key]
	}
	s.mu.Unlock()
	if op == nil {
		return sum
	}

	// The output is committed, so the producing operation is in a
	// terminal state and its entry is stable.
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.entry != nil && op.entry.Output == sum && !op.entry.Token.IsZero() {
		return op.entry.Token
	}
	return sum
}

// claimOutputPath enforces exclusive ownership of an output path by
// one operation identity per session.
func (s *session) claimOutputPath(path, opKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.outputOwner[path]
	if ok && owner != opKey {
		return programmingf(path, "two build_file operations produce the same path")
	}
	s.outputOwner[path] = opKey
	return nil
}

// dispatch coordinates one operation identity: single-flight
// execution, cache validation, and memoization of the outcome.
// execute runs the user function and seals a fresh entry; it is only
// called when no prior entry validates. cacheable=false entries are
// memoized for the session but not persisted.
func (s *session) dispatch(parent *frame, id cachestore.OpID,
	execute func() (*cachestore.Entry, bool, error)) (*cachestore.Entry, error) {

	key := id.Key()
	if parent.onStack(key) {
		return nil, programmingf(id.String(), "operation is already in flight on this call stack")
	}

	op := s.opFor(id)
	op.mu.Lock()
	defer op.mu.Unlock()

	switch op.status {
	case statusDone, statusHit:
		return op.entry, nil
	case statusFailed:
		return nil, op.err
	}

	op.status = statusValidating
	if s.old != nil {
		if entry := s.old.Entry(id); entry != nil {
			stack := map[string]bool{key: true}
			if s.validateEntry(entry, stack) {
				op.status = statusHit
				op.entry = entry
				s.persist(entry)
				s.logger.Debug("cache hit", "op", id.String())
				return entry, nil
			}
		}
	}

	op.status = statusRunning
	entry, cacheable, err := execute()
	if err != nil {
		op.status = statusFailed
		op.err = err
		return nil, err
	}
	op.status = statusDone
	op.entry = entry
	if cacheable {
		s.persist(entry)
	}
	return entry, nil
}

// makeDirs creates the parent directories of an output path,
// remembering which ones it actually created so a rollback can prune
// them again.
func (s *session) makeDirs(dir string) error {
	var missing []string
	for cur := dir; ; {
		exists, err := s.probe.IsDir(cur)
		if err != nil {
			return err
		}
		if exists {
			break
		}
		missing = append(missing, cur)
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	if len(missing) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s.mu.Lock()
	s.createdDirs = append(s.createdDirs, missing...)
	s.mu.Unlock()
	return nil
}

// runBuildFile executes a build-file function: prepare the output
// location, displace whatever is there, run the function, and
// fingerprint the result. If the output changes under the engine
// between observation and use, the operation is retried once before
// the divergence is surfaced.
func (s *session) runBuildFile(parent *frame, id cachestore.OpID,
	cmp Comparison, fn FileFunc) (*cachestore.Entry, bool, error) {

	path := id.OutputPath
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		entry, cacheable, err := s.runBuildFileOnce(parent, id, cmp, fn)
		if err == nil {
			return entry, cacheable, nil
		}
		lastErr = err
		if KindOf(err) != KindConcurrentMutation {
			return nil, false, err
		}
		s.logger.Warn("output changed between observation and use, retrying",
			"path", path)
	}
	return nil, false, lastErr
}

func (s *session) runBuildFileOnce(parent *frame, id cachestore.OpID,
	cmp Comparison, fn FileFunc) (*cachestore.Entry, bool, error) {

	path := id.OutputPath
	if !s.overlay.beginOutput(path) {
		return nil, false, programmingf(path, "output path is owned by another operation")
	}

	fail := func(err error) (*cachestore.Entry, bool, error) {
		// Remove any partial output; the path stays virtually absent
		// for the rest of the session.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Error("failed to remove partial output", "path", path, "error", err)
		}
		s.overlay.abortOutput(path)
		return nil, false, err
	}

	if err := s.makeDirs(filepath.Dir(path)); err != nil {
		return fail(&Error{Kind: KindFS, Op: path, Err: err})
	}

	// Move any existing file out of the way before the function
	// writes. This both preserves a displaced original for rollback
	// and guarantees the function starts from a clean slate.
	staged, err := s.journal.Displace(path)
	if err != nil {
		return fail(&Error{Kind: KindFS, Op: path, Err: err})
	}

	child := &Builder{
		session: s,
		frame:   newFrame(id.Key(), id.String(), parent),
	}
	if err := fn(child, path); err != nil {
		child.frame.finish()
		return fail(wrapKind(KindUserFunction, id.String(), err))
	}
	steps, cacheable := child.frame.seal()

	sum, err := fingerprint.File(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(programmingf(id.String(), "function did not create %s", path))
		}
		return fail(&Error{Kind: KindFS, Op: path, Err: err})
	}

	// Double-check: if the file no longer matches what was just
	// hashed, something mutated it between observation and use.
	again, err := fingerprint.File(path)
	if err != nil || again != sum {
		return fail(&Error{Kind: KindConcurrentMutation, Op: path,
			Err: fmt.Errorf("output changed immediately after being written")})
	}

	// The content token dependents observe. A comparison may decide
	// the rebuilt output is semantically equal to its predecessor,
	// in which case the previous token is kept and downstream
	// entries do not invalidate.
	token := sum
	if cmp != nil && staged != "" && s.old != nil {
		if prior := s.old.Entry(id); prior != nil {
			equal, err := cmp.Equal(staged, path)
			if err != nil {
				return fail(wrapKind(KindUserFunction, id.String(),
					fmt.Errorf("comparing outputs: %w", err)))
			}
			if equal {
				token = prior.Token
			}
		}
	}

	s.overlay.commitOutput(path)
	return &cachestore.Entry{
		ID:      id,
		Steps:   steps,
		Output:  sum,
		Token:   token,
		Version: s.versionRaw(id.Name),
		BuildID: s.buildID,
	}, cacheable, nil
}

// commit finalizes a successful build: the new state is atomically
// written first, then orphaned outputs from the previous build are
// deleted and the directories their removal emptied are pruned.
func (s *session) commit() error {
	committed := s.overlay.committedOutputs()

	state := cachestore.NewState(s.buildName, s.buildID)
	state.Versions = s.versions
	state.Outputs = committed
	s.mu.Lock()
	for key, entry := range s.entries {
		state.Entries[key] = entry
	}
	s.mu.Unlock()

	// Seal the snapshot before anything irreversible: if the commit
	// fails, the journal (and the staging area it references) is
	// still intact for the caller's rollback, and no orphan has been
	// deleted yet.
	if err := s.store.Commit(state); err != nil {
		return &Error{Kind: KindFS, Op: s.cachePath, Err: err}
	}
	if err := s.journal.Close(); err != nil {
		s.logger.Error("failed to remove journal after commit", "error", err)
	}

	// Delete prior-build outputs that no operation claimed this
	// session, then prune directories their removal emptied.
	isCommitted := make(map[string]bool, len(committed))
	for _, path := range committed {
		isCommitted[path] = true
	}
	var orphanDirs []string
	if s.old != nil {
		for _, path := range s.old.Outputs {
			if isCommitted[path] || path == s.cachePath {
				continue
			}
			if err := os.Remove(path); err != nil {
				if !os.IsNotExist(err) {
					s.logger.Error("failed to remove orphaned output", "path", path, "error", err)
				}
				continue
			}
			s.logger.Info("removed orphaned output", "path", path)
			orphanDirs = append(orphanDirs, filepath.Dir(path))
		}
	}
	pruneEmptyDirs(orphanDirs, s.logger)

	s.logger.Info("committed build", "cache", s.cachePath,
		"outputs", len(committed), "entries", len(state.Entries))
	return nil
}

// rollback restores the pre-build file system state after a failed
// build: journal records are replayed, directories created for
// outputs are pruned, and the staging area is discarded. The cache
// snapshot was never touched, so it needs no restoration.
func (s *session) rollback() {
	s.logger.Warn("rolling back build", "cache", s.cachePath)
	s.journal.Restore()

	s.mu.Lock()
	created := append([]string(nil), s.createdDirs...)
	s.mu.Unlock()
	pruneEmptyDirs(created, s.logger)

	if err := s.journal.Close(); err != nil {
		s.logger.Error("failed to close journal during rollback", "error", err)
	}
	if err := s.store.Discard(); err != nil {
		s.logger.Error("failed to discard staging area during rollback", "error", err)
	}
}

// pruneEmptyDirs removes any of the given directories that are now
// empty, deepest first. Non-empty directories are silently kept.
func pruneEmptyDirs(dirs []string, logger *slog.Logger) {
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if err := os.Remove(dir); err == nil {
			logger.Info("removed empty directory", "path", dir)
		}
	}
}
