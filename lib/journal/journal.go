// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal tracks the output files written during a build and
// the originals they displaced, so that a failed (or crashed) build
// can be rolled back to the previous build's on-disk state.
package journal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/btrekkie/file-builder/lib/codec"
)

// record is one journal entry, appended before the corresponding
// write happens. Staged == "" means there was no original at Path: on
// rollback the path is deleted rather than restored.
type record struct {
	Path   string `cbor:"path"`
	Staged string `cbor:"staged,omitempty"`
}

// Journal stages displaced originals under a session staging
// directory and logs every displacement durably before the
// displacing write proceeds. A crash mid-build leaves a journal file
// behind; [Recover] replays it on the next start-up before any new
// work begins.
type Journal struct {
	mu         sync.Mutex
	stagingDir string
	logPath    string
	logFile    *os.File
	encoder    *codec.Encoder
	records    []record
	nextIndex  int
	logger     *slog.Logger
}

// Open creates a journal logging to logPath with displaced files
// staged under stagingDir. Both parent directories must exist. An
// existing journal at logPath is an error — the caller must run
// Recover first.
func Open(logPath, stagingDir string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating rollback journal: %w", err)
	}
	return &Journal{
		stagingDir: stagingDir,
		logPath:    logPath,
		logFile:    logFile,
		encoder:    codec.NewEncoder(logFile),
		logger:     logger,
	}, nil
}

// Displace prepares the given output path for writing. If a file
// already exists there it is moved into the staging area; either way
// a journal record is durably appended before this returns, so the
// displacement can be undone after a crash. Returns the staged
// location of the original, or "" if no original existed.
func (j *Journal) Displace(path string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	index := j.nextIndex
	j.nextIndex++
	staged := filepath.Join(j.stagingDir, fmt.Sprintf("file_%x", index))

	if err := os.Rename(path, staged); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("staging %s: %w", path, err)
		}
		staged = ""
	}

	rec := record{Path: path, Staged: staged}
	if err := j.encoder.Encode(rec); err != nil {
		return "", fmt.Errorf("appending journal record: %w", err)
	}
	if err := j.logFile.Sync(); err != nil {
		return "", fmt.Errorf("syncing journal: %w", err)
	}
	j.records = append(j.records, rec)
	return staged, nil
}

// Restore rolls back every recorded displacement, most recent first:
// staged originals move back into place and paths with no original
// are deleted. Individual failures are logged and skipped so one bad
// path does not strand the rest.
func (j *Journal) Restore() {
	j.mu.Lock()
	records := j.records
	j.records = nil
	j.mu.Unlock()

	restoreRecords(records, j.logger)
}

// Close finalizes the journal after a successful commit: the log file
// is removed and staged originals are abandoned to the staging area's
// removal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.logFile.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	if err := os.Remove(j.logPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing journal: %w", err)
	}
	return nil
}

// Recover rolls back an interrupted build, if any. If a journal file
// exists at logPath, its records are replayed (tolerating a torn
// final record from a mid-append crash), then the journal and staging
// area are removed. Recover is idempotent and must run before any new
// build work against the same cache.
func Recover(logPath, stagingDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	logFile, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening rollback journal: %w", err)
	}

	var records []record
	decoder := codec.NewDecoder(logFile)
	for {
		var rec record
		if err := decoder.Decode(&rec); err != nil {
			// A decode failure mid-stream is a torn tail from a
			// crash during append; everything before it is valid.
			if !errors.Is(err, io.EOF) {
				logger.Warn("rollback journal has a torn final record",
					"journal", logPath, "error", err)
			}
			break
		}
		records = append(records, rec)
	}
	logFile.Close()

	logger.Info("recovering interrupted build", "journal", logPath, "records", len(records))
	restoreRecords(records, logger)

	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing recovered journal: %w", err)
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("removing staging area: %w", err)
	}
	return nil
}

func restoreRecords(records []record, logger *slog.Logger) {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Staged == "" {
			if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to remove build output during rollback",
					"path", rec.Path, "error", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(rec.Path), 0o755); err != nil {
			logger.Error("failed to recreate parent directory during rollback",
				"path", rec.Path, "error", err)
			continue
		}
		if err := os.Rename(rec.Staged, rec.Path); err != nil {
			logger.Error("failed to restore original during rollback",
				"path", rec.Path, "error", err)
			continue
		}
		logger.Info("restored original contents", "path", rec.Path)
	}
}
