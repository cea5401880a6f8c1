// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for exercising
// builds against real directory trees.
//
// [WriteTree] materializes a map of relative paths to contents under
// a root directory, and [ReadTree] reads a directory back into the
// same shape, so a test can describe inputs and expected outputs as
// literals and compare whole trees at once.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// WriteTree writes each entry of files under root, creating parent
// directories as needed. Keys are slash-separated relative paths.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

// ReadTree reads every regular file under root into a map of
// slash-separated relative paths to contents. A missing root yields
// an empty map.
func ReadTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return tree
		}
		t.Fatalf("reading tree at %s: %v", root, err)
	}
	return tree
}

// RequireTreeEquals fails the test unless the tree under root
// contains exactly the given files with the given contents.
func RequireTreeEquals(t *testing.T, root string, want map[string]string) {
	t.Helper()
	got := ReadTree(t, root)
	for rel, content := range want {
		gotContent, ok := got[rel]
		if !ok {
			t.Errorf("missing file %s", rel)
			continue
		}
		if gotContent != content {
			t.Errorf("%s = %q, want %q", rel, gotContent, content)
		}
	}
	for rel := range got {
		if _, ok := want[rel]; !ok {
			t.Errorf("unexpected file %s", rel)
		}
	}
}
