// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/btrekkie/file-builder/lib/testutil"
)

func gunzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader for %s: %v", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("decompressing %s: %v", path, err)
	}
	return string(data)
}

func TestCompressTree(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	cache := filepath.Join(dir, "cache", "gzipdir.cache")

	testutil.WriteTree(t, in, map[string]string{
		"a.txt":       "alpha",
		"sub/b.txt":   "beta",
		"sub/c.empty": "",
	})

	if err := compressTree(in, out, cache, 4); err != nil {
		t.Fatalf("compressTree failed: %v", err)
	}

	for rel, want := range map[string]string{
		"a.txt.gz":       "alpha",
		"sub/b.txt.gz":   "beta",
		"sub/c.empty.gz": "",
	} {
		if got := gunzip(t, filepath.Join(out, filepath.FromSlash(rel))); got != want {
			t.Errorf("%s decompressed to %q, want %q", rel, got, want)
		}
	}
}

func TestCompressTreeIncremental(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	cache := filepath.Join(dir, "cache", "gzipdir.cache")

	testutil.WriteTree(t, in, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
	})
	if err := compressTree(in, out, cache, 2); err != nil {
		t.Fatal(err)
	}

	unchangedOutput := filepath.Join(out, "b.txt.gz")
	before, err := os.Stat(unchangedOutput)
	if err != nil {
		t.Fatal(err)
	}

	// Change one input; the other output must be carried over
	// without being rewritten.
	testutil.WriteTree(t, in, map[string]string{"a.txt": "alpha v2"})
	if err := compressTree(in, out, cache, 2); err != nil {
		t.Fatal(err)
	}

	if got := gunzip(t, filepath.Join(out, "a.txt.gz")); got != "alpha v2" {
		t.Errorf("changed output decompressed to %q", got)
	}
	after, err := os.Stat(unchangedOutput)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("unchanged output was rewritten")
	}
}

func TestCompressTreeDeletesOrphans(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	cache := filepath.Join(dir, "cache", "gzipdir.cache")

	testutil.WriteTree(t, in, map[string]string{
		"keep.txt": "kept",
		"drop.txt": "dropped",
	})
	if err := compressTree(in, out, cache, 2); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(in, "drop.txt")); err != nil {
		t.Fatal(err)
	}
	if err := compressTree(in, out, cache, 2); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(out, "drop.txt.gz")); !os.IsNotExist(err) {
		t.Error("orphaned output survived")
	}
	if got := gunzip(t, filepath.Join(out, "keep.txt.gz")); got != "kept" {
		t.Errorf("surviving output decompressed to %q", got)
	}
}
