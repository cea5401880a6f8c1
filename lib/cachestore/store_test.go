// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/btrekkie/file-builder/lib/codec"
	"github.com/btrekkie/file-builder/lib/fingerprint"
)

func sampleState(t *testing.T) *State {
	t.Helper()
	state := NewState("gzip_dir", "build-1")

	version, err := codec.Marshal("v2")
	if err != nil {
		t.Fatal(err)
	}
	state.Versions["gzip_file"] = version

	value, err := codec.Marshal(map[string]any{"lines": 12})
	if err != nil {
		t.Fatal(err)
	}

	id := OpID{
		Kind:       OpBuildFile,
		Name:       "gzip_file",
		ArgsSum:    fingerprint.Args([]byte("args")),
		OutputPath: "/out/a.txt.gz",
	}
	state.Entries[id.Key()] = &Entry{
		ID: id,
		Steps: []Step{
			{Fact: &FileFact{
				Kind:    FactContent,
				Path:    "/in/a.txt",
				Content: fingerprint.Content([]byte("hello")),
			}},
			{Fact: &FileFact{
				Kind:     FactListing,
				Path:     "/in",
				Children: []string{"a.txt", "b.txt"},
			}},
			{Child: &ChildRef{
				ID:    OpID{Kind: OpSubbuild, Name: "scan", ArgsSum: fingerprint.Args([]byte("x"))},
				Value: codec.RawMessage(value),
			}},
		},
		Output:  fingerprint.Content([]byte("gz")),
		BuildID: "build-1",
	}
	state.Outputs = []string{"/out/a.txt.gz"}
	return state
}

func TestLoadMissingIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state != nil {
		t.Error("missing snapshot did not load as nil state")
	}
}

func TestCommitLoadRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	if err := store.Begin("build-1"); err != nil {
		t.Fatal(err)
	}
	want := sampleState(t)
	if err := store.Commit(want); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round-tripped state differs:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestCommitRemovesStaging(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	if err := store.Begin("build-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.StagingDir()); err != nil {
		t.Fatalf("staging area not created: %v", err)
	}
	if err := store.Commit(NewState("b", "build-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.StagingDir()); !os.IsNotExist(err) {
		t.Error("staging area survived commit")
	}
}

func TestDiscardKeepsSnapshot(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	if err := store.Begin("build-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(sampleState(t)); err != nil {
		t.Fatal(err)
	}

	if err := store.Begin("build-2"); err != nil {
		t.Fatal(err)
	}
	if err := store.Discard(); err != nil {
		t.Fatal(err)
	}
	state, err := store.Load()
	if err != nil || state == nil {
		t.Fatalf("snapshot lost after discard: %v", err)
	}
	if state.BuildID != "build-1" {
		t.Errorf("BuildID = %q, want build-1", state.BuildID)
	}
}

func TestLoadCorruption(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name   string
		mangle func(path string) error
	}{
		{"truncated footer", func(path string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(path, data[:len(data)-3], 0o644)
		}},
		{"bad magic", func(path string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			data[0] ^= 0xff
			return os.WriteFile(path, data, 0o644)
		}},
		{"unknown version", func(path string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			data[len(fileMagic)-1] = 0x7f
			return os.WriteFile(path, data, 0o644)
		}},
		{"garbage body", func(path string) error {
			body := append(append([]byte{}, fileMagic...), 0xff, 0xfe, 0xfd)
			body = append(body, fileFooter...)
			return os.WriteFile(path, body, 0o644)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name)
			store := NewFileStore(path)
			if err := store.Begin("b"); err != nil {
				t.Fatal(err)
			}
			if err := store.Commit(sampleState(t)); err != nil {
				t.Fatal(err)
			}
			if err := tc.mangle(path); err != nil {
				t.Fatal(err)
			}

			_, err := store.Load()
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Load error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestOpIDKeyDistinct(t *testing.T) {
	base := OpID{Kind: OpSubbuild, Name: "lint", ArgsSum: fingerprint.Args([]byte("a"))}

	variants := []OpID{
		{Kind: OpBuildFile, Name: "lint", ArgsSum: base.ArgsSum, OutputPath: "/out"},
		{Kind: OpSubbuild, Name: "lint2", ArgsSum: base.ArgsSum},
		{Kind: OpSubbuild, Name: "lint", ArgsSum: fingerprint.Args([]byte("b"))},
	}
	for _, v := range variants {
		if v.Key() == base.Key() {
			t.Errorf("distinct identities share key: %v vs %v", v, base)
		}
	}
	if base.Key() != base.Key() {
		t.Error("key is not stable")
	}
}
