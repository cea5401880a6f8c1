// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package fsprobe

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/btrekkie/file-builder/lib/fingerprint"
)

// TestProbeParity runs the same observations against an OS probe over a
// real temp tree and a Mem probe over the equivalent in-memory tree,
// so the two implementations stay in parity.
func TestProbeParity(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("beta"), 0o644); err != nil {
		t.Fatal(err)
	}

	mem := NewMem()
	mem.WriteFile("/root/a.txt", []byte("alpha"))
	mem.WriteFile("/root/sub/b.txt", []byte("beta"))

	osProbe := NewOS()

	type probeAt struct {
		probe Probe
		root  string
	}
	for _, p := range []probeAt{{osProbe, root}, {mem, "/root"}} {
		if ok, err := p.probe.IsFile(filepath.Join(p.root, "a.txt")); err != nil || !ok {
			t.Errorf("IsFile(a.txt) = %v, %v", ok, err)
		}
		if ok, err := p.probe.IsDir(filepath.Join(p.root, "sub")); err != nil || !ok {
			t.Errorf("IsDir(sub) = %v, %v", ok, err)
		}
		if ok, err := p.probe.Exists(filepath.Join(p.root, "missing")); err != nil || ok {
			t.Errorf("Exists(missing) = %v, %v", ok, err)
		}
		names, err := p.probe.ListDir(p.root)
		if err != nil {
			t.Fatalf("ListDir: %v", err)
		}
		if !reflect.DeepEqual(names, []string{"a.txt", "sub"}) {
			t.Errorf("ListDir = %v, want [a.txt sub]", names)
		}
		data, err := p.probe.ReadBytes(filepath.Join(p.root, "a.txt"))
		if err != nil || string(data) != "alpha" {
			t.Errorf("ReadBytes = %q, %v", data, err)
		}
		sum, err := p.probe.FingerprintFile(filepath.Join(p.root, "a.txt"))
		if err != nil {
			t.Fatalf("FingerprintFile: %v", err)
		}
		if sum != fingerprint.Content([]byte("alpha")) {
			t.Error("fingerprint does not match content digest")
		}
	}
}

func TestOSFingerprintCacheWithinSession(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}

	probe := NewOS()
	first, err := probe.FingerprintFile(file)
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite with different content and a different size; mtime may
	// or may not tick, but the size change defeats the hint.
	if err := os.WriteFile(file, []byte("other"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := probe.FingerprintFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("digest unchanged after content change")
	}
}

func TestOSFingerprintFreshProbeRehashes(t *testing.T) {
	// A same-size rewrite with a preserved mtime fools a stale hint —
	// but hints never survive the probe, so a fresh probe (a new
	// build) always re-hashes.
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	first, err := NewOS().FingerprintFile(file)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(file, []byte("bbbb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(file, time.Now(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	second, err := NewOS().FingerprintFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("fresh probe returned stale digest for changed content")
	}
}

func TestMemSymlinks(t *testing.T) {
	mem := NewMem()
	mem.WriteFile("/data/real.txt", []byte("content"))
	mem.Symlink("/data/real.txt", "/data/link.txt")
	mem.Symlink("broken-target", "/data/broken")

	if ok, _ := mem.IsFile("/data/link.txt"); !ok {
		t.Error("IsFile through symlink = false")
	}
	target, err := mem.ReadSymlink("/data/link.txt")
	if err != nil || target != "/data/real.txt" {
		t.Errorf("ReadSymlink = %q, %v", target, err)
	}
	if ok, _ := mem.Exists("/data/broken"); ok {
		t.Error("broken symlink reported as existing")
	}
	data, err := mem.ReadBytes("/data/link.txt")
	if err != nil || string(data) != "content" {
		t.Errorf("ReadBytes through symlink = %q, %v", data, err)
	}
}

func TestMemRemoveRecursive(t *testing.T) {
	mem := NewMem()
	mem.WriteFile("/a/b/c.txt", []byte("x"))
	mem.WriteFile("/a/d.txt", []byte("y"))

	mem.Remove("/a/b")
	if ok, _ := mem.Exists("/a/b/c.txt"); ok {
		t.Error("file under removed directory still exists")
	}
	if ok, _ := mem.Exists("/a/d.txt"); !ok {
		t.Error("sibling removed")
	}
}
