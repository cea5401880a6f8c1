// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestContentDeterministic(t *testing.T) {
	a := Content([]byte("hello"))
	b := Content([]byte("hello"))
	if a != b {
		t.Errorf("same input produced different digests: %s vs %s", a, b)
	}
	c := Content([]byte("hello!"))
	if a == c {
		t.Error("different inputs produced the same digest")
	}
}

func TestDomainSeparation(t *testing.T) {
	data := []byte("identical bytes")
	if Content(data) == Args(data) {
		t.Error("content and args domains produced the same digest for identical input")
	}
}

func TestZeroValue(t *testing.T) {
	var zero Sum
	if !zero.IsZero() {
		t.Error("zero value is not IsZero")
	}
	if Content(nil).IsZero() {
		t.Error("digest of empty input is the zero value")
	}
}

func TestFileMatchesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	data := []byte("file contents for hashing\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := File(path)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if fromFile != Content(data) {
		t.Error("File digest does not match Content digest of the same bytes")
	}
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("File on a missing path did not fail")
	}
}

func TestReaderLargeInput(t *testing.T) {
	// Exceeds any internal buffer size so the streaming path is taken.
	data := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	sum, err := Reader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	if sum != Content(data) {
		t.Error("Reader digest does not match Content digest")
	}
}

func TestStringParseRoundTrip(t *testing.T) {
	sum := Content([]byte("round trip"))
	parsed, err := Parse(sum.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != sum {
		t.Error("parsed digest does not match original")
	}

	if _, err := Parse("zz"); err == nil {
		t.Error("Parse accepted invalid hex")
	}
	if _, err := Parse("abcd"); err == nil {
		t.Error("Parse accepted short input")
	}
}
