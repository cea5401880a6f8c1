// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btrekkie/file-builder/lib/testutil"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")

	content := `
tool: flake8
args: ["--max-line-length", "100"]
include: ["*.py"]
version: 3
`
	if err := os.WriteFile(rules, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := loadConfig(rules)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if config.Tool != "flake8" {
		t.Errorf("Tool = %q", config.Tool)
	}
	if len(config.Args) != 2 || config.Args[0] != "--max-line-length" {
		t.Errorf("Args = %v", config.Args)
	}
	if !config.matches("a.py") {
		t.Error("a.py does not match include patterns")
	}
	if config.matches("a.go") {
		t.Error("a.go unexpectedly matches include patterns")
	}
	if config.Version != 3 {
		t.Errorf("Version = %d", config.Version)
	}
}

func TestLoadConfigRejectsMissingTool(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rules, []byte("include: ['*.py']\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(rules); err == nil {
		t.Error("config without a tool was accepted")
	}
}

func TestLoadConfigRejectsBadPattern(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rules, []byte("tool: cat\ninclude: ['[']\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(rules); err == nil {
		t.Error("config with a malformed pattern was accepted")
	}
}

func TestMatchesDefaultsToEverything(t *testing.T) {
	config := &Config{Tool: "cat"}
	if !config.matches("anything.xyz") {
		t.Error("empty include list should match every file")
	}
}

func TestLintTree(t *testing.T) {
	// "cat" stands in for a lint tool: its output is the file
	// contents, which makes the aggregated report easy to check.
	dir := t.TempDir()
	root := filepath.Join(dir, "src")
	cache := filepath.Join(dir, "cache")
	testutil.WriteTree(t, root, map[string]string{
		"a.py":     "finding in a\n",
		"b.py":     "finding in b\n",
		"skip.txt": "not linted\n",
	})

	config := &Config{Tool: "cat", Include: []string{"*.py"}}
	report, err := lintTree(root, cache, config)
	if err != nil {
		t.Fatalf("lintTree failed: %v", err)
	}

	if !strings.Contains(report, "finding in a") || !strings.Contains(report, "finding in b") {
		t.Errorf("report missing findings: %q", report)
	}
	if strings.Contains(report, "not linted") {
		t.Errorf("report includes excluded file: %q", report)
	}
	// Path order: a before b.
	if strings.Index(report, "finding in a") > strings.Index(report, "finding in b") {
		t.Errorf("report out of order: %q", report)
	}

	// A repeat run serves from cache and returns the same report.
	again, err := lintTree(root, cache, config)
	if err != nil {
		t.Fatal(err)
	}
	if again != report {
		t.Errorf("cached report differs:\n%q\n%q", again, report)
	}
}

func TestLintTreeRulesChangeRelintsEverything(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "src")
	cache := filepath.Join(dir, "cache")
	testutil.WriteTree(t, root, map[string]string{"a.py": "contents\n"})

	base := &Config{Tool: "cat", Include: []string{"*.py"}}
	first, err := lintTree(root, cache, base)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(first, "contents") {
		t.Fatalf("report = %q", first)
	}

	// Changing the tool invocation changes the cache version; the
	// new tool actually runs instead of the old result being
	// served. "wc -c" output contains the byte count.
	changed := &Config{Tool: "wc", Args: []string{"-c"}, Include: []string{"*.py"}, Version: base.Version}
	second, err := lintTree(root, cache, changed)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(second, "9") {
		t.Errorf("second report does not look like wc -c output: %q", second)
	}
}
