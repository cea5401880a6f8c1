// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

// lintdir runs a lint tool over every matching file in a directory
// tree and prints the combined output. Results are cached per file:
// a repeat run only re-lints files whose contents changed, and a
// rules change (tool, arguments, or version) re-lints everything.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		rootDir   string
		cachePath string
		rulesPath string
	)
	pflag.StringVar(&rootDir, "root", "", "directory to lint (required)")
	pflag.StringVar(&cachePath, "cache", "", "cache file path (required)")
	pflag.StringVar(&rulesPath, "rules", "", "YAML rules file (required)")
	pflag.Parse()

	if rootDir == "" || cachePath == "" || rulesPath == "" {
		pflag.Usage()
		return fmt.Errorf("--root, --cache, and --rules are required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	config, err := loadConfig(rulesPath)
	if err != nil {
		return err
	}

	output, err := lintTree(rootDir, cachePath, config)
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}
