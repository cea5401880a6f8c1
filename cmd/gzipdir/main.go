// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

// gzipdir incrementally compresses a directory tree. Every file in
// the input directory gets a matching <name>.gz in the output
// directory; on repeat runs only files whose contents changed are
// recompressed, and outputs whose inputs disappeared are deleted.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

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
		inputDir  string
		outputDir string
		cachePath string
		jobs      int
	)
	pflag.StringVar(&inputDir, "in", "", "input directory (required)")
	pflag.StringVar(&outputDir, "out", "", "output directory (required)")
	pflag.StringVar(&cachePath, "cache", "", "cache file path (required)")
	pflag.IntVar(&jobs, "jobs", runtime.GOMAXPROCS(0), "maximum concurrent compressions")
	pflag.Parse()

	if inputDir == "" || outputDir == "" || cachePath == "" {
		pflag.Usage()
		return fmt.Errorf("--in, --out, and --cache are required")
	}
	if jobs < 1 {
		return fmt.Errorf("--jobs must be at least 1")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	return compressTree(inputDir, outputDir, cachePath, jobs)
}
