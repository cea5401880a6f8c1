// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btrekkie/file-builder/lib/builder"
)

// lintTree lints every matching file under root and returns the
// concatenated tool output, one file per section, in path order.
func lintTree(root, cachePath string, config *Config) (string, error) {
	versions := builder.Versions{"lint_file": config.cacheVersion()}

	value, err := builder.BuildVersioned(cachePath, "lintdir", versions, func(b *builder.Builder) (any, error) {
		var files []string
		err := b.Walk(root, func(dir string, subdirs, subfiles []string) error {
			for _, name := range subfiles {
				if config.matches(name) {
					files = append(files, filepath.Join(dir, name))
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(files)

		var report strings.Builder
		for _, file := range files {
			result, err := b.Subbuild("lint_file", builder.Args{file}, lintFile(config, file))
			if err != nil {
				return nil, err
			}
			report.WriteString(result.(string))
		}
		return report.String(), nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// lintFile returns the build function running the configured tool on
// one file. The tool reads the file itself, so the read is declared
// rather than performed through the builder.
func lintFile(config *Config, file string) builder.ValueFunc {
	return func(b *builder.Builder) (any, error) {
		if err := b.DeclareRead(file); err != nil {
			return nil, err
		}

		args := append(append([]string(nil), config.Args...), file)
		output, err := exec.Command(config.Tool, args...).CombinedOutput()
		if err != nil {
			if _, isExit := err.(*exec.ExitError); !isExit {
				return nil, fmt.Errorf("running %s: %w", config.Tool, err)
			}
			// Lint findings exit non-zero; the output is the result.
		}
		return string(output), nil
	}
}
