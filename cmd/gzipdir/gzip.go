// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/btrekkie/file-builder/lib/builder"
)

// compressTree builds <outputDir>/<rel>.gz for every file under
// inputDir, dispatching up to jobs compressions concurrently. The
// cache at cachePath makes repeat runs incremental.
func compressTree(inputDir, outputDir, cachePath string, jobs int) error {
	_, err := builder.Build(cachePath, "gzipdir", func(b *builder.Builder) (any, error) {
		type target struct {
			input  string
			output string
		}
		var targets []target

		err := b.Walk(inputDir, func(dir string, subdirs, subfiles []string) error {
			for _, name := range subfiles {
				input := filepath.Join(dir, name)
				rel, err := filepath.Rel(inputDir, input)
				if err != nil {
					return err
				}
				targets = append(targets, target{
					input:  input,
					output: filepath.Join(outputDir, rel) + ".gz",
				})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		g := new(errgroup.Group)
		g.SetLimit(jobs)
		for _, tgt := range targets {
			g.Go(func() error {
				return b.BuildFile(tgt.output, "gzip_file", builder.Args{tgt.input}, compressFile(tgt.input))
			})
		}
		return nil, g.Wait()
	})
	return err
}

// compressFile returns the build function producing the gzipped form
// of input. The gzip header is left without a modification time so
// identical input bytes always produce identical output bytes.
func compressFile(input string) builder.FileFunc {
	return func(b *builder.Builder, outputPath string) error {
		data, err := b.ReadBinary(input)
		if err != nil {
			return err
		}

		out, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		w := gzip.NewWriter(out)
		if _, err := w.Write(data); err != nil {
			w.Close()
			out.Close()
			return err
		}
		if err := w.Close(); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}
}
