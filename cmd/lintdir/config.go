// Copyright 2026 The File-Builder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// Config is the lint rules file.
type Config struct {
	// Tool is the lint command to run. The file under lint is
	// appended as its final argument.
	Tool string `yaml:"tool"`

	// Args are passed to the tool before the filename.
	Args []string `yaml:"args"`

	// Include restricts linting to files whose base name matches
	// one of these glob patterns. Empty means every file.
	Include []string `yaml:"include"`

	// Version invalidates all cached lint results when bumped.
	// Changing Tool or Args does so implicitly.
	Version int `yaml:"version"`
}

func loadConfig(rulesPath string) (*Config, error) {
	data, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", rulesPath, err)
	}
	if config.Tool == "" {
		return nil, fmt.Errorf("rules file %s does not name a tool", rulesPath)
	}
	for _, pattern := range config.Include {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return nil, fmt.Errorf("rules file %s: invalid pattern %q", rulesPath, pattern)
		}
	}
	return &config, nil
}

// matches reports whether a file's base name is covered by the
// include patterns.
func (c *Config) matches(name string) bool {
	if len(c.Include) == 0 {
		return true
	}
	for _, pattern := range c.Include {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// cacheVersion is the version value fed to the build: any change to
// the tool invocation or the explicit version re-lints everything.
func (c *Config) cacheVersion() any {
	return map[string]any{
		"tool":    c.Tool,
		"args":    c.Args,
		"version": c.Version,
	}
}
