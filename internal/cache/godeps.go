// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/mod/modfile"
)

// GoModule is the parsed dependency analysis of a go.mod file.
type GoModule struct {
	Module       string         `json:"module"`
	GoVersion    string         `json:"go_version,omitempty"`
	Dependencies []GoDependency `json:"dependencies"`
}

// GoDependency is one direct requirement from go.mod.
type GoDependency struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// AnalyzeGoModule parses a go.mod file into a dependency analysis.
// Only direct requirements are reported.
func AnalyzeGoModule(manifestPath string) (*GoModule, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestPath, err)
	}

	f, err := modfile.Parse(manifestPath, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}

	mod := &GoModule{}
	if f.Module != nil {
		mod.Module = f.Module.Mod.Path
	}
	if f.Go != nil {
		mod.GoVersion = f.Go.Version
	}
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		mod.Dependencies = append(mod.Dependencies, GoDependency{
			Path:    req.Mod.Path,
			Version: req.Mod.Version,
		})
	}
	return mod, nil
}

// RefreshGoDependencies analyzes the project's go.mod and caches the
// serialized result, returning it. Misses the cache entirely when the
// project has no go.mod.
func (c *DependencyTreeCache) RefreshGoDependencies() (string, error) {
	path, ok := c.ManifestPath("go")
	if !ok {
		return "", fmt.Errorf("no go.mod under %s", c.root)
	}

	mod, err := AnalyzeGoModule(path)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(mod)
	if err != nil {
		return "", fmt.Errorf("encoding analysis: %w", err)
	}

	analysis := string(data)
	c.SetDependencies("go", analysis)
	return analysis, nil
}
