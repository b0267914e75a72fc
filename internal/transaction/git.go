// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transaction

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// GitClient abstracts the git operations the manager needs, so tests
// can run without a git binary or repository.
type GitClient interface {
	// IsRepository reports whether dir is inside a git work tree.
	IsRepository(ctx context.Context, dir string) bool

	// RevParse resolves ref to a commit hash.
	RevParse(ctx context.Context, dir, ref string) (string, error)

	// CheckoutFile restores one file to its state at ref.
	CheckoutFile(ctx context.Context, dir, ref, path string) error
}

// DefaultGitClient shells out to the git binary.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type DefaultGitClient struct {
	// Logger for command diagnostics. Uses slog.Default() if nil.
	Logger *slog.Logger
}

func (g *DefaultGitClient) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// run executes git with the given args in dir, returning trimmed stdout.
func (g *DefaultGitClient) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		g.logger().Debug("git command failed",
			"args", strings.Join(args, " "),
			"stderr", strings.TrimSpace(stderr.String()),
			"error", err)
		return "", fmt.Errorf("git %s: %w: %s",
			args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepository reports whether dir is inside a git work tree.
func (g *DefaultGitClient) IsRepository(ctx context.Context, dir string) bool {
	out, err := g.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// RevParse resolves ref to a commit hash.
func (g *DefaultGitClient) RevParse(ctx context.Context, dir, ref string) (string, error) {
	return g.run(ctx, dir, "rev-parse", ref)
}

// CheckoutFile restores one file to its state at ref.
func (g *DefaultGitClient) CheckoutFile(ctx context.Context, dir, ref, path string) error {
	_, err := g.run(ctx, dir, "checkout", ref, "--", path)
	return err
}
