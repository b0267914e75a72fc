// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transaction

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Per-file outcomes of a rollback attempt.
const (
	FileRestored = "restored"
	FileRemoved  = "removed"
	FileFailed   = "failed"
	FileSkipped  = "skipped"
)

// FileOutcome is the result of restoring one file.
type FileOutcome struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RollbackResult summarizes a rollback attempt.
//
// Rollback is best-effort: individual file failures are reported here
// rather than aborting the rest of the restore.
type RollbackResult struct {
	Method   RollbackMethod `json:"method"`
	Files    []FileOutcome  `json:"files,omitempty"`
	Restored int            `json:"restored"`
	Failed   int            `json:"failed"`
}

func (r *RollbackResult) add(path, status, errMsg string) {
	r.Files = append(r.Files, FileOutcome{Path: path, Status: status, Error: errMsg})
	switch status {
	case FileRestored, FileRemoved:
		r.Restored++
	case FileFailed:
		r.Failed++
	}
}

// rollbacker is the per-transaction restore strategy. One instance is
// created at Begin and lives until Commit, Rollback, or Abort.
type rollbacker interface {
	// prepare captures whatever baseline the strategy needs (HEAD pin,
	// backup directory). Called once at Begin.
	prepare(ctx context.Context, tx *Transaction) error

	// backupFiles is called by RecordAction before the tool runs, with
	// the files the action may touch.
	backupFiles(ctx context.Context, tx *Transaction, files []string) error

	// rollback restores every file the transaction touched.
	rollback(ctx context.Context, tx *Transaction) *RollbackResult

	// discard releases strategy resources after a commit.
	discard(tx *Transaction)
}

// newRollbacker builds the strategy for the given method.
func newRollbacker(method RollbackMethod, cfg Config) rollbacker {
	switch method {
	case RollbackGitCheckout:
		return &gitCheckoutRollback{cfg: cfg, logger: cfg.Logger}
	case RollbackFileRestore:
		return &fileRestoreRollback{
			cfg:     cfg,
			logger:  cfg.Logger,
			backups: make(map[string]string),
			created: make(map[string]struct{}),
		}
	default:
		return noopRollback{}
	}
}

// === GIT_CHECKOUT ===

// gitCheckoutRollback restores files with `git checkout <ref> -- <file>`.
//
// The HEAD commit is pinned at Begin so commits made mid-transaction
// (by the agent itself, or by the user) cannot move the restore point.
// If HEAD cannot be resolved the symbolic ref "HEAD" is used instead.
type gitCheckoutRollback struct {
	cfg    Config
	logger *slog.Logger
	ref    string
}

func (g *gitCheckoutRollback) prepare(ctx context.Context, tx *Transaction) error {
	headCtx, cancel := context.WithTimeout(ctx, g.cfg.HeadTimeout)
	defer cancel()

	ref, err := g.cfg.Git.RevParse(headCtx, g.cfg.Workspace, "HEAD")
	if err != nil || ref == "" {
		g.logger.Warn("could not pin HEAD, falling back to symbolic ref",
			"tx_id", tx.TxID,
			"error", err)
		ref = "HEAD"
	}
	g.ref = ref
	tx.RollbackData = map[string]any{"ref": ref}
	return nil
}

func (g *gitCheckoutRollback) backupFiles(ctx context.Context, tx *Transaction, files []string) error {
	// Git already holds the baseline content.
	return nil
}

func (g *gitCheckoutRollback) rollback(ctx context.Context, tx *Transaction) *RollbackResult {
	result := &RollbackResult{Method: RollbackGitCheckout}

	for _, file := range tx.ModifiedFiles() {
		checkoutCtx, cancel := context.WithTimeout(ctx, g.cfg.CheckoutTimeout)
		err := g.cfg.Git.CheckoutFile(checkoutCtx, g.cfg.Workspace, g.ref, file)
		cancel()

		if err != nil {
			// Files created during the transaction do not exist at the
			// pinned ref; checkout failure is expected for them.
			result.add(file, FileFailed, err.Error())
			continue
		}
		result.add(file, FileRestored, "")
	}
	return result
}

func (g *gitCheckoutRollback) discard(tx *Transaction) {}

// === FILE_RESTORE ===

// fileRestoreRollback copies files aside before they are touched and
// copies them back on rollback. Used when the workspace is not a git
// repository.
//
// Backups live under "<BackupRoot>/<tx_id>/" mirroring workspace
// relative paths. Files that did not exist when first recorded are
// tracked as created and deleted on rollback.
type fileRestoreRollback struct {
	cfg     Config
	logger  *slog.Logger
	dir     string
	backups map[string]string   // workspace path -> backup path
	created map[string]struct{} // paths absent at backup time
}

func (f *fileRestoreRollback) prepare(ctx context.Context, tx *Transaction) error {
	f.dir = filepath.Join(f.cfg.BackupRoot, tx.TxID)
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	tx.RollbackData = map[string]any{"backup_dir": f.dir}
	return nil
}

func (f *fileRestoreRollback) backupFiles(ctx context.Context, tx *Transaction, files []string) error {
	var firstErr error
	for _, file := range files {
		if _, done := f.backups[file]; done {
			continue
		}
		if _, isNew := f.created[file]; isNew {
			continue
		}

		if _, err := os.Stat(file); os.IsNotExist(err) {
			f.created[file] = struct{}{}
			continue
		}

		rel, err := filepath.Rel(f.cfg.Workspace, file)
		if err != nil || filepath.IsAbs(rel) {
			// Outside the workspace: flatten into the backup dir.
			rel = filepath.Base(file)
		}
		dst := filepath.Join(f.dir, rel)

		if err := copyFile(file, dst); err != nil {
			f.logger.Warn("backup copy failed",
				"tx_id", tx.TxID,
				"file", file,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.backups[file] = dst
	}
	return firstErr
}

func (f *fileRestoreRollback) rollback(ctx context.Context, tx *Transaction) *RollbackResult {
	result := &RollbackResult{Method: RollbackFileRestore}

	for _, file := range tx.ModifiedFiles() {
		if backup, ok := f.backups[file]; ok {
			if err := copyFile(backup, file); err != nil {
				result.add(file, FileFailed, err.Error())
				continue
			}
			result.add(file, FileRestored, "")
			continue
		}
		if _, isNew := f.created[file]; isNew {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				result.add(file, FileFailed, err.Error())
				continue
			}
			result.add(file, FileRemoved, "")
			continue
		}
		result.add(file, FileSkipped, "no backup recorded")
	}

	f.removeBackupDir(tx)
	return result
}

func (f *fileRestoreRollback) discard(tx *Transaction) {
	f.removeBackupDir(tx)
}

func (f *fileRestoreRollback) removeBackupDir(tx *Transaction) {
	if f.dir == "" {
		return
	}
	if err := os.RemoveAll(f.dir); err != nil {
		f.logger.Warn("could not remove backup dir",
			"tx_id", tx.TxID,
			"dir", f.dir,
			"error", err)
	}
}

// === NONE ===

// noopRollback records actions without any restore capability.
type noopRollback struct{}

func (noopRollback) prepare(ctx context.Context, tx *Transaction) error { return nil }
func (noopRollback) backupFiles(ctx context.Context, tx *Transaction, files []string) error {
	return nil
}
func (noopRollback) rollback(ctx context.Context, tx *Transaction) *RollbackResult {
	return &RollbackResult{Method: RollbackNone}
}
func (noopRollback) discard(tx *Transaction) {}

// copyFile copies src to dst, creating parent directories and
// preserving the source's permission bits.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
