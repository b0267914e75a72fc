// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transaction provides atomic task execution for the agent.
//
// Every task runs inside a transaction: each tool call is recorded with
// before/after content hashes, and on failure the workspace is restored
// via git checkout or file backups. The transaction log is an
// append-only JSONL file; a transaction's record is re-appended on
// every state change and readers keep only the last record per ID.
package transaction

import (
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	// StatusActive means the transaction is recording actions.
	StatusActive Status = "ACTIVE"

	// StatusCommitted means the task succeeded and backups were discarded.
	StatusCommitted Status = "COMMITTED"

	// StatusAborted means the transaction ended without restoring files.
	StatusAborted Status = "ABORTED"

	// StatusRolledBack means modified files were restored.
	StatusRolledBack Status = "ROLLED_BACK"
)

// RollbackMethod selects how modified files are restored.
type RollbackMethod string

const (
	// RollbackGitCheckout restores files with `git checkout <ref> -- <file>`.
	RollbackGitCheckout RollbackMethod = "GIT_CHECKOUT"

	// RollbackFileRestore restores files from per-transaction backup copies.
	RollbackFileRestore RollbackMethod = "FILE_RESTORE"

	// RollbackNone records actions without any restore capability.
	RollbackNone RollbackMethod = "NONE"
)

// Sentinel errors for transaction operations.
var (
	// ErrTransactionActive is returned by Begin when a transaction is
	// already in progress. Exactly one transaction runs at a time.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNoTransaction is returned by operations that require an active
	// transaction when none exists.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid transaction config")
)

// ToolAction is one recorded tool invocation within a transaction.
//
// HashBefore is computed when the action is recorded, before the tool
// mutates anything; HashAfter is computed by CompleteAction once the
// tool has finished. An action whose HashAfter equals HashBefore made
// no observable file change.
type ToolAction struct {
	Tool       string         `json:"tool"`
	Timestamp  string         `json:"timestamp"`
	Args       map[string]any `json:"args,omitempty"`
	Files      []string       `json:"files,omitempty"`
	HashBefore string         `json:"hash_before,omitempty"`
	HashAfter  string         `json:"hash_after,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Transaction is the record of one task execution.
type Transaction struct {
	TxID           string         `json:"tx_id"`
	TaskID         string         `json:"task_id"`
	Status         Status         `json:"status"`
	RollbackMethod RollbackMethod `json:"rollback_method"`
	RollbackData   map[string]any `json:"rollback_data,omitempty"`
	Actions        []ToolAction   `json:"actions"`
	StartedAt      string         `json:"started_at"`
	CommittedAt    string         `json:"committed_at,omitempty"`
	AbortedAt      string         `json:"aborted_at,omitempty"`
}

// ModifiedFiles returns the deduplicated union of files touched by all
// recorded actions, in first-seen order.
func (t *Transaction) ModifiedFiles() []string {
	seen := make(map[string]struct{})
	var files []string
	for _, action := range t.Actions {
		for _, f := range action.Files {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	return files
}

// recordReason stores the caller-supplied rollback/abort reason so the
// logged record carries why the transaction ended.
func (t *Transaction) recordReason(reason string) {
	if reason == "" {
		return
	}
	if t.RollbackData == nil {
		t.RollbackData = make(map[string]any, 1)
	}
	t.RollbackData["reason"] = reason
}

// clone returns a deep copy safe to hand to callers after the
// manager's lock is released.
func (t *Transaction) clone() *Transaction {
	cp := *t
	cp.Actions = make([]ToolAction, len(t.Actions))
	copy(cp.Actions, t.Actions)
	if t.RollbackData != nil {
		cp.RollbackData = make(map[string]any, len(t.RollbackData))
		for k, v := range t.RollbackData {
			cp.RollbackData[k] = v
		}
	}
	return &cp
}

// newTxID generates a short transaction identifier ("tx_" plus the
// first 8 hex chars of a UUID).
func newTxID() string {
	return "tx_" + uuid.NewString()[:8]
}

// timestamp formats t for the transaction log (RFC 3339, UTC).
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Default timeouts for git subprocesses.
const (
	DefaultHeadTimeout     = 5 * time.Second
	DefaultCheckoutTimeout = 30 * time.Second
)

// Config holds configuration for a transaction Manager.
type Config struct {
	// Workspace is the root directory the agent operates on. Required.
	Workspace string

	// LogPath is the transaction log file.
	// Default: "<Workspace>/.rev/transactions.jsonl".
	LogPath string

	// BackupRoot is where FILE_RESTORE backups live.
	// Default: "<Workspace>/.rev/tx_backups".
	BackupRoot string

	// HeadTimeout bounds HEAD resolution at Begin.
	HeadTimeout time.Duration

	// CheckoutTimeout bounds each `git checkout` during rollback.
	CheckoutTimeout time.Duration

	// Git overrides the git client. Default: DefaultGitClient.
	Git GitClient

	// Logger for structured logging. Default: slog.Default().
	Logger *slog.Logger

	// EnableTracing enables OpenTelemetry spans.
	EnableTracing bool

	// EnableMetrics enables OpenTelemetry metrics.
	EnableMetrics bool
}

// withDefaults validates the config and fills in defaults.
func (c Config) withDefaults() (Config, error) {
	if c.Workspace == "" {
		return c, ErrInvalidConfig
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.Workspace, ".rev", "transactions.jsonl")
	}
	if c.BackupRoot == "" {
		c.BackupRoot = filepath.Join(c.Workspace, ".rev", "tx_backups")
	}
	if c.HeadTimeout <= 0 {
		c.HeadTimeout = DefaultHeadTimeout
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = DefaultCheckoutTimeout
	}
	if c.Git == nil {
		c.Git = &DefaultGitClient{Logger: c.Logger}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}
