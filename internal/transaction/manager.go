// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transaction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// nowFunc is the clock; replaced in tests.
var nowFunc = time.Now

// ActionHandle identifies a recorded action within the transaction
// that recorded it. Handles from an ended transaction are rejected.
type ActionHandle struct {
	txID  string
	index int
}

// Manager runs task transactions, one at a time.
//
// # Description
//
// A Manager owns a single transaction slot guarded by a mutex: Begin
// fails with ErrTransactionActive while a transaction is in flight, and
// Commit, Rollback, or Abort frees the slot. Construct one Manager per
// workspace and share it; there is no process-global state.
//
// Each tool call inside a transaction is recorded in two phases:
// RecordAction before the tool runs (content hashes of the target
// files, backups for FILE_RESTORE) and CompleteAction after it
// finishes (post-mutation hashes, result or error). Every state change
// appends the full transaction to the JSONL log.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
//
// # Example
//
//	mgr, err := transaction.NewManager(transaction.Config{Workspace: root})
//	if err != nil { ... }
//	tx, err := mgr.Begin(ctx, "task-42")
//	action, _ := mgr.RecordAction(ctx, "write_file", nil, []string{path})
//	err = tool.Run(...)
//	mgr.CompleteAction(ctx, action, "ok", err)
//	if err != nil {
//		mgr.Rollback(ctx, err.Error())
//	} else {
//		mgr.Commit(ctx)
//	}
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	active *Transaction
	rb     rollbacker
	began  time.Time

	logger *slog.Logger
	tracer *Tracer
}

// NewManager creates a transaction manager for a workspace.
func NewManager(cfg Config) (*Manager, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	SetMetricsEnabled(cfg.EnableMetrics)
	if cfg.EnableMetrics {
		if err := initMetrics(); err != nil {
			cfg.Logger.Warn("transaction metrics disabled", "error", err)
			SetMetricsEnabled(false)
		}
	}

	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "transaction"),
		tracer: NewTracer(cfg.Logger, cfg.EnableTracing),
	}, nil
}

// Begin starts a transaction for taskID, picking the rollback method
// automatically: GIT_CHECKOUT inside a git work tree, FILE_RESTORE
// otherwise.
func (m *Manager) Begin(ctx context.Context, taskID string) (*Transaction, error) {
	method := RollbackFileRestore
	if m.cfg.Git.IsRepository(ctx, m.cfg.Workspace) {
		method = RollbackGitCheckout
	}
	return m.BeginWithMethod(ctx, taskID, method)
}

// BeginWithMethod starts a transaction with an explicit rollback
// method. Returns ErrTransactionActive if one is already in flight.
func (m *Manager) BeginWithMethod(ctx context.Context, taskID string, method RollbackMethod) (*Transaction, error) {
	ctx, span := m.tracer.StartBegin(ctx, taskID, method)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.tracer.EndWithError(span, ErrTransactionActive)
		return nil, ErrTransactionActive
	}

	now := nowFunc()
	tx := &Transaction{
		TxID:           newTxID(),
		TaskID:         taskID,
		Status:         StatusActive,
		RollbackMethod: method,
		StartedAt:      timestamp(now),
	}

	rb := newRollbacker(method, m.cfg)
	if err := rb.prepare(ctx, tx); err != nil {
		m.tracer.EndWithError(span, err)
		return nil, err
	}

	m.active = tx
	m.rb = rb
	m.began = now
	m.persist(tx)
	recordBegin(ctx, method)

	m.logger.Info("transaction started",
		"tx_id", tx.TxID,
		"task_id", taskID,
		"rollback_method", method)
	return tx.clone(), nil
}

// RecordAction records a tool invocation about to run.
//
// # Description
//
// Must be called before the tool mutates anything: it computes the
// before-hash of the target files and, for FILE_RESTORE, copies them
// aside. The returned handle is passed to CompleteAction once the tool
// finishes. Backup failures are logged and reported but do not block
// the action; rollback for the affected files degrades.
func (m *Manager) RecordAction(ctx context.Context, tool string, args map[string]any, files []string) (ActionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ActionHandle{}, ErrNoTransaction
	}

	if err := m.rb.backupFiles(ctx, m.active, files); err != nil {
		m.logger.Warn("action backup incomplete",
			"tx_id", m.active.TxID,
			"tool", tool,
			"error", err)
	}

	action := ToolAction{
		Tool:       tool,
		Timestamp:  timestamp(nowFunc()),
		Args:       args,
		Files:      files,
		HashBefore: computeHash(files),
	}
	m.active.Actions = append(m.active.Actions, action)
	m.persist(m.active)

	return ActionHandle{txID: m.active.TxID, index: len(m.active.Actions) - 1}, nil
}

// CompleteAction finishes a recorded action after the tool has run.
//
// The after-hash is computed here, over the files' post-mutation
// content. A nil opErr marks success; otherwise the error message is
// recorded alongside any partial result.
func (m *Manager) CompleteAction(ctx context.Context, handle ActionHandle, result string, opErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.TxID != handle.txID {
		return ErrNoTransaction
	}
	if handle.index < 0 || handle.index >= len(m.active.Actions) {
		return ErrNoTransaction
	}

	action := &m.active.Actions[handle.index]
	action.HashAfter = computeHash(action.Files)
	action.Result = result
	if opErr != nil {
		action.Error = opErr.Error()
	}
	m.persist(m.active)
	return nil
}

// Commit marks the transaction successful and discards backups.
func (m *Manager) Commit(ctx context.Context) (*Transaction, error) {
	ctx, span := m.tracer.StartCommit(ctx)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		m.tracer.EndWithError(span, ErrNoTransaction)
		return nil, ErrNoTransaction
	}

	tx := m.active
	tx.Status = StatusCommitted
	tx.CommittedAt = timestamp(nowFunc())
	m.persist(tx)
	m.rb.discard(tx)

	recordCommit(ctx, nowFunc().Sub(m.began), len(tx.ModifiedFiles()))
	recordEnd(ctx)
	m.logger.Info("transaction committed",
		"tx_id", tx.TxID,
		"actions", len(tx.Actions),
		"files", len(tx.ModifiedFiles()))

	m.clearSlot()
	return tx, nil
}

// Rollback restores every file the transaction touched and frees the
// slot.
//
// # Description
//
// Restoration is best-effort and per-file: the result reports each
// file's outcome, and a partial restore still ends the transaction as
// ROLLED_BACK. The restore itself runs on a context detached from the
// caller's cancellation, so an interrupted task cannot also interrupt
// its own cleanup.
func (m *Manager) Rollback(ctx context.Context, reason string) (*RollbackResult, error) {
	ctx, span := m.tracer.StartRollback(ctx, reason)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		m.tracer.EndWithError(span, ErrNoTransaction)
		return nil, ErrNoTransaction
	}

	tx := m.active
	result := m.rb.rollback(context.WithoutCancel(ctx), tx)

	tx.Status = StatusRolledBack
	tx.AbortedAt = timestamp(nowFunc())
	tx.recordReason(reason)
	m.persist(tx)
	recordRollback(ctx, tx.RollbackMethod)
	recordEnd(ctx)

	m.logger.Info("transaction rolled back",
		"tx_id", tx.TxID,
		"reason", reason,
		"restored", result.Restored,
		"failed", result.Failed)

	m.clearSlot()
	return result, nil
}

// Abort ends the transaction without restoring files. Backups are
// discarded; the workspace keeps whatever state the tools left behind.
func (m *Manager) Abort(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ErrNoTransaction
	}

	tx := m.active
	tx.Status = StatusAborted
	tx.AbortedAt = timestamp(nowFunc())
	tx.recordReason(reason)
	m.persist(tx)
	m.rb.discard(tx)
	recordEnd(ctx)

	m.logger.Info("transaction aborted", "tx_id", tx.TxID, "reason", reason)
	m.clearSlot()
	return nil
}

// Active returns a copy of the in-flight transaction, or nil.
func (m *Manager) Active() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	return m.active.clone()
}

// IsActive reports whether a transaction is in flight.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// clearSlot frees the transaction slot. Caller must hold m.mu.
func (m *Manager) clearSlot() {
	m.active = nil
	m.rb = nil
}

// computeHash returns a stable content hash over a set of files.
//
// # Description
//
// Paths are hashed in sorted order, so the hash is independent of the
// order tools list their targets. Unreadable files contribute a
// sentinel instead of failing the whole hash: "<file_not_found>" for
// missing files, "<read_error>" for anything else. An empty file list
// hashes to "".
func computeHash(files []string) string {
	if len(files) == 0 {
		return ""
	}

	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	h := sha256.New()
	for _, path := range sorted {
		h.Write([]byte(path))
		h.Write([]byte{0})

		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			h.Write([]byte("<file_not_found>"))
		case err != nil:
			h.Write([]byte("<read_error>"))
		default:
			h.Write(data)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
