// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transaction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxLogLineBytes bounds a single JSONL record when reading the log.
// Transactions with many actions can produce long lines.
const maxLogLineBytes = 16 * 1024 * 1024

// appendToLog appends one JSONL record for tx to the log file.
//
// The log is append-only: every state change re-appends the full
// transaction, and readers keep the last record per tx_id. A failed
// append is returned to the caller but never blocks the transaction
// itself.
func (m *Manager) appendToLog(tx *Transaction) error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.LogPath), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}

	f, err := os.OpenFile(m.cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing log: %w", err)
	}
	return nil
}

// persist appends tx to the log, logging (not failing on) errors.
func (m *Manager) persist(tx *Transaction) {
	if err := m.appendToLog(tx); err != nil {
		m.logger.Warn("transaction log append failed",
			"tx_id", tx.TxID,
			"error", err)
	}
}

// readLog returns the latest record per tx_id, in chronological order
// of first appearance. Malformed lines are skipped.
func (m *Manager) readLog() ([]*Transaction, error) {
	f, err := os.Open(m.cfg.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	latest := make(map[string]*Transaction)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLogLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tx Transaction
		if err := json.Unmarshal(line, &tx); err != nil || tx.TxID == "" {
			m.logger.Debug("skipping malformed log line", "error", err)
			continue
		}
		if _, seen := latest[tx.TxID]; !seen {
			order = append(order, tx.TxID)
		}
		txCopy := tx
		latest[tx.TxID] = &txCopy
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}

	result := make([]*Transaction, 0, len(order))
	for _, id := range order {
		result = append(result, latest[id])
	}
	return result, nil
}

// History returns up to limit transactions, most recent first.
// A non-positive limit returns everything.
func (m *Manager) History(limit int) ([]*Transaction, error) {
	all, err := m.readLog()
	if err != nil {
		return nil, err
	}

	// Reverse: the log is chronological, history reads newest-first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Stats summarizes the transaction log.
type Stats struct {
	Total        int      `json:"total"`
	Committed    int      `json:"committed"`
	RolledBack   int      `json:"rolled_back"`
	Aborted      int      `json:"aborted"`
	Active       int      `json:"active"`
	TotalActions int      `json:"total_actions"`
	Recent       []string `json:"recent,omitempty"`
}

// Statistics aggregates the log by final status. Recent holds the IDs
// of the five most recent transactions, newest first.
func (m *Manager) Statistics() (*Stats, error) {
	all, err := m.readLog()
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(all)}
	for _, tx := range all {
		stats.TotalActions += len(tx.Actions)
		switch tx.Status {
		case StatusCommitted:
			stats.Committed++
		case StatusRolledBack:
			stats.RolledBack++
		case StatusAborted:
			stats.Aborted++
		case StatusActive:
			stats.Active++
		}
	}

	for i := len(all) - 1; i >= 0 && len(stats.Recent) < 5; i-- {
		stats.Recent = append(stats.Recent, all[i].TxID)
	}
	return stats, nil
}

// RecoverStale marks transactions left ACTIVE by a previous process as
// ABORTED. Called at startup, before any new Begin.
func (m *Manager) RecoverStale() (int, error) {
	all, err := m.readLog()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, tx := range all {
		if tx.Status != StatusActive {
			continue
		}
		tx.Status = StatusAborted
		tx.AbortedAt = timestamp(nowFunc())
		if err := m.appendToLog(tx); err != nil {
			return recovered, err
		}
		m.logger.Info("recovered stale transaction",
			"tx_id", tx.TxID,
			"task_id", tx.TaskID)
		recovered++
	}
	return recovered, nil
}
