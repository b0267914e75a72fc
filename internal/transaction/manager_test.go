// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// mockGit is a GitClient for tests: no git binary, no repository.
type mockGit struct {
	mu          sync.Mutex
	repo        bool
	head        string
	headErr     error
	checkoutErr map[string]error
	checkedOut  []string
}

func (g *mockGit) IsRepository(ctx context.Context, dir string) bool {
	return g.repo
}

func (g *mockGit) RevParse(ctx context.Context, dir, ref string) (string, error) {
	if g.headErr != nil {
		return "", g.headErr
	}
	return g.head, nil
}

func (g *mockGit) CheckoutFile(ctx context.Context, dir, ref, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.checkoutErr[path]; ok {
		return err
	}
	g.checkedOut = append(g.checkedOut, ref+":"+path)
	return nil
}

func newTestManager(t *testing.T, git GitClient) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	if git == nil {
		git = &mockGit{}
	}
	mgr, err := NewManager(Config{Workspace: root, Git: git})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestNewManager_RequiresWorkspace(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBegin_MutualExclusion(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.Begin(ctx, "task-1"); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if _, err := mgr.Begin(ctx, "task-2"); !errors.Is(err, ErrTransactionActive) {
		t.Fatalf("expected ErrTransactionActive, got %v", err)
	}

	if _, err := mgr.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := mgr.Begin(ctx, "task-2"); err != nil {
		t.Fatalf("Begin after Commit: %v", err)
	}
}

func TestBegin_PicksRollbackMethod(t *testing.T) {
	tests := []struct {
		name string
		repo bool
		want RollbackMethod
	}{
		{"git repository", true, RollbackGitCheckout},
		{"plain directory", false, RollbackFileRestore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, _ := newTestManager(t, &mockGit{repo: tt.repo, head: "abc123"})

			tx, err := mgr.Begin(context.Background(), "task")
			if err != nil {
				t.Fatalf("Begin: %v", err)
			}
			if tx.RollbackMethod != tt.want {
				t.Errorf("method = %s, want %s", tx.RollbackMethod, tt.want)
			}
		})
	}
}

func TestOperations_RequireActiveTransaction(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.RecordAction(ctx, "tool", nil, nil); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("RecordAction: expected ErrNoTransaction, got %v", err)
	}
	if err := mgr.CompleteAction(ctx, ActionHandle{}, "", nil); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("CompleteAction: expected ErrNoTransaction, got %v", err)
	}
	if _, err := mgr.Commit(ctx); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Commit: expected ErrNoTransaction, got %v", err)
	}
	if _, err := mgr.Rollback(ctx, "x"); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Rollback: expected ErrNoTransaction, got %v", err)
	}
	if err := mgr.Abort(ctx, "x"); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Abort: expected ErrNoTransaction, got %v", err)
	}
	if mgr.IsActive() {
		t.Error("IsActive should be false")
	}
	if mgr.Active() != nil {
		t.Error("Active should be nil")
	}
}

func TestFileRestore_RollbackRestoresContent(t *testing.T) {
	mgr, root := newTestManager(t, nil)
	ctx := context.Background()

	path := filepath.Join(root, "main.go")
	writeFile(t, path, "v1")

	tx, err := mgr.BeginWithMethod(ctx, "task", RollbackFileRestore)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	handle, err := mgr.RecordAction(ctx, "write_file", nil, []string{path})
	if err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	writeFile(t, path, "v2")
	if err := mgr.CompleteAction(ctx, handle, "ok", nil); err != nil {
		t.Fatalf("CompleteAction: %v", err)
	}

	result, err := mgr.Rollback(ctx, "tool failed")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if got := readFile(t, path); got != "v1" {
		t.Errorf("content after rollback = %q, want %q", got, "v1")
	}
	if result.Restored != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want 1 restored, 0 failed", result)
	}

	backupDir := filepath.Join(root, ".rev", "tx_backups", tx.TxID)
	if _, err := os.Stat(backupDir); !os.IsNotExist(err) {
		t.Errorf("backup dir should be removed after rollback")
	}
}

func TestFileRestore_CreatedFileRemovedOnRollback(t *testing.T) {
	mgr, root := newTestManager(t, nil)
	ctx := context.Background()

	path := filepath.Join(root, "new.go")

	if _, err := mgr.BeginWithMethod(ctx, "task", RollbackFileRestore); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	handle, err := mgr.RecordAction(ctx, "write_file", nil, []string{path})
	if err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	writeFile(t, path, "created during tx")
	if err := mgr.CompleteAction(ctx, handle, "ok", nil); err != nil {
		t.Fatalf("CompleteAction: %v", err)
	}

	result, err := mgr.Rollback(ctx, "failed")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file created during the transaction should be removed")
	}
	if len(result.Files) != 1 || result.Files[0].Status != FileRemoved {
		t.Errorf("result files = %+v, want one %s", result.Files, FileRemoved)
	}
}

func TestCommit_DiscardsBackups(t *testing.T) {
	mgr, root := newTestManager(t, nil)
	ctx := context.Background()

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "v1")

	tx, err := mgr.BeginWithMethod(ctx, "task", RollbackFileRestore)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := mgr.RecordAction(ctx, "write_file", nil, []string{path}); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	writeFile(t, path, "v2")

	committed, err := mgr.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if committed.Status != StatusCommitted {
		t.Errorf("status = %s, want %s", committed.Status, StatusCommitted)
	}
	if committed.CommittedAt == "" {
		t.Error("CommittedAt should be set")
	}

	if got := readFile(t, path); got != "v2" {
		t.Errorf("commit must keep the new content, got %q", got)
	}
	backupDir := filepath.Join(root, ".rev", "tx_backups", tx.TxID)
	if _, err := os.Stat(backupDir); !os.IsNotExist(err) {
		t.Error("backup dir should be removed after commit")
	}
}

func TestAbort_LeavesFilesAlone(t *testing.T) {
	mgr, root := newTestManager(t, nil)
	ctx := context.Background()

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "v1")

	if _, err := mgr.BeginWithMethod(ctx, "task", RollbackFileRestore); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := mgr.RecordAction(ctx, "write_file", nil, []string{path}); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	writeFile(t, path, "v2")

	if err := mgr.Abort(ctx, "user gave up"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if got := readFile(t, path); got != "v2" {
		t.Errorf("abort must not restore files, got %q", got)
	}
	if mgr.IsActive() {
		t.Error("slot should be free after abort")
	}

	history, err := mgr.History(1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got := history[0].RollbackData["reason"]; got != "user gave up" {
		t.Errorf("logged abort reason = %v, want %q", got, "user gave up")
	}
}

func TestRollback_ReasonPersisted(t *testing.T) {
	mgr, root := newTestManager(t, nil)
	ctx := context.Background()

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "v1")

	if _, err := mgr.BeginWithMethod(ctx, "task", RollbackFileRestore); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := mgr.RecordAction(ctx, "write_file", nil, []string{path}); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	writeFile(t, path, "v2")

	if _, err := mgr.Rollback(ctx, "tool exploded"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	// The durable record must carry why, not just the log line.
	history, err := mgr.History(1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	tx := history[0]
	if tx.Status != StatusRolledBack {
		t.Fatalf("status = %s, want %s", tx.Status, StatusRolledBack)
	}
	if got := tx.RollbackData["reason"]; got != "tool exploded" {
		t.Errorf("rollback_data[reason] = %v, want %q", got, "tool exploded")
	}
	// The backup dir entry written at Begin is still there alongside it.
	if _, ok := tx.RollbackData["backup_dir"]; !ok {
		t.Error("recording the reason must not drop existing rollback data")
	}
}

func TestGitCheckout_RollbackUsesPinnedRef(t *testing.T) {
	git := &mockGit{repo: true, head: "abc123"}
	mgr, root := newTestManager(t, git)
	ctx := context.Background()

	a := filepath.Join(root, "a.go")
	b := filepath.Join(root, "b.go")

	if _, err := mgr.Begin(ctx, "task"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := mgr.RecordAction(ctx, "edit", nil, []string{a, b}); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	// The same file in a second action must be checked out only once.
	if _, err := mgr.RecordAction(ctx, "edit", nil, []string{a}); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}

	result, err := mgr.Rollback(ctx, "failed")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if result.Restored != 2 {
		t.Errorf("restored = %d, want 2", result.Restored)
	}

	want := []string{"abc123:" + a, "abc123:" + b}
	if len(git.checkedOut) != len(want) {
		t.Fatalf("checkouts = %v, want %v", git.checkedOut, want)
	}
	for i := range want {
		if git.checkedOut[i] != want[i] {
			t.Errorf("checkout[%d] = %s, want %s", i, git.checkedOut[i], want[i])
		}
	}
}

func TestGitCheckout_PartialFailureIsReported(t *testing.T) {
	git := &mockGit{
		repo: true,
		head: "abc123",
		checkoutErr: map[string]error{
			"b.go": errors.New("pathspec did not match"),
		},
	}
	mgr, _ := newTestManager(t, git)
	ctx := context.Background()

	if _, err := mgr.Begin(ctx, "task"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := mgr.RecordAction(ctx, "edit", nil, []string{"a.go", "b.go"}); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}

	result, err := mgr.Rollback(ctx, "failed")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if result.Restored != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 restored, 1 failed", result)
	}
}

func TestGitCheckout_HeadPinFallback(t *testing.T) {
	git := &mockGit{repo: true, headErr: errors.New("ambiguous HEAD")}
	mgr, _ := newTestManager(t, git)
	ctx := context.Background()

	tx, err := mgr.Begin(ctx, "task")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if ref := tx.RollbackData["ref"]; ref != "HEAD" {
		t.Errorf("ref = %v, want symbolic HEAD fallback", ref)
	}
}

func TestCompleteAction_HashesChange(t *testing.T) {
	mgr, root := newTestManager(t, nil)
	ctx := context.Background()

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "v1")

	if _, err := mgr.BeginWithMethod(ctx, "task", RollbackFileRestore); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	handle, err := mgr.RecordAction(ctx, "write_file", nil, []string{path})
	if err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	writeFile(t, path, "v2")
	if err := mgr.CompleteAction(ctx, handle, "ok", fmt.Errorf("partial write")); err != nil {
		t.Fatalf("CompleteAction: %v", err)
	}

	active := mgr.Active()
	if len(active.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(active.Actions))
	}
	action := active.Actions[0]
	if action.HashBefore == "" || action.HashAfter == "" {
		t.Fatal("both hashes should be set")
	}
	if action.HashBefore == action.HashAfter {
		t.Error("hash_after must reflect the mutated content")
	}
	if action.Error != "partial write" {
		t.Errorf("error = %q", action.Error)
	}
}

func TestCompleteAction_StaleHandleRejected(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := mgr.BeginWithMethod(ctx, "task-1", RollbackNone); err != nil {
		t.Fatal(err)
	}
	handle, err := mgr.RecordAction(ctx, "tool", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.BeginWithMethod(ctx, "task-2", RollbackNone); err != nil {
		t.Fatal(err)
	}
	if err := mgr.CompleteAction(ctx, handle, "late", nil); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("handle from an ended transaction must be rejected, got %v", err)
	}
}

func TestComputeHash(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	writeFile(t, a, "alpha")
	writeFile(t, b, "beta")

	if got := computeHash(nil); got != "" {
		t.Errorf("empty file list should hash to empty string, got %q", got)
	}

	h1 := computeHash([]string{a, b})
	h2 := computeHash([]string{b, a})
	if h1 != h2 {
		t.Error("hash must be independent of file order")
	}

	missing := filepath.Join(root, "missing.txt")
	if computeHash([]string{missing}) == computeHash([]string{a}) {
		t.Error("missing file must hash differently from an existing one")
	}
	// Deterministic for missing files too.
	if computeHash([]string{missing}) != computeHash([]string{missing}) {
		t.Error("missing-file hash must be stable")
	}

	writeFile(t, a, "changed")
	if computeHash([]string{a, b}) == h1 {
		t.Error("content change must change the hash")
	}
}
