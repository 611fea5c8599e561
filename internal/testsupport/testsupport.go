// Package testsupport provides shared helpers for package tests: temp-dir
// configs, throwaway databases, and seeded sandboxes.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"folio/internal/config"
	"folio/internal/sandbox"
	"folio/internal/store"
)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspaces")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "folio.sock")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// MustOpenDB opens a throwaway database file and registers cleanup.
func MustOpenDB(t testing.TB) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "folio.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// NewSandbox creates an active sandbox for tests using the provided database.
func NewSandbox(t testing.TB, db *store.DB, project, name string) *sandbox.Sandbox {
	t.Helper()

	sb, err := sandbox.NewStore(db).Create(context.Background(), project, name)
	if err != nil {
		t.Fatalf("sandbox.Create: %v", err)
	}
	return sb
}
