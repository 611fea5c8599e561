package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running")
	requireContains(t, out, env.cfg.DatabasePath())
}

func TestSandboxCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"sandbox", "create", "atlas", "box-a"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sandbox create: %v", err)
	}
	requireContains(t, out, "atlas/box-a")

	out, _, err = runCLI(t, []string{"sandbox", "list", "--project", "atlas"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sandbox list: %v", err)
	}
	requireContains(t, out, "box-a")
	requireContains(t, out, "active")

	out, _, err = runCLI(t, []string{"sandbox", "set-state", "1", "paused"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sandbox set-state: %v", err)
	}
	requireContains(t, out, "paused")
}

func TestWorkflowInstallCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	definition := "name: intake\nprocessors:\n  ingest:\n    provider: fs-import\n    category: import\n    args:\n      source: /tmp/in\nsteps:\n  - processor: ingest\n"
	path := filepath.Join(t.TempDir(), "intake.yaml")
	if err := os.WriteFile(path, []byte(definition), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}

	out, _, err := runCLI(t, []string{"workflow", "install", path}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("workflow install: %v", err)
	}
	requireContains(t, out, "intake")

	out, _, err = runCLI(t, []string{"workflow", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("workflow list: %v", err)
	}
	requireContains(t, out, "intake")

	out, _, err = runCLI(t, []string{"workflow", "show", "intake"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("workflow show: %v", err)
	}
	requireContains(t, out, "fs-import")
}

func TestSnapshotResetRequiresConfirmation(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"snapshot", "reset", "--sandbox", "1"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected reset without --yes to fail")
	}
	requireContains(t, err.Error(), "--yes")
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "unused.sock", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "unused.sock", ""); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
}
