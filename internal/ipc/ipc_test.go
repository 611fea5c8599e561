package ipc_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"folio/internal/daemon"
	"folio/internal/ipc"
	"folio/internal/logging"
	"folio/internal/testsupport"
)

type fixture struct {
	client *ipc.Client
	socket string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logging.NewNop())
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{client: client, socket: cfg.Paths.SocketPath}
}

func TestPingAndStatus(t *testing.T) {
	f := newFixture(t)

	ping, err := f.client.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !ping.Alive {
		t.Fatal("expected alive ping")
	}

	status, err := f.client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running daemon")
	}
	if status.Providers == 0 {
		t.Fatal("expected builtin providers in status")
	}
}

func TestSandboxAndWorkflowRoundTrip(t *testing.T) {
	f := newFixture(t)

	created, err := f.client.SandboxCreate("atlas", "box-a")
	if err != nil {
		t.Fatalf("SandboxCreate: %v", err)
	}
	if created.Sandbox.State != "active" {
		t.Fatalf("new sandbox state = %q, want active", created.Sandbox.State)
	}

	listed, err := f.client.SandboxList("atlas")
	if err != nil {
		t.Fatalf("SandboxList: %v", err)
	}
	if len(listed.Sandboxes) != 1 || listed.Sandboxes[0].ID != created.Sandbox.ID {
		t.Fatalf("unexpected sandbox list: %+v", listed.Sandboxes)
	}

	if _, err := f.client.SandboxSetState(created.Sandbox.ID, "paused"); err != nil {
		t.Fatalf("SandboxSetState: %v", err)
	}
	if _, err := f.client.SandboxSetState(created.Sandbox.ID, "bogus"); err == nil {
		t.Fatal("expected error for unknown sandbox state")
	}

	def := "name: intake\nprocessors:\n  ingest:\n    provider: fs-import\n    category: import\n    args:\n      source: /tmp/in\nsteps:\n  - processor: ingest\n"
	installed, err := f.client.WorkflowInstall(def)
	if err != nil {
		t.Fatalf("WorkflowInstall: %v", err)
	}
	if installed.Workflow.Name != "intake" || installed.Workflow.Steps != 1 {
		t.Fatalf("unexpected workflow summary: %+v", installed.Workflow)
	}

	workflows, err := f.client.WorkflowList()
	if err != nil {
		t.Fatalf("WorkflowList: %v", err)
	}
	if len(workflows.Workflows) != 1 {
		t.Fatalf("workflow list length = %d, want 1", len(workflows.Workflows))
	}

	shown, err := f.client.WorkflowShow("intake")
	if err != nil {
		t.Fatalf("WorkflowShow: %v", err)
	}
	if shown.Definition == "" {
		t.Fatal("expected encoded definition")
	}
	if _, err := f.client.WorkflowShow("missing"); err == nil {
		t.Fatal("expected error for unknown workflow")
	}

	if _, err := f.client.SandboxSetState(created.Sandbox.ID, "active"); err != nil {
		t.Fatalf("reactivate sandbox: %v", err)
	}
	reset, err := f.client.SandboxReset(created.Sandbox.ID)
	if err != nil {
		t.Fatalf("SandboxReset: %v", err)
	}
	if !reset.Reset {
		t.Fatal("expected reset acknowledgement")
	}
	history, err := f.client.History(created.Sandbox.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	found := false
	for _, entry := range history.Entries {
		if entry.Track == "" && entry.Level == "info" {
			found = true
		}
	}
	if !found {
		t.Fatal("sandbox reset should leave a sandbox-level history entry")
	}
	if _, err := f.client.SandboxReset(9999); err == nil {
		t.Fatal("expected error for unknown sandbox")
	}
}

func TestJobLifecycleOverSocket(t *testing.T) {
	f := newFixture(t)

	source := t.TempDir()
	for i := 0; i < 3; i++ {
		name := filepath.Join(source, fmt.Sprintf("page-%03d.png", i))
		if err := os.WriteFile(name, []byte("png-bytes"), 0o644); err != nil {
			t.Fatalf("seed source: %v", err)
		}
	}

	created, err := f.client.SandboxCreate("atlas", "box-run")
	if err != nil {
		t.Fatalf("SandboxCreate: %v", err)
	}

	def := fmt.Sprintf("name: intake\nprocessors:\n  ingest:\n    provider: fs-import\n    category: import\n    args:\n      source: %s\nsteps:\n  - processor: ingest\n", source)
	if _, err := f.client.WorkflowInstall(def); err != nil {
		t.Fatalf("WorkflowInstall: %v", err)
	}

	submitted, err := f.client.JobSubmit(ipc.JobSubmitRequest{
		Project:    "atlas",
		SandboxID:  created.Sandbox.ID,
		StartTrack: "",
		Workflow:   "intake",
	})
	if err != nil {
		t.Fatalf("JobSubmit: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	var state string
	for time.Now().Before(deadline) {
		status, err := f.client.JobStatus(submitted.Job.ID)
		if err != nil {
			t.Fatalf("JobStatus: %v", err)
		}
		state = status.Job.State
		if state == "completed" || state == "interrupted" || state == "canceled" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if state != "completed" {
		t.Fatalf("job state = %q, want completed", state)
	}

	jobs, err := f.client.JobList()
	if err != nil {
		t.Fatalf("JobList: %v", err)
	}
	if len(jobs.Jobs) != 1 || jobs.Jobs[0].ID != submitted.Job.ID {
		t.Fatalf("unexpected job list: %+v", jobs.Jobs)
	}

	described, err := f.client.SnapshotDescribe(created.Sandbox.ID, "")
	if err != nil {
		t.Fatalf("SnapshotDescribe: %v", err)
	}
	if described.Snapshot.ProviderID != "fs-import" {
		t.Fatalf("root snapshot provider = %q, want fs-import", described.Snapshot.ProviderID)
	}
	if len(described.History) == 0 {
		t.Fatal("expected history on the root snapshot")
	}

	children, err := f.client.SnapshotChildren(created.Sandbox.ID, "")
	if err != nil {
		t.Fatalf("SnapshotChildren: %v", err)
	}
	if len(children.Children) != 0 {
		t.Fatalf("unexpected root children: %+v", children.Children)
	}

	reset, err := f.client.SnapshotReset(created.Sandbox.ID, "")
	if err != nil {
		t.Fatalf("SnapshotReset: %v", err)
	}
	if !reset.Reset {
		t.Fatal("expected reset acknowledgement")
	}
	if _, err := f.client.SnapshotDescribe(created.Sandbox.ID, ""); err == nil {
		t.Fatal("expected describe to fail after reset")
	}
}
