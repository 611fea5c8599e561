package daemon

import (
	"context"
	"testing"

	"folio/internal/logging"
	"folio/internal/provider"
	"folio/internal/testsupport"
)

func TestStartStopLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status := d.Status()
	if !status.Running {
		t.Fatal("expected running status after Start")
	}
	if status.Providers == 0 {
		t.Fatal("expected builtin providers registered")
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("database path = %q, want %q", status.DatabasePath, cfg.DatabasePath())
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected stopped status after Stop")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer first.Close()
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	defer second.Close()
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected second instance to fail lock acquisition")
	}
}

func TestBuiltinProvidersCoverPipelineCategories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	for _, category := range []provider.Category{
		provider.CategoryImport,
		provider.CategoryPreprocess,
		provider.CategoryLayout,
		provider.CategoryCharRec,
		provider.CategoryPostCorrect,
		provider.CategoryExport,
	} {
		if len(d.Registry().Providers(category)) == 0 {
			t.Errorf("no builtin provider for category %s", category)
		}
	}
}
