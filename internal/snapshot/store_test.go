package snapshot_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"folio/internal/provider"
	"folio/internal/sandbox"
	"folio/internal/services"
	"folio/internal/snapshot"
	"folio/internal/testsupport"
	"folio/internal/track"
)

func mustTrack(t *testing.T, value string) track.Track {
	t.Helper()
	parsed, err := track.Parse(value)
	if err != nil {
		t.Fatalf("parse track %q: %v", value, err)
	}
	return parsed
}

func TestCreateRootOnce(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	root, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "import", "", "import.filesystem", "")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if !root.Track.IsRoot() {
		t.Fatalf("root track = %q", root.Track)
	}

	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "import.filesystem", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("second CreateRoot should fail with validation error, got %v", err)
	}
}

func TestDerivedChildrenKeepCreationOrder(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatal(err)
	}
	first, err := snapshots.CreateDerived(ctx, sb.ID, track.Root, provider.CategoryPreprocess, "", "", "P1", "")
	if err != nil {
		t.Fatalf("CreateDerived: %v", err)
	}
	second, err := snapshots.CreateDerived(ctx, sb.ID, track.Root, provider.CategoryCharRec, "", "", "P2", "")
	if err != nil {
		t.Fatalf("CreateDerived: %v", err)
	}

	if first.Track.String() != "0" || second.Track.String() != "1" {
		t.Fatalf("tracks = %q, %q; want 0, 1", first.Track, second.Track)
	}

	children, err := snapshots.Children(ctx, sb.ID, track.Root)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d children", len(children))
	}
	if children[0].ProviderID != "P1" || children[1].ProviderID != "P2" {
		t.Fatalf("children out of order: %s, %s", children[0].ProviderID, children[1].ProviderID)
	}
}

func TestGetPathReturnsPrefixes(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := snapshots.CreateDerived(ctx, sb.ID, track.Root, provider.CategoryPreprocess, "", "", "P1", ""); err != nil {
		t.Fatal(err)
	}
	leaf, err := snapshots.CreateDerived(ctx, sb.ID, mustTrack(t, "0"), provider.CategoryCharRec, "", "", "P2", "")
	if err != nil {
		t.Fatal(err)
	}

	path, err := snapshots.GetPath(ctx, sb.ID, leaf.Track)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 {
		t.Fatalf("path length = %d, want 3", len(path))
	}
	for i, want := range []string{"", "0", "0.0"} {
		if path[i].Track.String() != want {
			t.Fatalf("path[%d] = %q, want %q", i, path[i].Track, want)
		}
	}

	// Repeated calls before any reset return identical results.
	again, err := snapshots.GetPath(ctx, sb.ID, leaf.Track)
	if err != nil {
		t.Fatal(err)
	}
	for i := range path {
		if !path[i].Track.Equal(again[i].Track) || path[i].ID != again[i].ID {
			t.Fatal("GetPath results changed between calls")
		}
	}
}

func TestGetPathAbsentTrack(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatal(err)
	}

	path, err := snapshots.GetPath(ctx, sb.ID, mustTrack(t, "4.2"))
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if path != nil {
		t.Fatal("absent track should yield nil path")
	}
	leaf, err := snapshots.GetLeaf(ctx, sb.ID, mustTrack(t, "9"))
	if err != nil || leaf != nil {
		t.Fatalf("GetLeaf absent = (%v, %v), want (nil, nil)", leaf, err)
	}
}

func TestExportSnapshotsAreTerminal(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatal(err)
	}
	exported, err := snapshots.CreateDerived(ctx, sb.ID, track.Root, provider.CategoryExport, "", "", "export.archive", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := snapshots.CreateDerived(ctx, sb.ID, exported.Track, provider.CategoryAction, "", "", "P3", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("derivation under export node should fail, got %v", err)
	}
}

func TestResetRemovesSubtreeKeepsTarget(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	// Scenario from the digitization workflow: root via P0, children via P1 and P2.
	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := snapshots.CreateDerived(ctx, sb.ID, track.Root, provider.CategoryPreprocess, "", "", "P1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := snapshots.CreateDerived(ctx, sb.ID, track.Root, provider.CategoryCharRec, "", "", "P2", ""); err != nil {
		t.Fatal(err)
	}

	if err := snapshots.Reset(ctx, sb.ID, track.Root); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	root, err := snapshots.GetLeaf(ctx, sb.ID, track.Root)
	if err != nil || root == nil {
		t.Fatalf("root should survive reset: (%v, %v)", root, err)
	}
	children, err := snapshots.Children(ctx, sb.ID, track.Root)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 0 {
		t.Fatalf("children remain after reset: %d", len(children))
	}
}

func TestClearRemovesWholeTreeAndLogs(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	root, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := snapshots.CreateDerived(ctx, sb.ID, root.Track, provider.CategoryPreprocess, "", "", "P1", ""); err != nil {
		t.Fatal(err)
	}

	if err := snapshots.Clear(ctx, sb.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	leaf, err := snapshots.GetLeaf(ctx, sb.ID, track.Root)
	if err != nil {
		t.Fatal(err)
	}
	if leaf != nil {
		t.Fatal("root should not survive a sandbox-level clear")
	}

	entries, err := snapshots.SandboxHistory(ctx, sb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[len(entries)-1].Level != snapshot.LevelInfo {
		t.Fatal("clear should append an info-level sandbox entry")
	}

	// The cleared tree accepts a fresh root.
	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatalf("re-root after clear: %v", err)
	}
}

func TestResetChildlessIsNoOpAndLogs(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatal(err)
	}

	before, err := snapshots.SandboxHistory(ctx, sb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := snapshots.Reset(ctx, sb.ID, track.Root); err != nil {
		t.Fatalf("Reset on childless root: %v", err)
	}
	after, err := snapshots.SandboxHistory(ctx, sb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("reset did not log: %d -> %d entries", len(before), len(after))
	}
}

func TestResetUnresolvableTrackFailsAndLogs(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if err := snapshots.Reset(ctx, sb.ID, mustTrack(t, "3")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	entries, err := snapshots.SandboxHistory(ctx, sb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[len(entries)-1].Level != snapshot.LevelError {
		t.Fatal("failed reset should append an error-level sandbox entry")
	}
}

func TestSnapshotCreationGatedBySandboxState(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	sandboxes := sandbox.NewStore(db)
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if err := sandboxes.SetState(ctx, sb.ID, sandbox.StatePaused); err != nil {
		t.Fatal(err)
	}
	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("paused sandbox must refuse snapshot creation, got %v", err)
	}
}

func TestConcurrentDerivationsNeverCollide(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	if _, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", ""); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	tracks := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			snap, err := snapshots.CreateDerived(ctx, sb.ID, track.Root, provider.CategoryAction, "", "", "P1", "")
			if err != nil {
				errs[slot] = err
				return
			}
			tracks[slot] = snap.Track.String()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int, workers)
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		seen[tracks[i]]++
	}
	if len(seen) != workers {
		t.Fatalf("track collision: %v", seen)
	}
}

func TestHistoryPerNode(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "run-1")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	root, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "", "", "P0", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := snapshots.AppendHistory(ctx, sb.ID, &root.Track, snapshot.LevelWarn, "premise not met: no pages staged"); err != nil {
		t.Fatal(err)
	}

	entries, err := snapshots.History(ctx, sb.ID, root.Track)
	if err != nil {
		t.Fatal(err)
	}
	// Creation entry plus the explicit warn entry.
	if len(entries) != 2 {
		t.Fatalf("history length = %d, want 2", len(entries))
	}
	if entries[1].Level != snapshot.LevelWarn {
		t.Fatalf("entries[1].Level = %s", entries[1].Level)
	}
}
