package store_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"folio/internal/provider"
	"folio/internal/snapshot"
	"folio/internal/testsupport"
)

func TestExportHistory(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	sb := testsupport.NewSandbox(t, db, "atlas", "census-1890")
	snapshots := snapshot.NewStore(db)
	ctx := context.Background()

	root, err := snapshots.CreateRoot(ctx, sb.ID, provider.CategoryImport, "intake", "raw scans", "import.filesystem", "")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if _, err := snapshots.CreateDerived(ctx, sb.ID, root.Track, provider.CategoryPreprocess, "gray", "", "preprocessing.grayscale", ""); err != nil {
		t.Fatalf("CreateDerived: %v", err)
	}
	if err := snapshots.AppendHistory(ctx, sb.ID, &root.Track, snapshot.LevelInfo, "imported 12 pages"); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	var buf bytes.Buffer
	if err := db.ExportHistory(ctx, &buf); err != nil {
		t.Fatalf("ExportHistory: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}

	entries := make(map[string]*zip.File, len(reader.File))
	for _, file := range reader.File {
		entries[file.Name] = file
	}

	snapshotsName := fmt.Sprintf("sandbox-%d/snapshots.json", sb.ID)
	historyName := fmt.Sprintf("sandbox-%d/history.json", sb.ID)
	for _, name := range []string{snapshotsName, historyName} {
		if _, ok := entries[name]; !ok {
			t.Fatalf("archive missing entry %s (have %v)", name, archiveNames(reader))
		}
	}

	var exportedSnapshots []map[string]any
	readArchiveJSON(t, entries[snapshotsName], &exportedSnapshots)
	if len(exportedSnapshots) != 2 {
		t.Fatalf("exported %d snapshots, want 2", len(exportedSnapshots))
	}
	if exportedSnapshots[0]["provider_id"] != "import.filesystem" {
		t.Fatalf("first snapshot provider = %v", exportedSnapshots[0]["provider_id"])
	}

	var exportedHistory []map[string]any
	readArchiveJSON(t, entries[historyName], &exportedHistory)
	found := false
	for _, entry := range exportedHistory {
		if message, _ := entry["message"].(string); strings.Contains(message, "imported 12 pages") {
			found = true
		}
	}
	if !found {
		t.Fatal("history export missing appended entry")
	}
}

func TestExportHistoryEmptyDatabase(t *testing.T) {
	db := testsupport.MustOpenDB(t)

	var buf bytes.Buffer
	if err := db.ExportHistory(context.Background(), &buf); err != nil {
		t.Fatalf("ExportHistory: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(reader.File) != 0 {
		t.Fatalf("empty database should export an empty archive, got %v", archiveNames(reader))
	}
}

func readArchiveJSON(t *testing.T, file *zip.File, target any) {
	t.Helper()
	rc, err := file.Open()
	if err != nil {
		t.Fatalf("open %s: %v", file.Name, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(target); err != nil {
		t.Fatalf("decode %s: %v", file.Name, err)
	}
}

func archiveNames(reader *zip.Reader) []string {
	names := make([]string, 0, len(reader.File))
	for _, file := range reader.File {
		names = append(names, file.Name)
	}
	return names
}
