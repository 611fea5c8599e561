package store

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type exportedHistoryEntry struct {
	Track     string    `json:"track,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type exportedSnapshot struct {
	Track       string    `json:"track"`
	Category    string    `json:"category"`
	ProviderID  string    `json:"provider_id"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportHistory writes a zip archive of every sandbox's snapshot metadata
// and history log to w. One JSON file per sandbox per kind.
func (d *DB) ExportHistory(ctx context.Context, w io.Writer) error {
	archive := zip.NewWriter(w)

	sandboxIDs, err := d.sandboxIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range sandboxIDs {
		snapshots, err := d.exportSnapshots(ctx, id)
		if err != nil {
			return err
		}
		if err := writeArchiveJSON(archive, fmt.Sprintf("sandbox-%d/snapshots.json", id), snapshots); err != nil {
			return err
		}

		history, err := d.exportHistory(ctx, id)
		if err != nil {
			return err
		}
		if err := writeArchiveJSON(archive, fmt.Sprintf("sandbox-%d/history.json", id), history); err != nil {
			return err
		}
	}

	if err := archive.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func (d *DB) sandboxIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id FROM sandboxes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sandboxes for export: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DB) exportSnapshots(ctx context.Context, sandboxID int64) ([]exportedSnapshot, error) {
	rows, err := d.sql.QueryContext(
		ctx,
		`SELECT track, category, provider_id, label, description, created_at
         FROM snapshots WHERE sandbox_id = ? ORDER BY id`,
		sandboxID,
	)
	if err != nil {
		return nil, fmt.Errorf("export snapshots: %w", err)
	}
	defer rows.Close()

	var out []exportedSnapshot
	for rows.Next() {
		var (
			snap       exportedSnapshot
			label      sql.NullString
			desc       sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&snap.Track, &snap.Category, &snap.ProviderID, &label, &desc, &createdRaw); err != nil {
			return nil, err
		}
		snap.Label = label.String
		snap.Description = desc.String
		if created, err := ParseTime(createdRaw); err == nil {
			snap.CreatedAt = created
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (d *DB) exportHistory(ctx context.Context, sandboxID int64) ([]exportedHistoryEntry, error) {
	rows, err := d.sql.QueryContext(
		ctx,
		`SELECT track, level, message, created_at
         FROM history_entries WHERE sandbox_id = ? ORDER BY id`,
		sandboxID,
	)
	if err != nil {
		return nil, fmt.Errorf("export history: %w", err)
	}
	defer rows.Close()

	var out []exportedHistoryEntry
	for rows.Next() {
		var (
			entry      exportedHistoryEntry
			trackValue sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&trackValue, &entry.Level, &entry.Message, &createdRaw); err != nil {
			return nil, err
		}
		entry.Track = trackValue.String
		if created, err := ParseTime(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func writeArchiveJSON(archive *zip.Writer, name string, payload any) error {
	entry, err := archive.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	encoder := json.NewEncoder(entry)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode archive entry %s: %w", name, err)
	}
	return nil
}
