package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"folio/internal/services"
	"folio/internal/store"
)

// Record is a persisted workflow template.
type Record struct {
	ID         int64
	Name       string
	Definition *Definition
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store persists workflow definitions in sqlite. Definitions are stored as
// their YAML encoding so installed templates survive restarts unchanged.
type Store struct {
	db *store.DB
}

// NewStore wraps the shared database handle.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Save installs a definition under its name, replacing any previous version.
func (s *Store) Save(ctx context.Context, def *Definition) (*Record, error) {
	if def == nil || strings.TrimSpace(def.Name) == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "save", "definition name required", nil)
	}
	encoded, err := def.Encode()
	if err != nil {
		return nil, err
	}
	now := store.FormatTime(time.Now().UTC())
	_, err = s.db.Handle().ExecContext(ctx, `
INSERT INTO workflows (name, definition, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET definition = excluded.definition, updated_at = excluded.updated_at`,
		def.Name, string(encoded), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save workflow %q: %w", def.Name, err)
	}
	return s.Get(ctx, def.Name)
}

// Get returns the named workflow or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, name string) (*Record, error) {
	row := s.db.Handle().QueryRowContext(ctx, `
SELECT id, name, definition, created_at, updated_at FROM workflows WHERE name = ?`, name)
	return scanRecord(row)
}

// GetByID returns the workflow with the given id or (nil, nil) when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.Handle().QueryRowContext(ctx, `
SELECT id, name, definition, created_at, updated_at FROM workflows WHERE id = ?`, id)
	return scanRecord(row)
}

// List returns every installed workflow ordered by name.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.Handle().QueryContext(ctx, `
SELECT id, name, definition, created_at, updated_at FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes the named workflow. Unknown names are not-found errors.
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.Handle().ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "workflow", "delete", fmt.Sprintf("workflow %q not installed", name), nil)
	}
	return nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		record    Record
		encoded   string
		createdAt string
		updatedAt string
	)
	err := scanner.Scan(&record.ID, &record.Name, &encoded, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	def, err := Parse([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("workflow %q: stored definition invalid: %w", record.Name, err)
	}
	record.Definition = def
	if record.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if record.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &record, nil
}
