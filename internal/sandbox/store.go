package sandbox

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

// Store manages sandbox persistence.
type Store struct {
	db *store.DB
}

// NewStore wraps the shared database.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new active sandbox. Name must be unique within a project.
func (s *Store) Create(ctx context.Context, project, name string) (*Sandbox, error) {
	project = strings.TrimSpace(project)
	name = strings.TrimSpace(name)
	if project == "" || name == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create sandbox", "project and name are required", nil)
	}

	now := time.Now()
	timestamp := store.FormatTime(now)
	res, err := s.db.Handle().ExecContext(
		ctx,
		`INSERT INTO sandboxes (project, name, state, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		project,
		name,
		string(StateActive),
		timestamp,
		timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, services.Wrap(services.ErrValidation, "", "create sandbox", fmt.Sprintf("sandbox %q already exists in project %q", name, project), nil)
		}
		return nil, fmt.Errorf("insert sandbox: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a sandbox by identifier; absence returns (nil, nil).
func (s *Store) Get(ctx context.Context, id int64) (*Sandbox, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT id, project, name, state, created_at, updated_at FROM sandboxes WHERE id = ?`,
		id,
	)
	sb, err := scanSandbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox: %w", err)
	}
	return sb, nil
}

// List returns sandboxes, optionally filtered by project, ordered by creation.
func (s *Store) List(ctx context.Context, project string) ([]*Sandbox, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(project) == "" {
		rows, err = s.db.Handle().QueryContext(ctx, `SELECT id, project, name, state, created_at, updated_at FROM sandboxes ORDER BY id`)
	} else {
		rows, err = s.db.Handle().QueryContext(ctx, `SELECT id, project, name, state, created_at, updated_at FROM sandboxes WHERE project = ? ORDER BY id`, project)
	}
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	defer rows.Close()

	var sandboxes []*Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, err
		}
		sandboxes = append(sandboxes, sb)
	}
	return sandboxes, rows.Err()
}

// SetState transitions a sandbox's lifecycle state.
func (s *Store) SetState(ctx context.Context, id int64, state State) error {
	res, err := s.db.Handle().ExecContext(
		ctx,
		`UPDATE sandboxes SET state = ?, updated_at = ? WHERE id = ?`,
		string(state),
		store.FormatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update sandbox state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "", "set sandbox state", fmt.Sprintf("sandbox %d does not exist", id), nil)
	}
	return nil
}

func scanSandbox(scanner interface{ Scan(dest ...any) error }) (*Sandbox, error) {
	var (
		sb         Sandbox
		state      string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&sb.ID, &sb.Project, &sb.Name, &state, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	sb.State = State(state)
	if created, err := store.ParseTime(createdRaw); err == nil {
		sb.CreatedAt = created
	}
	if updated, err := store.ParseTime(updatedRaw); err == nil {
		sb.UpdatedAt = updated
	}
	return &sb, nil
}
