package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"folio/internal/provider"
	"folio/internal/services"
	"folio/internal/store"
	"folio/internal/track"
)

// Store manages snapshot tree persistence. Structural mutation is serialized
// per sandbox so concurrent derivations under one parent never collide on a
// child index; reads run concurrently.
type Store struct {
	db *store.DB

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewStore wraps the shared database.
func NewStore(db *store.DB) *Store {
	return &Store{db: db, locks: make(map[int64]*sync.Mutex)}
}

func (s *Store) sandboxLock(sandboxID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sandboxID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sandboxID] = lock
	}
	return lock
}

// CreateRoot creates the root snapshot of a sandbox's tree. It fails when a
// root already exists or the sandbox does not accept snapshot creation.
func (s *Store) CreateRoot(ctx context.Context, sandboxID int64, category provider.Category, label, description, providerID, initArgsJSON string) (*Snapshot, error) {
	lock := s.sandboxLock(sandboxID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.checkSandboxAcceptsWrites(ctx, sandboxID); err != nil {
		return nil, err
	}

	existing, err := s.getByTrack(ctx, sandboxID, track.Root)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, services.Wrap(services.ErrValidation, string(category), "create root", "root snapshot already exists", nil)
	}

	return s.insert(ctx, sandboxID, track.Root, 0, category, providerID, initArgsJSON, label, description)
}

// CreateDerived creates a child snapshot under parentTrack, appending it at
// the next free child index. It fails when the parent is unresolvable or its
// category forbids derivation.
func (s *Store) CreateDerived(ctx context.Context, sandboxID int64, parentTrack track.Track, category provider.Category, label, description, providerID, initArgsJSON string) (*Snapshot, error) {
	lock := s.sandboxLock(sandboxID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.checkSandboxAcceptsWrites(ctx, sandboxID); err != nil {
		return nil, err
	}

	parent, err := s.getByTrack(ctx, sandboxID, parentTrack)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, services.Wrap(services.ErrNotFound, string(category), "create derived", fmt.Sprintf("parent track %q does not resolve", parentTrack.String()), nil)
	}
	if !parent.Category.AllowsDerivation() {
		return nil, services.Wrap(services.ErrValidation, string(category), "create derived", fmt.Sprintf("parent category %s is terminal", parent.Category), nil)
	}

	position, err := s.childCount(ctx, sandboxID, parentTrack)
	if err != nil {
		return nil, err
	}

	return s.insert(ctx, sandboxID, parentTrack.Child(position), position, category, providerID, initArgsJSON, label, description)
}

// GetLeaf fetches the snapshot addressed by t. Absence returns (nil, nil):
// an invalid or concurrently removed track, which callers treat per context.
func (s *Store) GetLeaf(ctx context.Context, sandboxID int64, t track.Track) (*Snapshot, error) {
	return s.getByTrack(ctx, sandboxID, t)
}

// GetPath returns the ordered snapshots from the root down to t inclusive.
// Absence of any prefix returns (nil, nil).
func (s *Store) GetPath(ctx context.Context, sandboxID int64, t track.Track) ([]*Snapshot, error) {
	path := make([]*Snapshot, 0, t.Depth()+1)
	for depth := 0; depth <= t.Depth(); depth++ {
		prefix := make(track.Track, depth)
		copy(prefix, t[:depth])
		snap, err := s.getByTrack(ctx, sandboxID, prefix)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, nil
		}
		path = append(path, snap)
	}
	return path, nil
}

// Children returns the direct children of t in creation order.
func (s *Store) Children(ctx context.Context, sandboxID int64, t track.Track) ([]*Snapshot, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
         WHERE sandbox_id = ? AND parent_track IS ?
         ORDER BY position`,
		sandboxID,
		parentTrackValue(t),
	)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	var children []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, snap)
	}
	return children, rows.Err()
}

// Reset deletes the subtree one level below t, keeping t itself. A childless
// target succeeds as a no-op. The outcome is always logged to the sandbox
// history. The per-sandbox lock serializes Reset behind any in-flight
// derivation, so a reset never observes a half-created child.
func (s *Store) Reset(ctx context.Context, sandboxID int64, t track.Track) error {
	lock := s.sandboxLock(sandboxID)
	lock.Lock()
	defer lock.Unlock()

	err := s.resetLocked(ctx, sandboxID, t)
	if err != nil {
		s.appendHistoryLocked(ctx, sandboxID, nil, LevelError, fmt.Sprintf("reset of track %q failed: %s", t.String(), services.Details(err)))
		return err
	}
	s.appendHistoryLocked(ctx, sandboxID, nil, LevelInfo, fmt.Sprintf("reset track %q: descendants removed", t.String()))
	return nil
}

// Clear removes the whole tree, root included. Sandbox-level history
// survives and records the outcome, so an admin reset stays auditable.
func (s *Store) Clear(ctx context.Context, sandboxID int64) error {
	lock := s.sandboxLock(sandboxID)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, execErr := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE sandbox_id = ?`, sandboxID); execErr != nil {
			return fmt.Errorf("delete tree: %w", execErr)
		}
		if _, execErr := tx.ExecContext(ctx, `DELETE FROM history_entries WHERE sandbox_id = ? AND track IS NOT NULL`, sandboxID); execErr != nil {
			return fmt.Errorf("delete tree history: %w", execErr)
		}
		return nil
	})
	if err != nil {
		s.appendHistoryLocked(ctx, sandboxID, nil, LevelError, fmt.Sprintf("sandbox reset failed: %s", services.Details(err)))
		return err
	}
	s.appendHistoryLocked(ctx, sandboxID, nil, LevelInfo, "sandbox reset: snapshot tree cleared")
	return nil
}

func (s *Store) resetLocked(ctx context.Context, sandboxID int64, t track.Track) error {
	if !t.IsRoot() {
		target, err := s.getByTrack(ctx, sandboxID, t)
		if err != nil {
			return err
		}
		if target == nil {
			return services.Wrap(services.ErrNotFound, "", "reset", fmt.Sprintf("track %q does not resolve", t.String()), nil)
		}
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if t.IsRoot() {
			res, err = tx.ExecContext(
				ctx,
				`DELETE FROM snapshots WHERE sandbox_id = ? AND track != ''`,
				sandboxID,
			)
		} else {
			// Descendants of t share the textual prefix "t." — the separator
			// prevents "0.1" from matching "0.10".
			res, err = tx.ExecContext(
				ctx,
				`DELETE FROM snapshots WHERE sandbox_id = ? AND track LIKE ?`,
				sandboxID,
				t.String()+".%",
			)
		}
		if err != nil {
			return fmt.Errorf("delete subtree: %w", err)
		}
		if _, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		// Drop history of removed nodes too; the sandbox-level log keeps the
		// record of the reset itself.
		if t.IsRoot() {
			_, err = tx.ExecContext(
				ctx,
				`DELETE FROM history_entries WHERE sandbox_id = ? AND track IS NOT NULL AND track != ''`,
				sandboxID,
			)
		} else {
			_, err = tx.ExecContext(
				ctx,
				`DELETE FROM history_entries WHERE sandbox_id = ? AND track LIKE ?`,
				sandboxID,
				t.String()+".%",
			)
		}
		if err != nil {
			return fmt.Errorf("delete subtree history: %w", err)
		}
		return nil
	})
}

// AppendHistory attaches a leveled entry to a snapshot's history, or to the
// sandbox itself when t is nil. Durability is part of the operation: the
// entry is committed before AppendHistory returns.
func (s *Store) AppendHistory(ctx context.Context, sandboxID int64, t *track.Track, level Level, message string) error {
	return s.appendHistoryLocked(ctx, sandboxID, t, level, message)
}

func (s *Store) appendHistoryLocked(ctx context.Context, sandboxID int64, t *track.Track, level Level, message string) error {
	var trackValue any
	if t != nil {
		trackValue = t.String()
	}
	_, err := s.db.Handle().ExecContext(
		ctx,
		`INSERT INTO history_entries (sandbox_id, track, level, message, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		sandboxID,
		trackValue,
		string(level),
		message,
		store.FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns a snapshot's entries oldest first.
func (s *Store) History(ctx context.Context, sandboxID int64, t track.Track) ([]*HistoryEntry, error) {
	return s.queryHistory(ctx, sandboxID, t.String(), false)
}

// SandboxHistory returns the sandbox-level entries oldest first.
func (s *Store) SandboxHistory(ctx context.Context, sandboxID int64) ([]*HistoryEntry, error) {
	return s.queryHistory(ctx, sandboxID, "", true)
}

func (s *Store) queryHistory(ctx context.Context, sandboxID int64, trackValue string, sandboxLevel bool) ([]*HistoryEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if sandboxLevel {
		rows, err = s.db.Handle().QueryContext(
			ctx,
			`SELECT id, sandbox_id, track, level, message, created_at
             FROM history_entries WHERE sandbox_id = ? AND track IS NULL ORDER BY id`,
			sandboxID,
		)
	} else {
		rows, err = s.db.Handle().QueryContext(
			ctx,
			`SELECT id, sandbox_id, track, level, message, created_at
             FROM history_entries WHERE sandbox_id = ? AND track = ? ORDER BY id`,
			sandboxID,
			trackValue,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var (
			entry      HistoryEntry
			trackRaw   sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.SandboxID, &trackRaw, &entry.Level, &entry.Message, &createdRaw); err != nil {
			return nil, err
		}
		if trackRaw.Valid {
			parsed, err := track.Parse(trackRaw.String)
			if err == nil {
				entry.Track = &parsed
			}
		}
		if created, err := store.ParseTime(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *Store) checkSandboxAcceptsWrites(ctx context.Context, sandboxID int64) error {
	var state string
	row := s.db.Handle().QueryRowContext(ctx, `SELECT state FROM sandboxes WHERE id = ?`, sandboxID)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "", "create snapshot", fmt.Sprintf("sandbox %d does not exist", sandboxID), nil)
		}
		return fmt.Errorf("read sandbox state: %w", err)
	}
	if state != "active" {
		return services.Wrap(services.ErrValidation, "", "create snapshot", fmt.Sprintf("sandbox %d is %s, snapshot creation requires active", sandboxID, state), nil)
	}
	return nil
}

func (s *Store) childCount(ctx context.Context, sandboxID int64, parent track.Track) (int, error) {
	var count int
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM snapshots WHERE sandbox_id = ? AND parent_track IS ?`,
		sandboxID,
		parentTrackValue(parent),
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return count, nil
}

func (s *Store) insert(ctx context.Context, sandboxID int64, t track.Track, position int, category provider.Category, providerID, initArgsJSON, label, description string) (*Snapshot, error) {
	now := time.Now()
	var parentValue any
	if !t.IsRoot() {
		parentValue = t.Parent().String()
	}
	res, err := s.db.Handle().ExecContext(
		ctx,
		`INSERT INTO snapshots (
            sandbox_id, track, parent_track, position, category, provider_id,
            init_args_json, label, description, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sandboxID,
		t.String(),
		parentValue,
		position,
		string(category),
		providerID,
		store.NullableString(initArgsJSON),
		store.NullableString(label),
		store.NullableString(description),
		store.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	created := &Snapshot{
		ID:           id,
		SandboxID:    sandboxID,
		Track:        t.Clone(),
		Position:     position,
		Category:     category,
		ProviderID:   providerID,
		InitArgsJSON: initArgsJSON,
		Label:        label,
		Description:  description,
		CreatedAt:    now.UTC(),
	}
	if err := s.appendHistoryLocked(ctx, sandboxID, &created.Track, LevelInfo, fmt.Sprintf("snapshot created by provider %s (%s)", providerID, category)); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) getByTrack(ctx context.Context, sandboxID int64, t track.Track) (*Snapshot, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE sandbox_id = ? AND track = ?`,
		sandboxID,
		t.String(),
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

const snapshotColumns = "id, sandbox_id, track, position, category, provider_id, init_args_json, label, description, created_at"

func scanSnapshot(scanner interface{ Scan(dest ...any) error }) (*Snapshot, error) {
	var (
		snap       Snapshot
		trackRaw   string
		category   string
		initArgs   sql.NullString
		label      sql.NullString
		desc       sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&snap.ID,
		&snap.SandboxID,
		&trackRaw,
		&snap.Position,
		&category,
		&snap.ProviderID,
		&initArgs,
		&label,
		&desc,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	parsed, err := track.Parse(trackRaw)
	if err != nil {
		return nil, fmt.Errorf("stored track %q: %w", trackRaw, err)
	}
	snap.Track = parsed
	snap.Category = provider.Category(category)
	snap.InitArgsJSON = initArgs.String
	snap.Label = label.String
	snap.Description = desc.String
	if created, err := store.ParseTime(createdRaw); err == nil {
		snap.CreatedAt = created
	}
	return &snap, nil
}

func parentTrackValue(parent track.Track) any {
	return parent.String()
}
