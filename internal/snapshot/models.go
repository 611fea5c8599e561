package snapshot

import (
	"time"

	"folio/internal/provider"
	"folio/internal/track"
)

// Level grades history entries.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Snapshot is one immutable node in a sandbox's checkpoint tree.
type Snapshot struct {
	ID           int64
	SandboxID    int64
	Track        track.Track
	Position     int
	Category     provider.Category
	ProviderID   string
	InitArgsJSON string
	Label        string
	Description  string
	CreatedAt    time.Time
}

// HistoryEntry is one timestamped, leveled log line attached to a snapshot
// (or to the sandbox itself when Track is nil).
type HistoryEntry struct {
	ID        int64
	SandboxID int64
	Track     *track.Track
	Level     Level
	Message   string
	CreatedAt time.Time
}
