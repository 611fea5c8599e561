package ipc

import (
	"time"

	"folio/internal/job"
	"folio/internal/sandbox"
	"folio/internal/snapshot"
	"folio/internal/workflow"
)

// PingRequest checks daemon liveness.
type PingRequest struct{}

// PingResponse reports liveness.
type PingResponse struct {
	Alive bool `json:"alive"`
	PID   int  `json:"pid"`
}

// StatusRequest asks for the daemon runtime summary.
type StatusRequest struct{}

// StatusResponse mirrors daemon.Status.
type StatusResponse struct {
	Running      bool     `json:"running"`
	PID          int      `json:"pid"`
	DatabasePath string   `json:"database_path"`
	LockPath     string   `json:"lock_path"`
	SocketPath   string   `json:"socket_path"`
	Providers    int      `json:"providers"`
	Endpoints    []string `json:"endpoints,omitempty"`
	ActiveJobs   int      `json:"active_jobs"`
}

// JobView is the wire representation of a job.
type JobView struct {
	ID             string  `json:"id"`
	User           string  `json:"user,omitempty"`
	Project        string  `json:"project"`
	SandboxID      int64   `json:"sandbox_id"`
	StartTrack     string  `json:"start_track"`
	Workflow       string  `json:"workflow"`
	Mode           string  `json:"mode"`
	State          string  `json:"state"`
	StepsCompleted int     `json:"steps_completed"`
	TotalSteps     int     `json:"total_steps"`
	Progress       float64 `json:"progress"`
	Message        string  `json:"message,omitempty"`
	CreatedAt      string  `json:"created_at"`
	FinishedAt     string  `json:"finished_at,omitempty"`
}

func jobView(j *job.Job) JobView {
	view := JobView{
		ID:             j.ID,
		User:           j.User,
		Project:        j.Project,
		SandboxID:      j.SandboxID,
		StartTrack:     j.StartTrack.String(),
		Workflow:       j.WorkflowName,
		Mode:           string(j.Mode),
		State:          string(j.State),
		StepsCompleted: j.StepsCompleted,
		TotalSteps:     j.TotalSteps,
		Progress:       j.Progress(),
		Message:        j.Message,
		CreatedAt:      formatTime(j.CreatedAt),
	}
	if !j.FinishedAt.IsZero() {
		view.FinishedAt = formatTime(j.FinishedAt)
	}
	return view
}

// JobSubmitRequest starts a workflow run.
type JobSubmitRequest struct {
	User       string `json:"user,omitempty"`
	Project    string `json:"project"`
	SandboxID  int64  `json:"sandbox_id"`
	StartTrack string `json:"start_track"`
	Workflow   string `json:"workflow"`
	Mode       string `json:"mode,omitempty"`
}

// JobSubmitResponse returns the accepted job.
type JobSubmitResponse struct {
	Job JobView `json:"job"`
}

// JobStatusRequest fetches one job by id.
type JobStatusRequest struct {
	ID string `json:"id"`
}

// JobStatusResponse carries the job snapshot.
type JobStatusResponse struct {
	Job JobView `json:"job"`
}

// JobListRequest lists all known jobs.
type JobListRequest struct{}

// JobListResponse carries jobs newest first.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobCancelRequest requests cooperative cancellation.
type JobCancelRequest struct {
	User string `json:"user,omitempty"`
	ID   string `json:"id"`
}

// JobCancelResponse acknowledges the cancel request.
type JobCancelResponse struct {
	Canceled bool `json:"canceled"`
}

// SandboxView is the wire representation of a sandbox.
type SandboxView struct {
	ID        int64  `json:"id"`
	Project   string `json:"project"`
	Name      string `json:"name"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func sandboxView(sb *sandbox.Sandbox) SandboxView {
	return SandboxView{
		ID:        sb.ID,
		Project:   sb.Project,
		Name:      sb.Name,
		State:     string(sb.State),
		CreatedAt: formatTime(sb.CreatedAt),
		UpdatedAt: formatTime(sb.UpdatedAt),
	}
}

// SandboxCreateRequest creates a sandbox in a project.
type SandboxCreateRequest struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

// SandboxCreateResponse returns the new sandbox.
type SandboxCreateResponse struct {
	Sandbox SandboxView `json:"sandbox"`
}

// SandboxListRequest lists sandboxes, optionally scoped to a project.
type SandboxListRequest struct {
	Project string `json:"project,omitempty"`
}

// SandboxListResponse carries sandboxes.
type SandboxListResponse struct {
	Sandboxes []SandboxView `json:"sandboxes"`
}

// SandboxSetStateRequest changes a sandbox lifecycle state.
type SandboxSetStateRequest struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
}

// SandboxSetStateResponse acknowledges the transition.
type SandboxSetStateResponse struct {
	Updated bool `json:"updated"`
}

// SandboxResetRequest clears a sandbox's entire snapshot tree.
type SandboxResetRequest struct {
	ID int64 `json:"id"`
}

// SandboxResetResponse acknowledges the clear.
type SandboxResetResponse struct {
	Reset bool `json:"reset"`
}

// SnapshotView is the wire representation of a snapshot node.
type SnapshotView struct {
	ID          int64  `json:"id"`
	SandboxID   int64  `json:"sandbox_id"`
	Track       string `json:"track"`
	Category    string `json:"category"`
	ProviderID  string `json:"provider_id"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func snapshotView(s *snapshot.Snapshot) SnapshotView {
	return SnapshotView{
		ID:          s.ID,
		SandboxID:   s.SandboxID,
		Track:       s.Track.String(),
		Category:    string(s.Category),
		ProviderID:  s.ProviderID,
		Label:       s.Label,
		Description: s.Description,
		CreatedAt:   formatTime(s.CreatedAt),
	}
}

// HistoryView is one history line attached to a snapshot or sandbox.
type HistoryView struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Track     string `json:"track,omitempty"`
	CreatedAt string `json:"created_at"`
}

func historyView(e *snapshot.HistoryEntry) HistoryView {
	view := HistoryView{
		Level:     string(e.Level),
		Message:   e.Message,
		CreatedAt: formatTime(e.CreatedAt),
	}
	if e.Track != nil {
		view.Track = e.Track.String()
	}
	return view
}

// SnapshotDescribeRequest fetches a snapshot and its history by track.
type SnapshotDescribeRequest struct {
	SandboxID int64  `json:"sandbox_id"`
	Track     string `json:"track"`
}

// SnapshotDescribeResponse carries the node and its history lines.
type SnapshotDescribeResponse struct {
	Snapshot SnapshotView  `json:"snapshot"`
	History  []HistoryView `json:"history,omitempty"`
}

// SnapshotChildrenRequest lists the direct children of a track.
type SnapshotChildrenRequest struct {
	SandboxID int64  `json:"sandbox_id"`
	Track     string `json:"track"`
}

// SnapshotChildrenResponse carries children ordered by position.
type SnapshotChildrenResponse struct {
	Children []SnapshotView `json:"children"`
}

// SnapshotResetRequest discards a subtree rooted at a track.
type SnapshotResetRequest struct {
	SandboxID int64  `json:"sandbox_id"`
	Track     string `json:"track"`
}

// SnapshotResetResponse acknowledges the reset.
type SnapshotResetResponse struct {
	Reset bool `json:"reset"`
}

// HistoryRequest fetches sandbox-level history lines.
type HistoryRequest struct {
	SandboxID int64 `json:"sandbox_id"`
}

// HistoryResponse carries history lines oldest first.
type HistoryResponse struct {
	Entries []HistoryView `json:"entries"`
}

// WorkflowView summarizes an installed workflow.
type WorkflowView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	UpdatedAt   string `json:"updated_at"`
}

func workflowView(r *workflow.Record) WorkflowView {
	return WorkflowView{
		Name:        r.Name,
		Description: r.Definition.Description,
		Steps:       r.Definition.StepCount(),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
}

// WorkflowInstallRequest installs or replaces a workflow definition.
type WorkflowInstallRequest struct {
	Definition string `json:"definition"`
}

// WorkflowInstallResponse returns the stored workflow summary.
type WorkflowInstallResponse struct {
	Workflow WorkflowView `json:"workflow"`
}

// WorkflowListRequest lists installed workflows.
type WorkflowListRequest struct{}

// WorkflowListResponse carries workflows ordered by name.
type WorkflowListResponse struct {
	Workflows []WorkflowView `json:"workflows"`
}

// WorkflowShowRequest fetches a workflow definition by name.
type WorkflowShowRequest struct {
	Name string `json:"name"`
}

// WorkflowShowResponse carries the definition in its stored encoding.
type WorkflowShowResponse struct {
	Workflow   WorkflowView `json:"workflow"`
	Definition string       `json:"definition"`
}

// ExportHistoryRequest asks for a zip archive of snapshot metadata and
// history across every sandbox.
type ExportHistoryRequest struct{}

// ExportHistoryResponse carries the archive as base64 so it survives the
// JSON-RPC transport.
type ExportHistoryResponse struct {
	ArchiveBase64 string `json:"archive_base64"`
}

// LogTailRequest reads daemon log lines from an offset. A negative offset
// means "last Limit lines".
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int64 `json:"wait_millis,omitempty"`
}

// LogTailResponse carries log lines and the next read offset.
type LogTailResponse struct {
	Lines  []string `json:"lines,omitempty"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the delivery attempt.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
