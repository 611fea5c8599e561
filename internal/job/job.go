// Package job binds {project, sandbox, track, workflow} into schedulable
// jobs and tracks their lifecycle. A job owns no persisted state beyond what
// its run writes into the snapshot tree.
package job

import (
	"time"

	"folio/internal/track"
	"folio/internal/workflow"
)

// State is the job lifecycle state.
type State string

const (
	StateCreated     State = "created"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateCanceled    State = "canceled"
	StateInterrupted State = "interrupted"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCanceled, StateInterrupted:
		return true
	}
	return false
}

// Job is the runtime binding of one workflow execution. TotalSteps is
// precomputed once at submission and never changes.
type Job struct {
	ID           string
	User         string
	Project      string
	SandboxID    int64
	StartTrack   track.Track
	WorkflowName string
	Mode         workflow.Mode

	State          State
	StepsCompleted int
	TotalSteps     int
	Message        string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Progress returns completion in [0, 1] against the precomputed step count.
func (j *Job) Progress() float64 {
	if j.TotalSteps == 0 {
		return 0
	}
	p := float64(j.StepsCompleted) / float64(j.TotalSteps)
	if p > 1 {
		p = 1
	}
	return p
}

func (j *Job) clone() *Job {
	copied := *j
	copied.StartTrack = j.StartTrack.Clone()
	return &copied
}
