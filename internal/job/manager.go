package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"folio/internal/bus"
	"folio/internal/logging"
	"folio/internal/sandbox"
	"folio/internal/security"
	"folio/internal/services"
	"folio/internal/snapshot"
	"folio/internal/track"
	"folio/internal/workflow"
)

// SubmitRequest is the public job-submission surface.
type SubmitRequest struct {
	User       string
	Project    string
	SandboxID  int64
	StartTrack track.Track
	Workflow   string
	Mode       string
}

// Manager owns the live job table. Every mutation is gated by the security
// guard; scheduler runs happen on per-job goroutines that a manager Stop or
// a job Cancel winds down cooperatively.
type Manager struct {
	scheduler *workflow.Scheduler
	workflows *workflow.Store
	sandboxes *sandbox.Store
	snapshots *snapshot.Store
	guard     security.Guard
	events    *bus.Bus
	logger    *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	runCtx  context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	busHandle bus.Handle
}

// NewManager wires the manager's collaborators. A nil guard allows all.
func NewManager(
	scheduler *workflow.Scheduler,
	workflows *workflow.Store,
	sandboxes *sandbox.Store,
	snapshots *snapshot.Store,
	guard security.Guard,
	events *bus.Bus,
	logger *slog.Logger,
) *Manager {
	if guard == nil {
		guard = security.AllowAll{}
	}
	return &Manager{
		scheduler: scheduler,
		workflows: workflows,
		sandboxes: sandboxes,
		snapshots: snapshots,
		guard:     guard,
		events:    events,
		logger:    logging.NewComponentLogger(logger, "jobs"),
		jobs:      make(map[string]*Job),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start makes the manager ready to accept submissions. Job goroutines derive
// from ctx, so canceling it begins a cooperative shutdown of every run.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return errors.New("job manager already started")
	}
	m.runCtx, m.stop = context.WithCancel(ctx)
	if m.events != nil {
		m.busHandle = m.events.Register(bus.TopicJobEvents, m.onEvent)
	}
	return nil
}

// Stop cancels every running job and waits for their goroutines.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.runCtx = nil
	m.stop = nil
	handle := m.busHandle
	m.busHandle = 0
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.wg.Wait()
	if handle != 0 && m.events != nil {
		m.events.Unregister(handle)
	}
}

// Submit validates the request, precomputes the step count, and launches the
// run. Validation problems surface synchronously before any snapshot is
// touched; the returned job reflects the created state.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	m.mu.Lock()
	runCtx := m.runCtx
	m.mu.Unlock()
	if runCtx == nil {
		return nil, services.Wrap(services.ErrConfiguration, "jobs", "submit", "job manager not started", nil)
	}

	sb, err := m.sandboxes.Get(ctx, req.SandboxID)
	if err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "submit",
			fmt.Sprintf("sandbox %d does not exist", req.SandboxID), nil)
	}

	resource := security.Resource{Project: sb.Project, Sandbox: sb.Name}
	if !m.guard.Allow(ctx, req.User, resource, security.ActionWrite) {
		reason := security.Describe(req.User, resource, security.ActionWrite)
		if histErr := m.snapshots.AppendHistory(ctx, sb.ID, nil, snapshot.LevelWarn, "job rejected: "+reason); histErr != nil {
			return nil, histErr
		}
		return nil, services.Wrap(services.ErrPermission, "jobs", "submit", reason, nil)
	}

	record, err := m.workflows.Get(ctx, req.Workflow)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, services.Wrap(services.ErrValidation, "jobs", "submit",
			fmt.Sprintf("workflow %q not installed", req.Workflow), nil)
	}

	// A dangling processor or missing provider is a validation problem and
	// must surface here, not as an interrupted job mid-run.
	if _, err := m.scheduler.Resolve(record.Definition); err != nil {
		return nil, err
	}

	mode := workflow.ModeSequential
	if req.Mode != "" {
		parsed, ok := workflow.ParseMode(req.Mode)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "jobs", "submit",
				fmt.Sprintf("unknown concurrency mode %q", req.Mode), nil)
		}
		mode = parsed
	}

	j := &Job{
		ID:           uuid.NewString(),
		User:         req.User,
		Project:      sb.Project,
		SandboxID:    sb.ID,
		StartTrack:   req.StartTrack.Clone(),
		WorkflowName: record.Name,
		Mode:         mode,
		State:        StateCreated,
		TotalSteps:   record.Definition.StepCount(),
		CreatedAt:    time.Now().UTC(),
	}

	jobCtx, cancel := context.WithCancel(runCtx)
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.cancels[j.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(jobCtx, j.ID, record.Definition)

	m.logger.Info("job submitted",
		logging.String(logging.FieldJobID, j.ID),
		logging.Int64(logging.FieldSandboxID, j.SandboxID),
		logging.String("workflow", j.WorkflowName),
		logging.Int("total_steps", j.TotalSteps),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return j.clone(), nil
}

func (m *Manager) run(ctx context.Context, id string, def *workflow.Definition) {
	defer m.wg.Done()

	m.mu.Lock()
	j := m.jobs[id]
	j.State = StateRunning
	j.StartedAt = time.Now().UTC()
	req := workflow.Request{
		JobID:      j.ID,
		Project:    j.Project,
		SandboxID:  j.SandboxID,
		StartTrack: j.StartTrack.Clone(),
		Definition: def,
		Mode:       j.Mode,
	}
	m.mu.Unlock()

	result, err := m.scheduler.Run(ctx, req)

	m.mu.Lock()
	j.FinishedAt = time.Now().UTC()
	if result != nil {
		j.StepsCompleted = result.StepsCompleted
		switch result.State {
		case workflow.StateCompleted:
			j.State = StateCompleted
		case workflow.StateCanceled:
			j.State = StateCanceled
		default:
			j.State = StateInterrupted
		}
	} else {
		j.State = StateInterrupted
	}
	if err != nil {
		j.Message = services.Details(err)
	}
	final := j.clone()
	delete(m.cancels, id)
	m.mu.Unlock()

	switch {
	case err != nil && !services.IsCanceled(err):
		m.logger.Error("job aborted",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_aborted"),
		)
	case final.State == StateCanceled:
		m.logger.Info("job canceled",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "job_canceled"),
		)
	default:
		m.logger.Info("job finished",
			logging.String(logging.FieldJobID, id),
			logging.String("state", string(final.State)),
			logging.Int("steps_completed", final.StepsCompleted),
			logging.Int("total_steps", final.TotalSteps),
			logging.String(logging.FieldEventType, "job_finished"),
		)
	}

	m.publishTerminal(final)
}

func (m *Manager) publishTerminal(j *Job) {
	if m.events == nil {
		return
	}
	kind := bus.KindCompleted
	switch j.State {
	case StateCanceled:
		kind = bus.KindCanceled
	case StateInterrupted:
		kind = bus.KindFailed
	}
	m.events.Dispatch(bus.Event{
		Topic:     bus.TopicJobEvents,
		Kind:      kind,
		JobID:     j.ID,
		SandboxID: j.SandboxID,
		Fraction:  j.Progress(),
		Message:   j.Message,
	})
}

// onEvent folds scheduler progress back into the job table so Status stays
// current while a run is in flight.
func (m *Manager) onEvent(e bus.Event) {
	if e.Kind != bus.KindProgress || e.JobID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[e.JobID]
	if !ok || j.State.Terminal() {
		return
	}
	// Round instead of truncating: k completed of n arrives as k/n, and for
	// some n the product k/n*n lands just below k.
	if steps := int(math.Round(e.Fraction * float64(j.TotalSteps))); steps > j.StepsCompleted {
		j.StepsCompleted = steps
	}
}

// Status returns a snapshot of one job.
func (m *Manager) Status(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "status", fmt.Sprintf("unknown job %q", id), nil)
	}
	return j.clone(), nil
}

// Cancel requests cooperative cancellation. Steps already submitted finish
// or self-cancel on their own schedule. Canceling a finished job is a no-op.
func (m *Manager) Cancel(ctx context.Context, user, id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "jobs", "cancel", fmt.Sprintf("unknown job %q", id), nil)
	}
	cancel := m.cancels[id]
	project := j.Project
	m.mu.Unlock()

	if !m.guard.Allow(ctx, user, security.Resource{Project: project}, security.ActionWrite) {
		return services.Wrap(services.ErrPermission, "jobs", "cancel",
			security.Describe(user, security.Resource{Project: project}, security.ActionWrite), nil)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// ActiveBranches returns the start tracks of non-terminal jobs bound to the
// sandbox. Reset handlers use this to keep live branches out from under a
// running scheduler.
func (m *Manager) ActiveBranches(sandboxID int64) []track.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	var branches []track.Track
	for _, j := range m.jobs {
		if j.SandboxID == sandboxID && !j.State.Terminal() {
			branches = append(branches, j.StartTrack.Clone())
		}
	}
	return branches
}

// List returns every known job, newest first.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}
