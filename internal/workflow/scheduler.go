package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"folio/internal/bus"
	"folio/internal/logging"
	"folio/internal/provider"
	"folio/internal/sandbox"
	"folio/internal/services"
	"folio/internal/snapshot"
	"folio/internal/textutil"
	"folio/internal/track"
	"folio/internal/workers"
)

// State is the terminal state of one workflow run.
type State string

const (
	StateCompleted   State = "completed"
	StateCanceled    State = "canceled"
	StateInterrupted State = "interrupted"
)

// Request binds one workflow execution to a sandbox and starting track.
type Request struct {
	JobID      string
	Project    string
	SandboxID  int64
	StartTrack track.Track
	Definition *Definition
	Mode       Mode
}

// RunResult reports how a walk ended. StepsCompleted counts path-graph nodes
// that reached success; TotalSteps is the precomputed node count.
type RunResult struct {
	State          State
	StepsCompleted int
	TotalSteps     int
}

// Progress returns completed/total in [0, 1].
func (r *RunResult) Progress() float64 {
	if r == nil || r.TotalSteps == 0 {
		return 0
	}
	return float64(r.StepsCompleted) / float64(r.TotalSteps)
}

// Scheduler drives workflow runs. One Run call is single-threaded in
// sequential mode and fans sibling branches out over the shared worker pool
// in parallel mode; many runs may be active concurrently across sandboxes.
type Scheduler struct {
	snapshots    *snapshot.Store
	sandboxes    *sandbox.Store
	registry     *provider.Registry
	pool         *workers.Pool
	events       *bus.Bus
	workspaceDir string
	logger       *slog.Logger
}

// NewScheduler wires the scheduler's collaborators.
func NewScheduler(
	snapshots *snapshot.Store,
	sandboxes *sandbox.Store,
	registry *provider.Registry,
	pool *workers.Pool,
	events *bus.Bus,
	workspaceDir string,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		snapshots:    snapshots,
		sandboxes:    sandboxes,
		registry:     registry,
		pool:         pool,
		events:       events,
		workspaceDir: workspaceDir,
		logger:       logging.NewComponentLogger(logger, "scheduler"),
	}
}

// runState accumulates the walk's outcome across branches. In parallel mode
// multiple branch goroutines mutate it under mu; a fatal error cancels the
// walk context so other branches stop at their next step boundary.
type runState struct {
	cancel context.CancelFunc

	mu          sync.Mutex
	completed   int
	interrupted bool
	canceled    bool
	fatal       error
}

func (st *runState) markCompleted() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.completed++
	return st.completed
}

func (st *runState) markInterrupted() {
	st.mu.Lock()
	st.interrupted = true
	st.mu.Unlock()
}

func (st *runState) markCanceled() {
	st.mu.Lock()
	st.canceled = true
	st.mu.Unlock()
}

// fail aborts the walk. Canceled-context errors are not failures; they fold
// into the cancellation outcome instead.
func (st *runState) fail(err error) {
	if services.IsCanceled(err) {
		st.markCanceled()
		return
	}
	st.mu.Lock()
	if st.fatal == nil {
		st.fatal = err
	}
	st.mu.Unlock()
	st.cancel()
}

// Run validates the request and walks the path graph. Validation failures
// return before any snapshot is created. A non-nil error means the run was
// aborted by an unexpected condition (persistence failure); branch-level
// provider failures are reported through RunResult.State instead.
// Resolve checks def against the scheduler's registry without touching any
// sandbox state, so callers can reject a dangling processor synchronously.
func (s *Scheduler) Resolve(def *Definition) (map[string]*Binding, error) {
	return Resolve(def, s.registry)
}

func (s *Scheduler) Run(ctx context.Context, req Request) (*RunResult, error) {
	bindings, err := Resolve(req.Definition, s.registry)
	if err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = ModeSequential
	}

	sb, err := s.sandboxes.Get(ctx, req.SandboxID)
	if err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, services.Wrap(services.ErrNotFound, "scheduler", "run",
			fmt.Sprintf("sandbox %d does not exist", req.SandboxID), nil)
	}

	start, err := s.snapshots.GetLeaf(ctx, req.SandboxID, req.StartTrack)
	if err != nil {
		return nil, err
	}
	if start == nil {
		// An empty tree may be seeded by the walk itself, but only a single
		// top-level step can become the root.
		if !req.StartTrack.IsRoot() {
			return nil, services.Wrap(services.ErrValidation, "scheduler", "run",
				fmt.Sprintf("start track %q does not resolve", req.StartTrack.String()), nil)
		}
		if len(req.Definition.Steps) != 1 {
			return nil, services.Wrap(services.ErrValidation, "scheduler", "run",
				"empty tree requires a workflow with exactly one top-level step", nil)
		}
	}

	total := req.Definition.StepCount()
	logger := s.logger.With(
		logging.String(logging.FieldJobID, req.JobID),
		logging.Int64(logging.FieldSandboxID, req.SandboxID),
		logging.String("workflow", req.Definition.Name),
	)
	logger.Info("workflow run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String(logging.FieldTrack, req.StartTrack.String()),
		logging.Int("total_steps", total),
		logging.String("mode", string(req.Mode)),
	)

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st := &runState{cancel: cancel}

	s.runSteps(walkCtx, &req, bindings, st, logger, req.StartTrack, req.Definition.Steps)

	st.mu.Lock()
	result := &RunResult{StepsCompleted: st.completed, TotalSteps: total}
	fatal := st.fatal
	canceled := st.canceled
	interrupted := st.interrupted
	st.mu.Unlock()

	switch {
	case canceled || ctx.Err() != nil:
		result.State = StateCanceled
	case fatal != nil || interrupted || result.StepsCompleted < total:
		result.State = StateInterrupted
	default:
		result.State = StateCompleted
	}

	logger.Info("workflow run finished",
		logging.String(logging.FieldEventType, "run_finish"),
		logging.String("state", string(result.State)),
		logging.Int("steps_completed", result.StepsCompleted),
		logging.Int("total_steps", total),
	)
	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

// runSteps executes sibling steps under one parent. Sequential mode runs
// them in declaration order; parallel mode gives each branch its own
// goroutine, bounded downstream by the worker pool.
func (s *Scheduler) runSteps(ctx context.Context, req *Request, bindings map[string]*Binding, st *runState, logger *slog.Logger, parent track.Track, steps []Step) {
	if req.Mode != ModeParallel || len(steps) < 2 {
		for i := range steps {
			s.runBranch(ctx, req, bindings, st, logger, parent, &steps[i])
		}
		return
	}

	var wg sync.WaitGroup
	for i := range steps {
		step := &steps[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runBranch(ctx, req, bindings, st, logger, parent, step)
		}()
	}
	wg.Wait()
}

// runBranch executes one step and, on success, its children.
func (s *Scheduler) runBranch(ctx context.Context, req *Request, bindings map[string]*Binding, st *runState, logger *slog.Logger, parent track.Track, step *Step) {
	node, ok := s.runStep(ctx, req, bindings, st, logger, parent, step)
	if !ok {
		return
	}
	s.runSteps(ctx, req, bindings, st, logger, node.Track, step.Steps)
}

// runStep drives one path-graph node to a terminal state. It returns the
// created snapshot and true only when the step completed and its children
// should run.
func (s *Scheduler) runStep(ctx context.Context, req *Request, bindings map[string]*Binding, st *runState, logger *slog.Logger, parent track.Track, step *Step) (*snapshot.Snapshot, bool) {
	if ctx.Err() != nil {
		st.markCanceled()
		return nil, false
	}

	binding := bindings[step.Processor]
	ctx = services.WithJobID(ctx, req.JobID)
	ctx = services.WithSandboxID(ctx, req.SandboxID)
	ctx = services.WithStage(ctx, string(binding.Category))
	stepLogger := logging.WithContext(ctx, logger).With(
		logging.String(logging.FieldProvider, binding.Provider.ID()),
		logging.String("processor", step.Processor),
	)

	sb, err := s.sandboxes.Get(ctx, req.SandboxID)
	if err != nil {
		st.fail(err)
		return nil, false
	}
	if sb == nil || !sb.State.AcceptsSnapshots() {
		state := "missing"
		if sb != nil {
			state = string(sb.State)
		}
		message := fmt.Sprintf("step %s blocked: sandbox is %s", step.Processor, state)
		stepLogger.Warn("step blocked by sandbox state",
			logging.String(logging.FieldEventType, "step_blocked"),
			logging.String("sandbox_state", state),
		)
		if err := s.snapshots.AppendHistory(ctx, req.SandboxID, nil, snapshot.LevelWarn, message); err != nil {
			st.fail(err)
			return nil, false
		}
		s.publish(req, bus.KindBlocked, binding, parent, 0, message)
		st.markInterrupted()
		return nil, false
	}

	target := &provider.Target{
		Project:      req.Project,
		SandboxID:    req.SandboxID,
		WorkspaceDir: filepath.Join(s.workspaceDir, textutil.SanitizeToken(sb.Project), textutil.SanitizeToken(sb.Name)),
		Track:        parent,
	}

	if err := binding.Provider.CheckPremise(ctx, target); err != nil {
		message := fmt.Sprintf("step %s blocked: %s", step.Processor, services.Details(err))
		stepLogger.Warn("step premise not met",
			logging.String(logging.FieldEventType, "step_premise_failed"),
			logging.Error(err),
		)
		if histErr := s.appendStepHistory(ctx, req.SandboxID, parent, snapshot.LevelWarn, message); histErr != nil {
			st.fail(histErr)
			return nil, false
		}
		s.publish(req, bus.KindBlocked, binding, parent, 0, message)
		st.markInterrupted()
		return nil, false
	}

	node, err := s.createStepSnapshot(ctx, req, binding, parent, step)
	if err != nil {
		if services.IsCanceled(err) {
			st.markCanceled()
			return nil, false
		}
		if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrPermission) {
			// The parent vanished or rejects children, likely a concurrent
			// reset or state change. A branch failure, not a crash.
			message := fmt.Sprintf("step %s failed: %s", step.Processor, services.Details(err))
			stepLogger.Error("step snapshot rejected",
				logging.String(logging.FieldEventType, "step_failed"),
				logging.Error(err),
			)
			if histErr := s.snapshots.AppendHistory(ctx, req.SandboxID, nil, snapshot.LevelError, message); histErr != nil {
				st.fail(histErr)
				return nil, false
			}
			s.publish(req, bus.KindFailed, binding, parent, 0, message)
			st.markInterrupted()
			return nil, false
		}
		st.fail(err)
		return nil, false
	}

	stepLogger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.String(logging.FieldTrack, node.Track.String()),
	)
	stepStart := time.Now()
	target.Track = node.Track

	st.mu.Lock()
	doneBefore := st.completed
	st.mu.Unlock()
	total := req.Definition.StepCount()
	progress := func(fraction float64, message string) {
		overall := (float64(doneBefore) + clampFraction(fraction)) / float64(total)
		s.publish(req, bus.KindProgress, binding, node.Track, overall, message)
	}

	result := s.pool.Submit(services.WithTrack(ctx, node.Track.String()), workers.Task{
		Provider: binding.Provider,
		Target:   target,
		Args:     binding.Args,
		Progress: progress,
	})

	switch result.Outcome {
	case workers.OutcomeCompleted:
		if err := s.snapshots.AppendHistory(ctx, req.SandboxID, &node.Track, snapshot.LevelInfo,
			fmt.Sprintf("step %s completed", step.Processor)); err != nil {
			st.fail(err)
			return nil, false
		}
		done := st.markCompleted()
		stepLogger.Info("step completed",
			logging.String(logging.FieldEventType, "step_complete"),
			logging.String(logging.FieldTrack, node.Track.String()),
			logging.Duration("step_duration", time.Since(stepStart)),
		)
		s.publish(req, bus.KindProgress, binding, node.Track, float64(done)/float64(total),
			fmt.Sprintf("step %s completed", step.Processor))
		return node, true

	case workers.OutcomeCanceled:
		stepLogger.Info("step canceled",
			logging.String(logging.FieldEventType, "step_canceled"),
			logging.String(logging.FieldTrack, node.Track.String()),
		)
		if err := s.snapshots.AppendHistory(ctx, req.SandboxID, &node.Track, snapshot.LevelInfo,
			fmt.Sprintf("step %s canceled", step.Processor)); err != nil {
			st.fail(err)
			return nil, false
		}
		st.markCanceled()
		return nil, false

	default:
		message := fmt.Sprintf("step %s failed: %s", step.Processor, services.Details(result.Err))
		stepLogger.Error("step failed",
			logging.String(logging.FieldEventType, "step_failed"),
			logging.String(logging.FieldTrack, node.Track.String()),
			logging.Error(result.Err),
		)
		if err := s.snapshots.AppendHistory(ctx, req.SandboxID, &node.Track, snapshot.LevelError, message); err != nil {
			st.fail(err)
			return nil, false
		}
		s.publish(req, bus.KindFailed, binding, node.Track, 0, message)
		st.markInterrupted()
		return nil, false
	}
}

// createStepSnapshot derives the step's node, or seeds the root when the
// tree is still empty and the walk starts at the root track.
func (s *Scheduler) createStepSnapshot(ctx context.Context, req *Request, binding *Binding, parent track.Track, step *Step) (*snapshot.Snapshot, error) {
	if parent.IsRoot() {
		existing, err := s.snapshots.GetLeaf(ctx, req.SandboxID, track.Root)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return s.snapshots.CreateRoot(ctx, req.SandboxID, binding.Category,
				step.Label, step.Description, binding.Provider.ID(), binding.InitArgsJSON())
		}
	}
	return s.snapshots.CreateDerived(ctx, req.SandboxID, parent, binding.Category,
		step.Label, step.Description, binding.Provider.ID(), binding.InitArgsJSON())
}

// appendStepHistory logs against the parent node when it exists, falling
// back to the sandbox log when the tree is still empty.
func (s *Scheduler) appendStepHistory(ctx context.Context, sandboxID int64, parent track.Track, level snapshot.Level, message string) error {
	node, err := s.snapshots.GetLeaf(ctx, sandboxID, parent)
	if err != nil {
		return err
	}
	if node == nil {
		return s.snapshots.AppendHistory(ctx, sandboxID, nil, level, message)
	}
	return s.snapshots.AppendHistory(ctx, sandboxID, &node.Track, level, message)
}

func (s *Scheduler) publish(req *Request, kind bus.Kind, binding *Binding, t track.Track, fraction float64, message string) {
	if s.events == nil {
		return
	}
	s.events.Dispatch(bus.Event{
		Topic:     bus.TopicJobEvents,
		Kind:      kind,
		JobID:     req.JobID,
		SandboxID: req.SandboxID,
		Track:     t.String(),
		Provider:  binding.Provider.ID(),
		Fraction:  fraction,
		Message:   message,
	})
}

func clampFraction(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
