package notifications

import (
	"context"
	"log/slog"
	"time"

	"folio/internal/bus"
	"folio/internal/config"
	"folio/internal/job"
	"folio/internal/logging"
	"folio/internal/sandbox"
)

// JobDirectory resolves job handles to their current state.
type JobDirectory interface {
	Status(id string) (*job.Job, error)
}

// Bridge listens for terminal job events on the bus and forwards them to the
// notification service. Handlers must not block dispatch, so delivery runs
// on a goroutine per event.
type Bridge struct {
	service   Service
	jobs      JobDirectory
	sandboxes *sandbox.Store
	logger    *slog.Logger

	notifyCompleted bool
	notifyFailed    bool
}

// NewBridge wires the bridge; cfg gates which terminal kinds notify.
func NewBridge(service Service, jobs JobDirectory, sandboxes *sandbox.Store, cfg *config.Config, logger *slog.Logger) *Bridge {
	return &Bridge{
		service:         service,
		jobs:            jobs,
		sandboxes:       sandboxes,
		logger:          logging.NewComponentLogger(logger, "notifications"),
		notifyCompleted: cfg.Notifications.JobCompleted,
		notifyFailed:    cfg.Notifications.JobFailed,
	}
}

// Attach registers the bridge on the job events topic.
func (b *Bridge) Attach(events *bus.Bus) bus.Handle {
	return events.Register(bus.TopicJobEvents, b.onEvent)
}

func (b *Bridge) onEvent(e bus.Event) {
	switch e.Kind {
	case bus.KindCompleted:
		if !b.notifyCompleted {
			return
		}
	case bus.KindFailed, bus.KindCanceled:
		if !b.notifyFailed {
			return
		}
	default:
		return
	}
	go b.deliver(e)
}

func (b *Bridge) deliver(e bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workflowName := ""
	steps := 0
	if b.jobs != nil && e.JobID != "" {
		if j, err := b.jobs.Status(e.JobID); err == nil {
			workflowName = j.WorkflowName
			steps = j.StepsCompleted
		}
	}
	sandboxName := ""
	if b.sandboxes != nil && e.SandboxID != 0 {
		if sb, err := b.sandboxes.Get(ctx, e.SandboxID); err == nil && sb != nil {
			sandboxName = sb.Name
		}
	}

	var err error
	switch e.Kind {
	case bus.KindCompleted:
		err = b.service.NotifyJobCompleted(ctx, workflowName, sandboxName, steps)
	case bus.KindCanceled:
		err = b.service.NotifyJobCanceled(ctx, workflowName, sandboxName)
	default:
		err = b.service.NotifyJobInterrupted(ctx, workflowName, sandboxName, e.Message)
	}
	if err != nil {
		b.logger.Warn("notification delivery failed",
			logging.String(logging.FieldJobID, e.JobID),
			logging.Error(err),
		)
	}
}
