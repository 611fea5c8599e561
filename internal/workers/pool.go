// Package workers implements the bounded concurrent executor provider
// invocations run on. Cancellation is cooperative: the pool signals it
// through the task context and a provider that never polls only stops at its
// next natural checkpoint — the executor never force-kills a running task.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"folio/internal/logging"
	"folio/internal/provider"
	"folio/internal/services"
)

// Outcome is the terminal state of one submitted invocation.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeCanceled    Outcome = "canceled"
)

// Task bundles one provider invocation.
type Task struct {
	Provider provider.Provider
	Target   *provider.Target
	Args     provider.Args
	Progress provider.ProgressFunc
}

// Result pairs the terminal outcome with the causing error, if any.
type Result struct {
	Outcome Outcome
	Err     error
}

type submission struct {
	ctx    context.Context
	task   Task
	result chan Result
}

// Pool runs tasks on a fixed number of workers. Excess submissions queue
// FIFO up to the configured depth, then Submit blocks.
type Pool struct {
	logger *slog.Logger
	queue  chan submission

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
	wg      sync.WaitGroup
}

// NewPool starts size workers with the given queue depth.
func NewPool(size, depth int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if depth < 0 {
		depth = 0
	}
	pool := &Pool{
		logger: logging.NewComponentLogger(logger, "workers"),
		queue:  make(chan submission, depth),
	}
	pool.wg.Add(size)
	for i := 0; i < size; i++ {
		go pool.run()
	}
	return pool
}

// Submit enqueues a task and blocks until it reaches a terminal state. A
// context already canceled before a worker picks the task up yields
// OutcomeCanceled without invoking the provider.
func (p *Pool) Submit(ctx context.Context, task Task) Result {
	if task.Provider == nil {
		return Result{Outcome: OutcomeInterrupted, Err: services.Wrap(services.ErrValidation, "", "submit task", "nil provider", nil)}
	}

	// Registering as a sender under the same lock that guards closed keeps
	// Close from shutting the queue while a send is in flight.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Result{Outcome: OutcomeInterrupted, Err: errors.New("worker pool closed")}
	}
	p.senders.Add(1)
	p.mu.Unlock()

	sub := submission{ctx: ctx, task: task, result: make(chan Result, 1)}
	select {
	case p.queue <- sub:
		p.senders.Done()
	case <-ctx.Done():
		p.senders.Done()
		return Result{Outcome: OutcomeCanceled, Err: ctx.Err()}
	}

	select {
	case result := <-sub.result:
		return result
	case <-ctx.Done():
		// The worker still owns the task; it observes the same context and
		// reports its own terminal state. Wait for it so partial state is
		// never abandoned mid-write.
		return <-sub.result
	}
}

// Close stops accepting work and waits for running tasks to finish. The
// queue is closed only after every registered sender has handed off or given
// up, so accepted submissions always reach a worker.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.senders.Wait()
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()
	for sub := range p.queue {
		sub.result <- p.execute(sub.ctx, sub.task)
	}
}

func (p *Pool) execute(ctx context.Context, task Task) (result Result) {
	// A provider panic (corrupt page image, broken cgo binding) must not
	// take the daemon down with it.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				logging.String(logging.FieldProvider, task.Provider.ID()),
				logging.Any("panic", r),
			)
			result = Result{
				Outcome: OutcomeInterrupted,
				Err:     services.Wrap(services.ErrExecution, "", "run task", fmt.Sprintf("provider panic: %v", r), nil),
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Result{Outcome: OutcomeCanceled, Err: err}
	}

	progress := task.Progress
	if progress == nil {
		progress = func(float64, string) {}
	}

	err := task.Provider.Execute(ctx, task.Target, task.Args, progress)
	switch {
	case err == nil:
		return Result{Outcome: OutcomeCompleted}
	case services.IsCanceled(err):
		p.logger.Debug("task canceled",
			logging.String(logging.FieldProvider, task.Provider.ID()),
		)
		return Result{Outcome: OutcomeCanceled, Err: err}
	default:
		p.logger.Debug("task failed",
			logging.String(logging.FieldProvider, task.Provider.ID()),
			logging.Error(err),
		)
		return Result{Outcome: OutcomeInterrupted, Err: err}
	}
}
