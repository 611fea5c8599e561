package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"folio/internal/logging"
	"folio/internal/provider"
	"folio/internal/services"
)

type scriptedProvider struct {
	id      string
	execute func(ctx context.Context, progress provider.ProgressFunc) error
}

func (s *scriptedProvider) ID() string                  { return s.id }
func (s *scriptedProvider) Category() provider.Category { return provider.CategoryAction }
func (s *scriptedProvider) DescribeArgs() []provider.ArgSpec {
	return nil
}
func (s *scriptedProvider) CheckPremise(context.Context, *provider.Target) error { return nil }
func (s *scriptedProvider) Execute(ctx context.Context, _ *provider.Target, _ provider.Args, progress provider.ProgressFunc) error {
	return s.execute(ctx, progress)
}

func TestSubmitCompletes(t *testing.T) {
	pool := NewPool(2, 4, logging.NewNop())
	defer pool.Close()

	var calls atomic.Int32
	p := &scriptedProvider{id: "ok", execute: func(context.Context, provider.ProgressFunc) error {
		calls.Add(1)
		return nil
	}}
	result := pool.Submit(context.Background(), Task{Provider: p})
	if result.Outcome != OutcomeCompleted || result.Err != nil {
		t.Fatalf("result = %+v", result)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider ran %d times", calls.Load())
	}
}

func TestSubmitClassifiesFailures(t *testing.T) {
	pool := NewPool(1, 0, logging.NewNop())
	defer pool.Close()

	boom := errors.New("scanner jam")
	failing := &scriptedProvider{id: "fail", execute: func(context.Context, provider.ProgressFunc) error {
		return services.Wrap(services.ErrExecution, "charrec", "recognize", "page 3", boom)
	}}
	result := pool.Submit(context.Background(), Task{Provider: failing})
	if result.Outcome != OutcomeInterrupted {
		t.Fatalf("outcome = %s, want interrupted", result.Outcome)
	}
	if !errors.Is(result.Err, services.ErrExecution) {
		t.Fatalf("err = %v", result.Err)
	}
}

func TestProviderPanicInterruptsTask(t *testing.T) {
	pool := NewPool(1, 0, logging.NewNop())
	defer pool.Close()

	panicking := &scriptedProvider{id: "panics", execute: func(context.Context, provider.ProgressFunc) error {
		panic("corrupt page image")
	}}
	result := pool.Submit(context.Background(), Task{Provider: panicking})
	if result.Outcome != OutcomeInterrupted {
		t.Fatalf("outcome = %s, want interrupted", result.Outcome)
	}
	if !errors.Is(result.Err, services.ErrExecution) {
		t.Fatalf("err = %v, want execution marker", result.Err)
	}

	// The worker survived the panic and keeps serving.
	ok := &scriptedProvider{id: "ok", execute: func(context.Context, provider.ProgressFunc) error { return nil }}
	if result := pool.Submit(context.Background(), Task{Provider: ok}); result.Outcome != OutcomeCompleted {
		t.Fatalf("follow-up outcome = %s", result.Outcome)
	}
}

func TestCloseWaitsForInFlightSubmits(t *testing.T) {
	pool := NewPool(1, 0, logging.NewNop())

	quick := &scriptedProvider{id: "quick", execute: func(context.Context, provider.ProgressFunc) error {
		time.Sleep(time.Millisecond)
		return nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := pool.Submit(context.Background(), Task{Provider: quick})
			// Either the task ran or the pool had already closed; a
			// send on the closed queue would panic instead.
			if result.Outcome != OutcomeCompleted && result.Outcome != OutcomeInterrupted {
				t.Errorf("outcome = %s", result.Outcome)
			}
		}()
	}

	time.Sleep(2 * time.Millisecond)
	pool.Close()
	wg.Wait()
}

func TestCooperativeCancellation(t *testing.T) {
	pool := NewPool(1, 0, logging.NewNop())
	defer pool.Close()

	started := make(chan struct{})
	polling := &scriptedProvider{id: "poller", execute: func(ctx context.Context, _ provider.ProgressFunc) error {
		close(started)
		// Poll between sub-steps the way well-behaved providers do.
		for {
			select {
			case <-ctx.Done():
				return services.Wrap(services.ErrCanceled, "action", "poll", "stopped at checkpoint", ctx.Err())
			case <-time.After(5 * time.Millisecond):
			}
		}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		done <- pool.Submit(ctx, Task{Provider: polling})
	}()

	<-started
	cancel()

	result := <-done
	if result.Outcome != OutcomeCanceled {
		t.Fatalf("outcome = %s, want canceled", result.Outcome)
	}
}

func TestQueuedTaskCanceledBeforePickup(t *testing.T) {
	pool := NewPool(1, 1, logging.NewNop())
	defer pool.Close()

	release := make(chan struct{})
	blocker := &scriptedProvider{id: "blocker", execute: func(context.Context, provider.ProgressFunc) error {
		<-release
		return nil
	}}
	go pool.Submit(context.Background(), Task{Provider: blocker})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	never := &scriptedProvider{id: "never", execute: func(context.Context, provider.ProgressFunc) error {
		t.Error("canceled task must not execute")
		return nil
	}}
	result := pool.Submit(ctx, Task{Provider: never})
	close(release)
	if result.Outcome != OutcomeCanceled {
		t.Fatalf("outcome = %s, want canceled", result.Outcome)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	const size = 2
	pool := NewPool(size, 16, logging.NewNop())
	defer pool.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	worker := &scriptedProvider{id: "counter", execute: func(context.Context, provider.ProgressFunc) error {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Submit(context.Background(), Task{Provider: worker})
		}()
	}
	wg.Wait()

	if peak.Load() > size {
		t.Fatalf("peak concurrency %d exceeded pool size %d", peak.Load(), size)
	}
}

func TestProgressForwarded(t *testing.T) {
	pool := NewPool(1, 0, logging.NewNop())
	defer pool.Close()

	reporter := &scriptedProvider{id: "reporter", execute: func(_ context.Context, progress provider.ProgressFunc) error {
		progress(0.5, "halfway")
		progress(1.0, "done")
		return nil
	}}

	var mu sync.Mutex
	var fractions []float64
	result := pool.Submit(context.Background(), Task{
		Provider: reporter,
		Progress: func(fraction float64, _ string) {
			mu.Lock()
			fractions = append(fractions, fraction)
			mu.Unlock()
		},
	})
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if len(fractions) != 2 || fractions[0] != 0.5 || fractions[1] != 1.0 {
		t.Fatalf("fractions = %v", fractions)
	}
}
