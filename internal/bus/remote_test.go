package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"folio/internal/logging"
)

// fakeWorker accepts channel connections, checks the subscribe frame, and
// streams canned events back.
type fakeWorker struct {
	listener net.Listener
	events   []Event

	mu    sync.Mutex
	conns int
}

func newFakeWorker(t *testing.T, events []Event) *fakeWorker {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	w := &fakeWorker{listener: listener, events: events}
	go w.serve(t)
	t.Cleanup(func() { listener.Close() })
	return w
}

func (w *fakeWorker) serve(t *testing.T) {
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			return
		}
		w.mu.Lock()
		w.conns++
		w.mu.Unlock()
		go func(conn net.Conn) {
			defer conn.Close()
			var frame subscribeFrame
			if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&frame); err != nil {
				return
			}
			if frame.Type != "subscribe" || frame.Topic != TopicWorkerEvents {
				t.Errorf("unexpected subscribe frame %+v", frame)
				return
			}
			encoder := json.NewEncoder(conn)
			for _, event := range w.events {
				if err := encoder.Encode(event); err != nil {
					return
				}
			}
			// Hold the connection open so the manager does not reconnect
			// and replay the canned events.
			buf := make([]byte, 1)
			_, _ = conn.Read(buf)
		}(conn)
	}
}

func (w *fakeWorker) connections() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns
}

func waitFor(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestChannelForwardsRemoteEvents(t *testing.T) {
	worker := newFakeWorker(t, []Event{
		{Topic: TopicWorkerEvents, Kind: KindProgress, JobID: "job-1", Fraction: 0.5},
		{Topic: TopicWorkerEvents, Kind: KindCompleted, JobID: "job-1"},
	})

	b := New()
	var mu sync.Mutex
	var got []Kind
	b.Register(TopicWorkerEvents, func(e Event) {
		mu.Lock()
		got = append(got, e.Kind)
		mu.Unlock()
	})

	manager := NewChannelManager(b, logging.NewNop(), 50*time.Millisecond)
	manager.Add(context.Background(), "worker-a", "tcp", worker.listener.Addr().String())
	manager.Start(context.Background())
	defer manager.Close()

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != KindProgress || got[1] != KindCompleted {
		t.Fatalf("forwarded kinds = %v", got)
	}
}

func TestDuplicateEndpointKeepsFirstChannel(t *testing.T) {
	worker := newFakeWorker(t, nil)

	manager := NewChannelManager(New(), logging.NewNop(), time.Minute)
	ctx := context.Background()
	manager.Add(ctx, "worker-a", "tcp", worker.listener.Addr().String())
	manager.Add(ctx, "worker-a", "tcp", "127.0.0.1:1") // ignored
	manager.Start(ctx)
	defer manager.Close()

	waitFor(t, 3*time.Second, func() bool { return worker.connections() == 1 })

	if ids := manager.EndpointIDs(); len(ids) != 1 || ids[0] != "worker-a" {
		t.Fatalf("endpoints = %v", ids)
	}
	// Give a would-be second channel time to show up; it must not.
	time.Sleep(100 * time.Millisecond)
	if n := worker.connections(); n != 1 {
		t.Fatalf("expected exactly one live channel, saw %d connections", n)
	}
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	var mu sync.Mutex
	accepted := 0
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
			// Drop immediately to force a reconnect.
			conn.Close()
		}
	}()

	manager := NewChannelManager(New(), logging.NewNop(), 20*time.Millisecond)
	manager.Add(context.Background(), "flaky", "tcp", listener.Addr().String())
	manager.Start(context.Background())
	defer manager.Close()

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return accepted >= 2
	})
}
