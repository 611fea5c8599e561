package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// Topic keys group events for dispatch.
type Topic string

const (
	// TopicJobEvents carries job lifecycle and step events.
	TopicJobEvents Topic = "job.events"
	// TopicWorkerEvents is the well-known topic remote workers publish on.
	TopicWorkerEvents Topic = "worker.events"
)

// Kind classifies events.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindCanceled  Kind = "canceled"
	KindBlocked   Kind = "blocked"
)

// Event is one routed message. Fraction is meaningful for progress events.
type Event struct {
	Topic     Topic           `json:"topic"`
	Kind      Kind            `json:"kind"`
	JobID     string          `json:"job_id,omitempty"`
	SandboxID int64           `json:"sandbox_id,omitempty"`
	Track     string          `json:"track,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Fraction  float64         `json:"fraction,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}

// Handler receives dispatched events. Handlers run on the dispatching
// goroutine and must not block.
type Handler func(Event)

// Handle identifies one registration. Handles increase monotonically and are
// never reused.
type Handle uint64

type registration struct {
	handle  Handle
	topic   Topic
	handler Handler
}

// Bus is the in-process dispatcher. Register, Unregister, and Dispatch are
// atomic relative to each other.
type Bus struct {
	mu       sync.Mutex
	next     Handle
	byHandle map[Handle]*registration
	byTopic  map[Topic][]*registration
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		byHandle: make(map[Handle]*registration),
		byTopic:  make(map[Topic][]*registration),
	}
}

// Register adds a handler under a topic key and returns its handle.
func (b *Bus) Register(topic Topic, handler Handler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	reg := &registration{handle: b.next, topic: topic, handler: handler}
	b.byHandle[reg.handle] = reg
	b.byTopic[topic] = append(b.byTopic[topic], reg)
	return reg.handle
}

// Unregister removes a registration. Unknown handles are ignored.
func (b *Bus) Unregister(handle Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.byHandle[handle]
	if !ok {
		return
	}
	delete(b.byHandle, handle)
	regs := b.byTopic[reg.topic]
	for i, candidate := range regs {
		if candidate.handle == handle {
			b.byTopic[reg.topic] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.byTopic[reg.topic]) == 0 {
		delete(b.byTopic, reg.topic)
	}
}

// Dispatch delivers event to every handler registered under its topic at the
// time of the call. Iteration runs over a snapshot copy taken under lock, so
// a handler unregistering itself (or others) mid-dispatch cannot corrupt
// delivery to the rest.
func (b *Bus) Dispatch(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	regs := b.byTopic[event.Topic]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	b.mu.Unlock()

	for _, reg := range snapshot {
		reg.handler(event)
	}
}

// Subscribers reports the number of handlers registered under a topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byTopic[topic])
}
