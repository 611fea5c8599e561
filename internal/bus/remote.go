package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"folio/internal/logging"
)

// subscribeFrame is the first message sent on a fresh channel; the remote
// worker answers with a stream of newline-delimited Event JSON.
type subscribeFrame struct {
	Type  string `json:"type"`
	Topic Topic  `json:"topic"`
}

type endpoint struct {
	id      string
	network string
	address string
}

// ChannelManager keeps at most one live duplex connection per configured
// remote endpoint, forwarding decoded events into the in-process bus. Each
// endpoint reconnects independently with a fixed backoff on transport
// failure.
type ChannelManager struct {
	bus     *Bus
	logger  *slog.Logger
	backoff time.Duration

	mu        sync.Mutex
	endpoints map[string]endpoint
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewChannelManager builds a manager dispatching into b.
func NewChannelManager(b *Bus, logger *slog.Logger, backoff time.Duration) *ChannelManager {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &ChannelManager{
		bus:       b,
		logger:    logging.NewComponentLogger(logger, "bus"),
		backoff:   backoff,
		endpoints: make(map[string]endpoint),
	}
}

// Add registers a remote endpoint. Duplicate identifiers keep the first
// registration; later ones are logged and ignored, guaranteeing at most one
// live channel per identifier. Endpoints added after Start get their
// connection loop immediately.
func (m *ChannelManager) Add(ctx context.Context, id, network, address string) {
	m.mu.Lock()
	if _, exists := m.endpoints[id]; exists {
		m.mu.Unlock()
		m.logger.Warn("duplicate remote endpoint ignored",
			logging.String(logging.FieldEndpoint, id),
			logging.String(logging.FieldEventType, "remote_endpoint_duplicate"),
		)
		return
	}
	ep := endpoint{id: id, network: network, address: address}
	m.endpoints[id] = ep
	started := m.started
	m.mu.Unlock()

	if started {
		m.launch(ctx, ep)
	}
}

// Start launches one connection-handling goroutine per registered endpoint.
func (m *ChannelManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true
	eps := make([]endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		eps = append(eps, ep)
	}
	m.mu.Unlock()

	for _, ep := range eps {
		m.launch(runCtx, ep)
	}
}

// Close stops every channel and waits for the loops to exit.
func (m *ChannelManager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.started = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// EndpointIDs returns the registered identifiers.
func (m *ChannelManager) EndpointIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	return ids
}

func (m *ChannelManager) launch(ctx context.Context, ep endpoint) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runChannel(ctx, ep)
	}()
}

func (m *ChannelManager) runChannel(ctx context.Context, ep endpoint) {
	logger := m.logger.With(logging.String(logging.FieldEndpoint, ep.id))
	for {
		if ctx.Err() != nil {
			return
		}

		err := m.serveConnection(ctx, ep)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Warn("remote channel dropped, retrying",
				logging.Error(err),
				logging.Duration("backoff", m.backoff),
				logging.String(logging.FieldEventType, "remote_channel_retry"),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.backoff):
		}
	}
}

func (m *ChannelManager) serveConnection(ctx context.Context, ep endpoint) error {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, ep.network, ep.address)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the context is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := json.NewEncoder(conn).Encode(subscribeFrame{Type: "subscribe", Topic: TopicWorkerEvents}); err != nil {
		return err
	}

	m.logger.Info("remote channel established",
		logging.String(logging.FieldEndpoint, ep.id),
		logging.String("address", ep.address),
	)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			m.logger.Warn("malformed remote event skipped",
				logging.String(logging.FieldEndpoint, ep.id),
				logging.Error(err),
			)
			continue
		}
		if event.Topic == "" {
			event.Topic = TopicWorkerEvents
		}
		m.bus.Dispatch(event)
	}
	return scanner.Err()
}
