package sse

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/listenupapp/dirwatch/internal/id"
	"github.com/listenupapp/dirwatch/internal/ratelimit"
)

const (
	defaultHeartbeat = 30 * time.Second
	queueSize        = 1000
	clientBuffer     = 100

	// One slow-client warning per client per interval; the rest are counted.
	dropLogInterval = 10 * time.Second
)

// allWatches is the subscription key for clients that want every watch.
const allWatches = ""

// Client is one connected stream. The manager closes EventChan and Done when
// the client is disconnected or the manager shuts down.
type Client struct {
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
	ID          string
	// Watch is the watch name the client subscribed to; empty means all.
	Watch   string
	dropped atomic.Uint64
}

// Dropped returns how many events this client missed because its buffer was
// full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Stats summarises the stream for health reporting.
type Stats struct {
	Clients int
	Dropped uint64
}

// Manager fans change events out to stream clients. Events are queued by
// Emit and delivered by a single loop, so every client sees them in emission
// order. A client that cannot keep up loses events instead of stalling the
// watches that produce them.
type Manager struct {
	logger *slog.Logger
	drops  *ratelimit.KeyedRateLimiter
	queue  chan Event

	// subs indexes clients by subscription, then by client ID.
	subs    map[string]map[string]*Client
	mu      sync.RWMutex
	dropped atomic.Uint64

	// queueMu orders Emit against the close of queue in Shutdown.
	queueMu sync.RWMutex
	closed  bool

	started atomic.Bool
	stopped chan struct{}

	heartbeatInterval time.Duration
}

// NewManager creates a Manager. Call Start to begin delivery.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:            logger,
		drops:             ratelimit.Every(dropLogInterval, 1),
		queue:             make(chan Event, queueSize),
		subs:              make(map[string]map[string]*Client),
		stopped:           make(chan struct{}),
		heartbeatInterval: defaultHeartbeat,
	}
}

// Start runs the delivery loop until ctx is canceled or Shutdown has drained
// the queue. Only the first call does anything.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	defer close(m.stopped)

	m.logger.Info("event stream started", "heartbeat", m.heartbeatInterval)

	heartbeat := time.NewTicker(m.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-m.queue:
			if !ok {
				return
			}
			m.broadcast(event)

		case <-heartbeat.C:
			m.broadcast(NewHeartbeatEvent(m.ClientCount()))

		case <-ctx.Done():
			m.closeAllClients()
			return
		}
	}
}

// Shutdown stops accepting events, delivers what is already queued and
// closes every client. It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.queueMu.Unlock()

	pending := len(m.queue)
	if m.started.CompareAndSwap(false, true) {
		// No loop ever ran; deliver the backlog here and keep a late Start
		// from running one.
		for event := range m.queue {
			m.broadcast(event)
		}
		close(m.stopped)
	} else {
		select {
		case <-m.stopped:
		case <-ctx.Done():
			m.logger.Warn("event stream drain timed out", "pending", len(m.queue))
		}
	}

	m.closeAllClients()
	m.logger.Info("event stream stopped", "drained", pending, "dropped", m.dropped.Load())
	return nil
}

// broadcast delivers event to the clients subscribed to its watch plus the
// clients subscribed to all watches. Heartbeats and other unscoped events go
// to everyone.
func (m *Manager) broadcast(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var delivered int
	for key, clients := range m.subs {
		if event.Watch != "" && key != allWatches && key != event.Watch {
			continue
		}
		for _, client := range clients {
			if m.send(client, event) {
				delivered++
			}
		}
	}

	if event.Type != EventHeartbeat {
		m.logger.Debug("event broadcast",
			"event_type", event.Type,
			"watch", event.Watch,
			"delivered", delivered,
		)
	}
}

func (m *Manager) send(client *Client, event Event) bool {
	select {
	case client.EventChan <- event:
		return true
	default:
	}

	client.dropped.Add(1)
	m.dropped.Add(1)
	if allowed, skipped := m.drops.AllowN(client.ID); allowed {
		m.logger.Warn("dropping events for slow client",
			"client_id", client.ID,
			"event_type", event.Type,
			"client_dropped", client.Dropped(),
			"suppressed", skipped,
		)
	}
	return false
}

// Connect registers a client for watch, or for every watch when watch is
// empty.
func (m *Manager) Connect(watch string) (*Client, error) {
	clientID, err := id.Generate(id.PrefixClient)
	if err != nil {
		return nil, err
	}

	client := &Client{
		ID:          clientID,
		Watch:       watch,
		EventChan:   make(chan Event, clientBuffer),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	clients, ok := m.subs[watch]
	if !ok {
		clients = make(map[string]*Client)
		m.subs[watch] = clients
	}
	clients[clientID] = client
	total := m.countLocked()
	m.mu.Unlock()

	m.logger.Info("stream client connected", "client_id", clientID, "watch", watch, "clients", total)
	return client, nil
}

// Disconnect removes a client and closes its channels. Unknown IDs are
// ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	var client *Client
	for key, clients := range m.subs {
		if c, ok := clients[clientID]; ok {
			client = c
			delete(clients, clientID)
			if len(clients) == 0 {
				delete(m.subs, key)
			}
			break
		}
	}
	total := m.countLocked()
	m.mu.Unlock()

	if client == nil {
		return
	}
	close(client.Done)
	close(client.EventChan)
	m.drops.Forget(clientID)

	m.logger.Info("stream client disconnected",
		"client_id", clientID,
		"duration", time.Since(client.ConnectedAt),
		"dropped", client.Dropped(),
		"clients", total,
	)
}

// Emit queues an event. It never blocks: a full queue or a stopped manager
// drops the event.
func (m *Manager) Emit(event Event) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()

	if m.closed {
		return
	}

	select {
	case m.queue <- event:
	default:
		m.dropped.Add(1)
		m.logger.Error("event queue full, dropping event", "event_type", event.Type, "watch", event.Watch)
	}
}

// Clients iterates over the connected clients.
func (m *Manager) Clients() iter.Seq[*Client] {
	return func(yield func(*Client) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		for _, clients := range m.subs {
			for _, client := range clients {
				if !yield(client) {
					return
				}
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked()
}

// Stats returns the client count and the number of events dropped so far.
func (m *Manager) Stats() Stats {
	return Stats{Clients: m.ClientCount(), Dropped: m.dropped.Load()}
}

func (m *Manager) countLocked() int {
	n := 0
	for _, clients := range m.subs {
		n += len(clients)
	}
	return n
}

func (m *Manager) closeAllClients() {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, clients := range m.subs {
		for _, client := range clients {
			close(client.Done)
			close(client.EventChan)
			n++
		}
	}
	if n == 0 {
		return
	}
	clear(m.subs)
	m.drops.Reset()
	m.logger.Info("closed all stream clients", "clients", n)
}
