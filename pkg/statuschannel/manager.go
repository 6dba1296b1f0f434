package statuschannel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ClientMessage is the shape of one inbound WebSocket control message.
type ClientMessage struct {
	Action string `json:"action"` // "ping" is the only client-initiated action once subscribed
}

// connection is a single WebSocket client, scoped to exactly one
// preflight's status channel for its whole lifetime — simpler than the
// teacher's multi-channel-per-connection model (pkg/events.Connection),
// since a caller only ever watches one audit at a time (SPEC_FULL.md §6:
// "a durable per-row subscription on the status table").
type connection struct {
	id          string
	conn        *websocket.Conn
	preflightID string
	ctx         context.Context
	cancel      context.CancelFunc
}

// Manager tracks active WebSocket connections and the channels they're
// subscribed to, and pushes a fresh snapshot whenever NOTIFY fires.
type Manager struct {
	store *Store

	mu          sync.RWMutex
	connections map[string]*connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // preflight channel -> connection ids

	listener     *NotifyListener
	listenerMu   sync.RWMutex
	writeTimeout time.Duration
}

// NewManager creates a manager bound to store, used to fetch the snapshot
// sent on subscribe and after every notification.
func NewManager(store *Store, writeTimeout time.Duration) *Manager {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Manager{
		store:        store,
		connections:  make(map[string]*connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// SetListener wires the NotifyListener used for dynamic LISTEN/UNLISTEN.
func (m *Manager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// ActiveConnections returns the count of currently open WebSocket connections.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection manages one WebSocket client's lifecycle for a single
// preflight's status channel. The caller (the /ws HTTP handler) has already
// authorized the subscriber against CanRead before upgrading. Blocks until
// the connection closes.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, preflightID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{id: uuid.NewString(), conn: conn, preflightID: preflightID, ctx: ctx, cancel: cancel}

	m.register(c)
	defer m.unregister(c)

	channel := Channel(preflightID)
	if err := m.listen(ctx, channel); err != nil {
		slog.Error("statuschannel: LISTEN failed for subscriber", "preflight_id", preflightID, "error", err)
		m.sendJSON(c, map[string]string{"type": "subscription.error", "message": "failed to subscribe"})
		return
	}

	m.sendSnapshot(ctx, c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Action == "ping" {
			m.sendJSON(c, map[string]string{"type": "pong"})
		}
	}
}

func (m *Manager) listen(ctx context.Context, channel string) error {
	m.channelMu.Lock()
	_, exists := m.channels[channel]
	if !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channelMu.Unlock()

	if exists {
		return nil
	}

	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l == nil {
		return nil
	}

	listenCtx, listenCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer listenCancel()
	return l.Subscribe(listenCtx, channel)
}

func (m *Manager) register(c *connection) {
	m.mu.Lock()
	m.connections[c.id] = c
	m.mu.Unlock()

	channel := Channel(c.preflightID)
	m.channelMu.Lock()
	if m.channels[channel] == nil {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.id] = true
	m.channelMu.Unlock()
}

func (m *Manager) unregister(c *connection) {
	channel := Channel(c.preflightID)
	m.channelMu.Lock()
	if subs, ok := m.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.channels, channel)
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := l.Unsubscribe(ctx, channel); err != nil {
						slog.Error("statuschannel: UNLISTEN failed", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// broadcast re-fetches the status row for the preflight behind channel and
// pushes the fresh snapshot to every subscribed connection. The NOTIFY
// payload itself is ignored beyond routing — see statuschannel.notifyPayload.
func (m *Manager) broadcast(channel string, payload []byte) {
	var route notifyPayload
	if err := json.Unmarshal(payload, &route); err != nil {
		return
	}

	m.channelMu.RLock()
	connIDs, ok := m.channels[channel]
	if !ok {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	status, err := m.store.Get(context.Background(), route.PreflightID)
	if err != nil {
		slog.Warn("statuschannel: snapshot fetch failed after notify", "preflight_id", route.PreflightID, "error", err)
		return
	}

	for _, c := range conns {
		m.sendJSON(c, map[string]any{"type": "status.update", "status": status})
	}
}

func (m *Manager) sendSnapshot(ctx context.Context, c *connection) {
	status, err := m.store.Get(ctx, c.preflightID)
	if err != nil {
		m.sendJSON(c, map[string]string{"type": "error", "message": "status not found"})
		return
	}
	m.sendJSON(c, map[string]any{"type": "status.snapshot", "status": status})
}

func (m *Manager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("statuschannel: write failed", "connection_id", c.id, "error", err)
	}
}
