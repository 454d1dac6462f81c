// Package stream maintains the one persistent duplex connection to the
// backend event stream. It delivers new-message, status-update and
// template-update events to a registered handler set, exposes the
// connection health, and reconnects automatically within a bounded
// attempt budget.
//
// The Manager owns the singleton connection handle: consumers may only
// subscribe, unsubscribe, issue room joins and query health. It is an
// injectable object rather than package state so tests can substitute
// their own.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
)

// State is the connection health exposed to consumers.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateFailed means the bounded reconnect budget is exhausted; the
	// client will not retry until the next explicit Subscribe or the
	// liveness check fires.
	StateFailed State = "failed"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectBackoff     = 2 * time.Second
	defaultLivenessInterval     = 30 * time.Second
)

// ErrNotConnected is returned by JoinRoom when no live connection
// exists. Commands are never queued; the caller retries on reconnect.
var ErrNotConnected = errors.New("stream: not connected")

// Manager owns the websocket handle and its lifecycle.
// It is safe for concurrent use.
type Manager struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	maxReconnectAttempts int
	reconnectBackoff     time.Duration
	livenessInterval     time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	handlers Handlers
	// generation invalidates read loops of torn-down connections, so a
	// stale loop can never flip state or deliver events.
	generation uint64
	closed     bool

	livenessStop chan struct{}
	livenessOnce sync.Once
}

// Option configures the manager.
type Option func(*Manager)

// WithReconnectPolicy bounds automatic reconnection.
func WithReconnectPolicy(maxAttempts int, backoff time.Duration) Option {
	return func(m *Manager) {
		m.maxReconnectAttempts = maxAttempts
		m.reconnectBackoff = backoff
	}
}

// WithLivenessInterval sets the disconnected-handle check interval.
func WithLivenessInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.livenessInterval = d
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// NewManager creates a stream manager for the given websocket URL.
// No connection is made until the first Subscribe.
func NewManager(url string, opts ...Option) *Manager {
	m := &Manager{
		url:                  url,
		dialer:               websocket.DefaultDialer,
		logger:               logging.Stream(),
		maxReconnectAttempts: defaultMaxReconnectAttempts,
		reconnectBackoff:     defaultReconnectBackoff,
		livenessInterval:     defaultLivenessInterval,
		state:                StateDisconnected,
		livenessStop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers the handler set and ensures a live connection.
//
// Registration is idempotent: the previous handler set is cleared
// before the new one is attached, so a server event only ever reaches
// the latest set once. If the handle is already connected it is reused;
// if it exists but reports disconnected, an explicit reconnect is made;
// otherwise a fresh connection is created.
func (m *Manager) Subscribe(h Handlers) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("stream: manager closed")
	}
	// Replace, never accumulate: re-subscribing must not leave stale
	// handler closures receiving duplicate deliveries.
	m.handlers = h
	if m.state == StateConnected && m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.startLiveness()
	return m.connect()
}

// Unsubscribe clears the handler set. The connection stays up for the
// next subscriber.
func (m *Manager) Unsubscribe() {
	m.mu.Lock()
	m.handlers = Handlers{}
	m.mu.Unlock()
}

// JoinRoom asks the server to scope push events to one business
// account. It is best-effort and only valid while connected: when the
// stream is down it reports ErrNotConnected instead of queuing, since
// the caller re-issues joins on reconnect.
func (m *Manager) JoinRoom(accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected || m.conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(map[string]int64{"account_id": accountID})
	if err != nil {
		return err
	}
	if err := m.conn.WriteJSON(envelope{Type: CommandJoinRoom, Data: payload}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	m.logger.Debug("joined room", "account_id", accountID)
	return nil
}

// Close tears the connection down for good.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.generation++
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	close(m.livenessStop)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// connect dials the stream endpoint and starts a read loop.
func (m *Manager) connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("stream: manager closed")
	}
	if m.state == StateConnected && m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if old := m.conn; old != nil {
		old.Close()
		m.conn = nil
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	conn, _, err := m.dialer.Dial(m.url, nil)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return fmt.Errorf("stream connect: %w", err)
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.conn = conn
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("event stream connected", "url", m.url)
	go m.readLoop(conn, gen)
	return nil
}

// readLoop reads and dispatches events until the connection dies, then
// hands off to the reconnect loop. Events are dispatched serially so
// cache reconciliation sees them in arrival order.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			m.mu.Lock()
			if m.generation != gen || m.closed {
				// A newer connection replaced this one, or Close was
				// called. Nothing to report.
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.setStateLocked(StateReconnecting)
			m.mu.Unlock()

			m.logger.Warn("event stream disconnected", "error", err)
			m.reconnectLoop()
			return
		}
		m.dispatch(env)
	}
}

// reconnectLoop retries the connection with fixed backoff until the
// attempt budget is exhausted, then parks in StateFailed.
func (m *Manager) reconnectLoop() {
	for attempt := 1; attempt <= m.maxReconnectAttempts; attempt++ {
		time.Sleep(m.reconnectBackoff)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		m.logger.Info("reconnect attempt", "attempt", attempt, "max", m.maxReconnectAttempts)
		if err := m.connect(); err == nil {
			return
		}
	}

	m.mu.Lock()
	m.setStateLocked(StateFailed)
	m.mu.Unlock()
	m.logger.Error("event stream failed after exhausting reconnect attempts",
		"attempts", m.maxReconnectAttempts)
}

// startLiveness launches the periodic disconnected-handle check once
// per manager lifetime.
func (m *Manager) startLiveness() {
	m.livenessOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(m.livenessInterval)
			defer ticker.Stop()
			for {
				select {
				case <-m.livenessStop:
					return
				case <-ticker.C:
					m.mu.Lock()
					state := m.state
					m.mu.Unlock()
					if state == StateDisconnected || state == StateFailed {
						m.logger.Debug("liveness check found dead handle, reconnecting")
						if err := m.connect(); err != nil {
							m.logger.Debug("liveness reconnect failed", "error", err)
						}
					}
				}
			}
		}()
	})
}

// setStateLocked updates the state and notifies the handler set.
// Callers hold m.mu; the notification itself runs outside the lock.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	notify := m.handlers.OnStateChange
	if notify != nil {
		go notify(s)
	}
}

// dispatch decodes one envelope and delivers it to the current handler
// set. Unknown event types are ignored.
func (m *Manager) dispatch(env envelope) {
	m.mu.Lock()
	h := m.handlers
	m.mu.Unlock()

	switch env.Type {
	case EventWhatsAppMessage:
		var ev NewMessageEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			m.logger.Warn("malformed whatsapp_message event", "error", err)
			return
		}
		if h.OnNewMessage != nil {
			h.OnNewMessage(ev)
		}

	case EventNewMessage:
		var ev NewMessageEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			m.logger.Warn("malformed new_message event", "error", err)
			return
		}
		// Legacy alias: fall through to the standard handler when no
		// dedicated one is registered.
		switch {
		case h.OnLegacyMessage != nil:
			h.OnLegacyMessage(ev)
		case h.OnNewMessage != nil:
			h.OnNewMessage(ev)
		}

	case EventWhatsAppStatus:
		var ev StatusEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			m.logger.Warn("malformed whatsapp_status event", "error", err)
			return
		}
		if h.OnStatus != nil {
			h.OnStatus(ev)
		}

	case EventTemplateUpdate:
		var ev TemplateEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			m.logger.Warn("malformed template_update event", "error", err)
			return
		}
		if h.OnTemplate != nil {
			h.OnTemplate(ev)
		}

	default:
		m.logger.Debug("ignoring unknown event", "type", env.Type)
	}
}
