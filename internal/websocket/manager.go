// Package websocket owns the single authenticated stream connection of a
// signed-in session.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/johndosdos/carechat/internal/auth"
	"github.com/johndosdos/carechat/internal/event"
	ratelimiter "github.com/johndosdos/carechat/internal/rate_limiter"
)

var (
	// ErrNotConnected is returned when emitting without a live connection.
	ErrNotConnected = errors.New("stream is not connected")
	// ErrClosed is returned once the manager has been torn down.
	ErrClosed = errors.New("stream manager closed")
	// ErrThrottled is returned when an outbound event exceeds its rate.
	ErrThrottled = errors.New("stream event throttled")
	// ErrTokenExpired is returned when the token source hands out a token
	// that has already expired.
	ErrTokenExpired = errors.New("stream token expired")
)

// TokenSource issues stream tokens. It is called on every connect attempt.
type TokenSource interface {
	StreamToken(ctx context.Context) (string, error)
}

// Options configures a Manager.
type Options struct {
	URL          string
	Tokens       TokenSource
	WriteTimeout time.Duration
	PingInterval time.Duration
	EventBuffer  int

	// Limiter throttles typingStart and markThreadRead per thread. Nil disables it.
	Limiter *ratelimiter.KeyedLimiter

	Retries   uint64
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (o *Options) setDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
}

// Manager connects, authenticates and reads the stream, publishing decoded
// events on Events. A dropped connection leaves the handle nil until the next
// Connect; Run supervises reconnection.
type Manager struct {
	opts   Options
	events chan event.Inbound

	connectMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	identity auth.Identity
	stop     context.CancelFunc
	done     chan struct{}
	closed   bool
}

// NewManager returns a disconnected manager.
func NewManager(opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		opts:   opts,
		events: make(chan event.Inbound, opts.EventBuffer),
	}
}

// Events delivers inbound and lifecycle events for the manager's lifetime.
func (m *Manager) Events() <-chan event.Inbound {
	return m.events
}

// Conn returns the live connection, or nil before Connect or after a drop.
func (m *Manager) Conn() *websocket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool {
	return m.Conn() != nil
}

// Identity returns the user the last stream token was issued for.
func (m *Manager) Identity() (auth.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity, m.identity.UserID != ""
}

// Connect opens the stream unless it is already open. Each attempt fetches a
// fresh token; a successful handshake is followed by joinThreads.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	token, err := m.opts.Tokens.StreamToken(ctx)
	if err != nil {
		return m.connectFailed(ctx, fmt.Errorf("failed to fetch stream token: %w", err))
	}

	identity, err := auth.IdentityFromToken(token)
	if err != nil {
		return m.connectFailed(ctx, err)
	}
	if identity.Expired(time.Now()) {
		return m.connectFailed(ctx, fmt.Errorf("%w: issued for %s at %s", ErrTokenExpired, identity.UserID, identity.ExpiresAt))
	}

	conn, _, err := websocket.Dial(ctx, m.opts.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return m.connectFailed(ctx, fmt.Errorf("failed to dial stream: %w", err))
	}

	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stop()
		conn.Close(websocket.StatusNormalClosure, "manager closed")
		return ErrClosed
	}
	m.conn = conn
	m.identity = identity
	m.stop = stop
	m.done = done
	m.mu.Unlock()

	go m.readLoop(loopCtx, conn, done)
	go m.keepalive(loopCtx, conn)

	slog.InfoContext(ctx, "stream connected", "user_id", identity.UserID)
	m.lifecycle(event.Lifecycle{Name: event.Connect})

	if err := m.write(ctx, conn, event.Join{}); err != nil {
		slog.WarnContext(ctx, "failed to join threads", "error", err)
	}
	return nil
}

func (m *Manager) connectFailed(ctx context.Context, err error) error {
	slog.WarnContext(ctx, "stream connect error", "error", err)
	m.lifecycle(event.Lifecycle{Name: event.ConnectError, Err: err})
	return err
}

// Emit writes an outbound event on the live connection.
func (m *Manager) Emit(ctx context.Context, ev event.Outbound) error {
	conn := m.Conn()
	if conn == nil {
		return ErrNotConnected
	}

	if key, ok := throttleKey(ev); ok && m.opts.Limiter != nil && !m.opts.Limiter.Allow(key) {
		return ErrThrottled
	}

	return m.write(ctx, conn, ev)
}

func (m *Manager) write(ctx context.Context, conn *websocket.Conn, ev event.Outbound) error {
	env, err := event.Encode(ev)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, env); err != nil {
		return fmt.Errorf("failed to write %s: %w", env.Event, err)
	}
	return nil
}

func throttleKey(ev event.Outbound) (string, bool) {
	switch e := ev.(type) {
	case event.Typing:
		if e.Active {
			return event.TypingStart + ":" + e.ThreadID, true
		}
	case event.MarkRead:
		return event.MarkThreadRead + ":" + e.ThreadID, true
	}
	return "", false
}

// readLoop reads the incoming data from the websocket stream.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		msgType, p, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				slog.Warn("stream read failed", "error", err)
			}
			if m.detach(conn) {
				m.lifecycle(event.Lifecycle{Name: event.Disconnect, Err: err})
			}
			return
		}

		// The protocol is JSON text frames only.
		if msgType != websocket.MessageText {
			continue
		}

		ev, err := event.Decode(p)
		if err != nil {
			slog.Warn("rejected inbound frame", "error", err)
			continue
		}

		select {
		case m.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				slog.Warn("stream ping failed", "error", err)
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// detach clears conn as the live handle. It reports false if conn was
// already replaced or closed.
func (m *Manager) detach(conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != conn {
		return false
	}
	m.conn = nil
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	return true
}

func (m *Manager) lifecycle(ev event.Lifecycle) {
	select {
	case m.events <- ev:
	default:
		slog.Warn("dropping lifecycle event; consumer is behind", "event", ev.Name)
	}
}

// Close tears the connection down for good.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	stop := m.stop
	m.conn = nil
	m.stop = nil
	m.closed = true
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "session ended")
	}
	if stop != nil {
		stop()
	}
	return err
}
