package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/sethvargo/go-retry"
)

// dropConn closes the live connection and waits for its read loop to
// report the disconnect.
func (m *Manager) dropConn(done <-chan struct{}) {
	if conn := m.Conn(); conn != nil {
		conn.Close(websocket.StatusGoingAway, "token expired")
	}
	<-done
}

// Run keeps the stream connected until ctx ends or Close is called. Each
// outage is retried with capped exponential backoff; when the retries are
// exhausted Run returns the last connect error.
func (m *Manager) Run(ctx context.Context) error {
	for {
		b := retry.NewExponential(m.opts.BaseDelay)
		b = retry.WithCappedDuration(m.opts.MaxDelay, b)
		b = retry.WithMaxRetries(m.opts.Retries, b)

		err := retry.Do(ctx, b, func(ctx context.Context) error {
			err := m.Connect(ctx)
			if err == nil || errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		})
		switch {
		case errors.Is(err, ErrClosed):
			return nil
		case ctx.Err() != nil:
			m.Close()
			return ctx.Err()
		case err != nil:
			return fmt.Errorf("giving up on stream connection: %w", err)
		}

		m.mu.Lock()
		done := m.done
		identity := m.identity
		m.mu.Unlock()

		var expiry <-chan time.Time
		timer := time.NewTimer(time.Until(identity.ExpiresAt))
		if !identity.ExpiresAt.IsZero() {
			expiry = timer.C
		}

		select {
		case <-done:
		case <-expiry:
			slog.InfoContext(ctx, "stream token expired; reconnecting", "user_id", identity.UserID)
			m.dropConn(done)
		case <-ctx.Done():
			timer.Stop()
			m.Close()
			return ctx.Err()
		}
		timer.Stop()

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil
		}
		slog.InfoContext(ctx, "stream disconnected; reconnecting")
	}
}
