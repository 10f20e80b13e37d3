// Package client wires a signed-in messaging session: REST client, stream
// manager, session state and the optional NATS relay.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/carechat/internal/api"
	"github.com/johndosdos/carechat/internal/broker"
	"github.com/johndosdos/carechat/internal/composer"
	"github.com/johndosdos/carechat/internal/config"
	"github.com/johndosdos/carechat/internal/messaging"
	"github.com/johndosdos/carechat/internal/model"
	"github.com/johndosdos/carechat/internal/notify"
	ratelimiter "github.com/johndosdos/carechat/internal/rate_limiter"
	"github.com/johndosdos/carechat/internal/typing"
	"github.com/johndosdos/carechat/internal/websocket"
)

// Options adjusts Dial.
type Options struct {
	// Relay publishes received messages to NATS when Config.NATSURL is set.
	Relay bool
	// OnMessage is called for every received message, after the relay.
	OnMessage func(model.Message)
	Notifier  notify.Notifier
}

// Client is one connected session.
type Client struct {
	API      *api.Client
	Stream   *websocket.Manager
	Session  *messaging.Session
	Composer *composer.Composer

	limiter *ratelimiter.KeyedLimiter
	nc      *nats.Conn
}

// Dial connects the stream, learns the user from the stream token and
// hydrates the thread list. Call Run to process events.
func Dial(ctx context.Context, cfg config.Config, opts Options) (*Client, error) {
	apiClient, err := api.NewClient(cfg.APIURL, cfg.SessionToken)
	if err != nil {
		return nil, err
	}

	c := &Client{API: apiClient}
	if cfg.TypingRate > 0 {
		c.limiter = ratelimiter.NewKeyedLimiter(cfg.TypingRate, time.Second, ratelimiter.CleanupOpts{
			TTL:      time.Minute,
			Interval: time.Minute,
		})
	}

	c.Stream = websocket.NewManager(websocket.Options{
		URL:       cfg.StreamURL,
		Tokens:    apiClient,
		Limiter:   c.limiter,
		Retries:   cfg.ReconnectRetries,
		BaseDelay: cfg.ReconnectDelay,
	})
	if err := c.Stream.Connect(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect stream: %w", err)
	}
	identity, _ := c.Stream.Identity()

	var relay messaging.Relay
	if opts.Relay && cfg.NATSURL != "" {
		r, err := c.dialRelay(ctx, cfg.NATSURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		relay = r
	}
	if opts.OnMessage != nil {
		relay = callbackRelay{next: relay, fn: opts.OnMessage}
	}

	c.Session = messaging.NewSession(messaging.Config{
		ViewerID: identity.UserID,
		Stream:   c.Stream,
		Backend:  apiClient,
		Relay:    relay,
		Typing: typing.Options{
			Debounce:  cfg.TypingDebounce,
			RemoteTTL: cfg.RemoteTypingTTL,
		},
		Location: cfg.Location,
	})
	c.Composer = composer.New(apiClient, c.Session, composer.Options{
		MaxBytes: cfg.MaxUploadBytes,
		Notifier: opts.Notifier,
	})

	if err := c.Session.Hydrate(ctx); err != nil {
		// A failed first load leaves an empty list; reconnects refetch.
		slog.WarnContext(ctx, "initial thread load failed", "error", err)
	}
	slog.InfoContext(ctx, "session ready", "user_id", identity.UserID, "threads", len(c.Session.Threads.Visible()))
	return c, nil
}

func (c *Client) dialRelay(ctx context.Context, url string) (*broker.Relay, error) {
	nc, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	c.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream instance: %w", err)
	}
	if _, err := broker.EnsureStream(ctx, js); err != nil {
		return nil, err
	}
	return broker.NewRelay(js), nil
}

// Run supervises the stream and applies its events until ctx ends or the
// stream gives up reconnecting.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Stream.Run(gctx) })
	g.Go(func() error { return c.Session.Run(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close tears the session down.
func (c *Client) Close() {
	if c.Session != nil {
		c.Session.Typing.StopAll()
	}
	if c.Stream != nil {
		c.Stream.Close()
	}
	if c.limiter != nil {
		c.limiter.Stop()
	}
	if c.nc != nil {
		if err := c.nc.Drain(); err != nil {
			slog.Warn("couldn't drain NATS conn", "error", err)
		}
	}
}

type callbackRelay struct {
	next messaging.Relay
	fn   func(model.Message)
}

func (r callbackRelay) Publish(ctx context.Context, msg model.Message) error {
	var err error
	if r.next != nil {
		err = r.next.Publish(ctx, msg)
	}
	r.fn(msg)
	return err
}
