// Package nats carries paycore's lifecycle events over JetStream and feeds
// route catalog snapshots back into every replica.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type Config struct {
	URL           string        `envconfig:"NATS_URL"`
	Name          string        `envconfig:"NATS_CLIENT_NAME" default:"paycore"`
	Stream        string        `envconfig:"NATS_STREAM" default:"PAYCORE"`
	MaxReconnects int           `envconfig:"NATS_MAX_RECONNECTS" default:"10"`
	ReconnectWait time.Duration `envconfig:"NATS_RECONNECT_WAIT" default:"2s"`

	// Retention of the event stream. Catalog feeds only need the newest
	// snapshot, lifecycle consumers downstream need the history.
	StreamMaxAge   time.Duration `envconfig:"NATS_STREAM_MAX_AGE" default:"168h"`
	StreamReplicas int           `envconfig:"NATS_STREAM_REPLICAS" default:"1"`
	// DuplicateWindow bounds how long a re-published event id is dropped.
	DuplicateWindow time.Duration `envconfig:"NATS_DUPLICATE_WINDOW" default:"2m"`

	AckWait    time.Duration `envconfig:"NATS_ACK_WAIT" default:"30s"`
	MaxDeliver int           `envconfig:"NATS_MAX_DELIVER" default:"5"`
}

// Enabled reports whether a broker URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Client is a broker connection plus its JetStream context.
type Client struct {
	cfg    Config
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect dials cfg.URL. The connection reconnects on its own; the
// handlers only log.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	logger = logger.With("component", "nats")

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("broker connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("broker connection restored", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("async broker error", "error", err, "subject", subject)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing nats %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening jetstream: %w", err)
	}

	logger.Info("connected to broker", "url", conn.ConnectedUrl(), "stream", cfg.Stream)
	return &Client{cfg: cfg, conn: conn, js: js, logger: logger}, nil
}

// Conn exposes the core connection for plain request/reply traffic such as
// the execution bridge.
func (c *Client) Conn() *nats.Conn { return c.conn }

// Close drains in-flight messages before closing.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("draining broker connection", "error", err)
	}
}

func (c *Client) HealthCheck() error {
	if status := c.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection is %s", status)
	}
	return nil
}
