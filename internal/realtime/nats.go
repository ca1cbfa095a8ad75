// Package realtime publishes announcement events to NATS JetStream and fans
// them out to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamAnnouncements holds every announcement and crawl event.
const StreamAnnouncements = "ANNOUNCEMENTS"

// Subjects of the announcements stream.
const (
	SubjectPrefix         = "announcements"
	SubjectAll            = "announcements.>"
	SubjectNew            = "announcements.new"
	SubjectUpdated        = "announcements.updated"
	SubjectCrawlCompleted = "announcements.crawl.completed"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	MaxAge         time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		Name:           "tender-watch",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxAge:         30 * 24 * time.Hour,
	}
}

// NATSClient wraps NATS connection and JetStream context.
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	logger *slog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription
}

// NewNATSClient creates a new NATS client with JetStream support.
func NewNATSClient(cfg NATSConfig, logger *slog.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := &NATSClient{
		config: cfg,
		logger: logger.With("component", "nats"),
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *NATSClient) connect() error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.Timeout(c.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(conn *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("NATS error", "error", err, "subject", subject)
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.logger.Info("connected to NATS", "url", c.config.URL)
	return nil
}

// SetupStreams creates or updates the announcements stream.
func (c *NATSClient) SetupStreams(ctx context.Context) error {
	cfg := nats.StreamConfig{
		Name:        StreamAnnouncements,
		Description: "Procurement announcement and crawl events",
		Subjects:    []string{SubjectAll},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      c.config.MaxAge,
		MaxMsgs:     -1,
		MaxBytes:    -1,
		Replicas:    1,
		Discard:     nats.DiscardOld,
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	_, err := js.StreamInfo(cfg.Name, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := js.AddStream(&cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		c.logger.Info("created stream", "stream", cfg.Name)
	case err != nil:
		return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
	default:
		if _, err := js.UpdateStream(&cfg, nats.Context(ctx)); err != nil {
			c.logger.Warn("failed to update stream", "stream", cfg.Name, "error", err)
		}
	}
	return nil
}

// Publish publishes an event to a subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return errors.New("nats client closed")
	}

	if _, err := js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.logger.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// PublishEvent validates event and publishes it on its kind's subject.
func (c *NATSClient) PublishEvent(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return c.Publish(ctx, event.Kind.Subject(), event)
}

// Subscribe creates a JetStream subscription to a subject.
func (c *NATSClient) Subscribe(
	subject string,
	handler func(*nats.Msg),
	opts ...nats.SubOpt,
) (*nats.Subscription, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	sub, err := js.Subscribe(subject, handler, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Info("subscribed to subject", "subject", subject)
	return sub, nil
}

// IsConnected returns true if connected to NATS.
func (c *NATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Health reports an error while the connection is down.
func (c *NATSClient) Health(_ context.Context) error {
	if !c.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

// Drain gracefully drains all subscriptions.
func (c *NATSClient) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			return fmt.Errorf("failed to drain connection: %w", err)
		}
	}

	c.logger.Info("drained all subscriptions")
	return nil
}

// Close closes the NATS connection.
func (c *NATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.logger.Info("closed NATS connection")
	return nil
}
