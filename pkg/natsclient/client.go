package natsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/teslashibe/go-franka/internal/log"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("not connected")

// Client provides a high-level interface to NATS for the arm driver.
type Client struct {
	cfg    Config
	logger *zap.Logger
	topics *Topics

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed bool

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnectCount   atomic.Int64
}

// New creates a new NATS client.
// Call Connect() to establish the connection.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		cfg:    cfg,
		logger: log.Or(logger).Named("nats"),
		topics: NewTopics(cfg.Prefix),
	}, nil
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return io.ErrClosedPipe
	}

	if c.conn != nil {
		return nil // Already connected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("connecting to NATS", zap.String("url", c.cfg.URL))

	maxReconnects := c.cfg.MaxReconnectAttempts
	if maxReconnects == 0 {
		maxReconnects = -1
	}

	conn, err := nats.Connect(c.cfg.URL,
		nats.Name(c.cfg.Name),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.ReconnectWait(c.cfg.ReconnectInterval),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.reconnectCount.Add(1)
			c.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}

	c.conn = conn

	c.logger.Info("connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("server_id", conn.ConnectedServerId()),
	)

	return nil
}

// ConnectWithRetry connects with automatic retry on failure.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return err
		}

		attempts++

		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("max reconnect attempts (%d) reached: %w", c.cfg.MaxReconnectAttempts, err)
		}

		c.logger.Warn("NATS connection failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", c.cfg.ReconnectInterval),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// Topics returns the topics helper.
func (c *Client) Topics() *Topics {
	return c.topics
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.closed && c.conn.IsConnected()
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.closed {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Publish publishes data to a subject.
func (c *Client) Publish(subject string, data []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.messagesSent.Add(1)
	return nil
}

// Subscribe subscribes to a subject and calls the handler for each message.
// Subscriptions are released by Close.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		c.messagesReceived.Add(1)
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Debug("subscribed to subject", zap.String("subject", subject))

	return sub, nil
}

// Request publishes data on subject and waits for a single reply.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request on %s: %w", subject, err)
	}

	c.messagesSent.Add(1)
	c.messagesReceived.Add(1)
	return msg.Data, nil
}

// Flush performs a round trip to the server.
func (c *Client) Flush(ctx context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	for _, sub := range c.subs {
		if sub.IsValid() {
			err = multierr.Append(err, sub.Unsubscribe())
		}
	}
	c.subs = nil

	if c.conn != nil {
		err = multierr.Append(err, c.conn.Flush())
		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("NATS client closed")
	return err
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	connected := c.conn != nil && !c.closed && c.conn.IsConnected()
	c.mu.RUnlock()

	return ClientStats{
		Connected:        connected,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ReconnectCount   int64 `json:"reconnect_count"`
}
