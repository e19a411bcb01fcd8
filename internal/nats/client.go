package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/saviobatista/nmea-bridge/internal/broadcast"
)

const (
	DefaultSubject = "nmea.records"
	sinkName       = "nats"
)

// ErrEmptySubject is returned when publishing or subscribing without a subject
var ErrEmptySubject = errors.New("empty NATS subject")

// Conn defines the NATS operations used by our client
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// ErrorCounter is notified of failed publishes
type ErrorCounter interface {
	IncrementSinkErrors(sink string)
}

// Client publishes record messages to a NATS subject
type Client struct {
	conn    Conn
	subject string
	logger  *slog.Logger
}

// New connects to the NATS server at url
func New(url, subject string, logger *slog.Logger) (*Client, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name("nmea-bridge"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return NewWithConn(nc, subject, logger), nil
}

// NewWithConn wraps an existing connection (useful for testing)
func NewWithConn(conn Conn, subject string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, subject: subject, logger: logger}
}

// Subject returns the subject messages are published to
func (c *Client) Subject() string {
	return c.subject
}

// Publish sends one serialized message
func (c *Client) Publish(payload []byte) error {
	if c.subject == "" {
		return ErrEmptySubject
	}
	if err := c.conn.Publish(c.subject, payload); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe hands every message on the subject to handler
func (c *Client) Subscribe(handler func([]byte)) (*nats.Subscription, error) {
	if c.subject == "" {
		return nil, ErrEmptySubject
	}
	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// Subscriber returns a broadcast subscriber that forwards to the subject.
// Publish failures are logged and counted; they never stop the subscriber.
func (c *Client) Subscriber(capacity int, counter ErrorCounter) *broadcast.Queue {
	return broadcast.NewQueue("sink:"+sinkName, capacity, func(payload []byte) error {
		if err := c.Publish(payload); err != nil {
			c.logger.Warn("Failed to forward record", "subject", c.subject, "error", err)
			if counter != nil {
				counter.IncrementSinkErrors(sinkName)
			}
		}
		return nil
	}, nil)
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
