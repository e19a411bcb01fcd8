package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/nmea-bridge/internal/broadcast"
)

const (
	DefaultChannel = "nmea:records"
	sinkName       = "redis"
	publishTimeout = 2 * time.Second
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Close() error
}

// ErrorCounter is notified of failed publishes
type ErrorCounter interface {
	IncrementSinkErrors(sink string)
}

// Client publishes record messages to a Redis pub/sub channel
type Client struct {
	client  RedisClientInterface
	channel string
	logger  *slog.Logger
}

// New creates a new Redis client
func New(addr, channel string, logger *slog.Logger) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, channel, logger), nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, channel string, logger *slog.Logger) *Client {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: client, channel: channel, logger: logger.With("component", "redis")}
}

// Channel returns the pub/sub channel
func (c *Client) Channel() string {
	return c.channel
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish sends one serialized message and returns how many clients got it
func (c *Client) Publish(ctx context.Context, payload []byte) (int64, error) {
	n, err := c.client.Publish(ctx, c.channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}
	return n, nil
}

// Subscribe opens a pub/sub subscription on the channel
func (c *Client) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	pubsub := c.client.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return pubsub, nil
}

// Subscriber returns a broadcast subscriber that forwards to the channel.
// Publish failures are logged and counted; they never stop the subscriber.
func (c *Client) Subscriber(capacity int, counter ErrorCounter) *broadcast.Queue {
	return broadcast.NewQueue("sink:"+sinkName, capacity, func(payload []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if _, err := c.Publish(ctx, payload); err != nil {
			c.logger.Warn("Failed to forward record", "channel", c.channel, "error", err)
			if counter != nil {
				counter.IncrementSinkErrors(sinkName)
			}
		}
		return nil
	}, nil)
}
