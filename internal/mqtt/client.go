package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/saviobatista/nmea-bridge/internal/broadcast"
)

const (
	DefaultTopic   = "nmea/records"
	sinkName       = "mqtt"
	publishTimeout = 2 * time.Second
)

// ErrTimeout is returned when the broker does not acknowledge in time
var ErrTimeout = errors.New("mqtt publish timed out")

// Publisher defines the MQTT operations used by our client
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// ErrorCounter is notified of failed publishes
type ErrorCounter interface {
	IncrementSinkErrors(sink string)
}

// Client publishes record messages to an MQTT topic at QoS 0
type Client struct {
	client Publisher
	topic  string
	logger *slog.Logger
}

// New connects to broker, e.g. tcp://localhost:1883
func New(broker, topic string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("nmea-bridge-" + uuid.NewString()[:8]).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", "error", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	logger.Info("Connected to MQTT broker", "broker", broker)

	return NewWithClient(client, topic, logger), nil
}

// NewWithClient wraps an existing publisher (useful for testing)
func NewWithClient(client Publisher, topic string, logger *slog.Logger) *Client {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: client, topic: topic, logger: logger}
}

// Topic returns the topic messages are published to
func (c *Client) Topic() string {
	return c.topic
}

// Publish sends one serialized message and waits for the client to hand it off
func (c *Client) Publish(payload []byte) error {
	token := c.client.Publish(c.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscriber returns a broadcast subscriber that forwards to the topic.
// Publish failures are logged and counted; they never stop the subscriber.
func (c *Client) Subscriber(capacity int, counter ErrorCounter) *broadcast.Queue {
	return broadcast.NewQueue("sink:"+sinkName, capacity, func(payload []byte) error {
		if err := c.Publish(payload); err != nil {
			c.logger.Warn("Failed to forward record", "topic", c.topic, "error", err)
			if counter != nil {
				counter.IncrementSinkErrors(sinkName)
			}
		}
		return nil
	}, nil)
}

// Close disconnects after letting in-flight work finish
func (c *Client) Close() {
	c.client.Disconnect(250)
}
