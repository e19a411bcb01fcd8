package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/nmea-bridge/internal/testutils"
)

// startNATS runs a throwaway NATS server and returns its URL
func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server is ready"),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	return url
}

func TestClient_Integration_PublishAndSubscribe(t *testing.T) {
	testutils.SkipIfShort(t)
	url := startNATS(t)

	consumer, err := New(url, DefaultSubject, nil)
	require.NoError(t, err)
	defer consumer.Close()

	received := make(chan []byte, 4)
	_, err = consumer.Subscribe(func(data []byte) { received <- data })
	require.NoError(t, err)

	producer, err := New(url, DefaultSubject, nil)
	require.NoError(t, err)
	defer producer.Close()

	sub := producer.Subscriber(16, nil)
	defer sub.Close()

	payload := []byte(`{"type":"depth","depthM":3.5}`)
	// the consumer's interest may take a moment to reach the server
	require.NoError(t, testutils.WaitForCondition(func() bool {
		sub.Send(payload)
		select {
		case got := <-received:
			assert.JSONEq(t, string(payload), string(got))
			return true
		default:
			return false
		}
	}, 10*time.Second))
}
