package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/saviobatista/nmea-bridge/internal/nats"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runTap(ctx, os.Stdout); err != nil {
		slog.Error("Tap failed", "error", err)
		os.Exit(1)
	}
}

// tapConfig selects where messages come from and where they go
type tapConfig struct {
	PushURL     string
	NATSURL     string
	NATSSubject string
	OutputDir   string
}

// parseEnvironment extracts environment variables with defaults
func parseEnvironment() tapConfig {
	_ = godotenv.Load()

	cfg := tapConfig{
		PushURL:     strings.TrimSpace(os.Getenv("TAP_URL")),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		NATSSubject: strings.TrimSpace(os.Getenv("NATS_SUBJECT")),
		OutputDir:   strings.TrimSpace(os.Getenv("OUTPUT_DIR")),
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = nats.DefaultSubject
	}
	if cfg.PushURL == "" && cfg.NATSURL == "" {
		cfg.PushURL = "ws://localhost:8081/"
	}
	return cfg
}

// runTap contains the main application logic and can be tested
func runTap(ctx context.Context, stdout io.Writer) error {
	cfg := parseEnvironment()

	var sink func([]byte) error
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		recorder := NewRecorder(cfg.OutputDir)
		defer func() {
			if err := recorder.Close(); err != nil {
				slog.Warn("Failed to close recording", "error", err)
			}
		}()
		sink = recorder.WriteMessage
	} else {
		sink = func(payload []byte) error {
			_, err := fmt.Fprintf(stdout, "%s\n", payload)
			return err
		}
	}

	handle := func(payload []byte) {
		if err := sink(payload); err != nil {
			slog.Error("Failed to write message", "error", err)
		}
	}

	if cfg.NATSURL != "" {
		return tapNATS(ctx, cfg, handle)
	}
	return tapPush(ctx, cfg.PushURL, handle)
}

// tapNATS prints every message on the subject until ctx is done
func tapNATS(ctx context.Context, cfg tapConfig, handle func([]byte)) error {
	client, err := nats.New(cfg.NATSURL, cfg.NATSSubject, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer client.Close()

	msgs := make(chan []byte, 256)
	sub, err := client.Subscribe(func(data []byte) {
		select {
		case msgs <- data:
		default:
			slog.Warn("Tap is falling behind, message dropped")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to records: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	slog.Info("Tapping NATS", "url", cfg.NATSURL, "subject", cfg.NATSSubject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-msgs:
			handle(data)
		}
	}
}

// tapPush reads the bridge's push channel, redialing when it drops
func tapPush(ctx context.Context, url string, handle func([]byte)) error {
	for {
		err := readPush(ctx, url, handle)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("Push channel lost, retrying", "url", url, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func readPush(ctx context.Context, url string, handle func([]byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	slog.Info("Tapping push channel", "url", url)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("bridge closed the channel")
			}
			return fmt.Errorf("read error: %w", err)
		}
		if kind == websocket.TextMessage {
			handle(data)
		}
	}
}
