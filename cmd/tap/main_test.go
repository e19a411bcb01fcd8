package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saviobatista/nmea-bridge/internal/testutils"
)

// TestParseEnvironment tests environment variable handling
func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want tapConfig
	}{
		{
			name: "default values",
			env:  map[string]string{},
			want: tapConfig{PushURL: "ws://localhost:8081/", NATSSubject: "nmea.records"},
		},
		{
			name: "nats source",
			env:  map[string]string{"NATS_URL": "nats://boat:4222", "NATS_SUBJECT": "boat.records"},
			want: tapConfig{NATSURL: "nats://boat:4222", NATSSubject: "boat.records"},
		},
		{
			name: "push source with recording",
			env:  map[string]string{"TAP_URL": "ws://bridge:9000/", "OUTPUT_DIR": "/tmp/records"},
			want: tapConfig{PushURL: "ws://bridge:9000/", NATSSubject: "nmea.records", OutputDir: "/tmp/records"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"TAP_URL", "NATS_URL", "NATS_SUBJECT", "OUTPUT_DIR"} {
				t.Setenv(key, tt.env[key])
			}
			if got := parseEnvironment(); got != tt.want {
				t.Errorf("parseEnvironment() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// pushServer sends messages to every websocket client, then holds the connection open
func pushServer(t *testing.T, messages ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunTap_PushToStdout(t *testing.T) {
	server := pushServer(t, `{"type":"depth","depthM":3.5}`, `{"type":"baro","pressureHpa":1013}`)
	t.Setenv("TAP_URL", "ws"+strings.TrimPrefix(server.URL, "http")+"/")
	t.Setenv("NATS_URL", "")
	t.Setenv("OUTPUT_DIR", "")

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runTap(ctx, out) }()

	if err := testutils.WaitForCondition(func() bool {
		return strings.Count(out.String(), "\n") == 2
	}, 3*time.Second); err != nil {
		t.Fatalf("Expected two lines, got %q", out.String())
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runTap() returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runTap() did not return after cancel")
	}

	want := "{\"type\":\"depth\",\"depthM\":3.5}\n{\"type\":\"baro\",\"pressureHpa\":1013}\n"
	if out.String() != want {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestRunTap_PushToRecording(t *testing.T) {
	server := pushServer(t, `{"type":"wind_true","angle":90,"speed":8}`)
	dir := filepath.Join(t.TempDir(), "records")
	t.Setenv("TAP_URL", "ws"+strings.TrimPrefix(server.URL, "http")+"/")
	t.Setenv("NATS_URL", "")
	t.Setenv("OUTPUT_DIR", dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runTap(ctx, &bytes.Buffer{}) }()

	path := filepath.Join(dir, "nmea_"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	err := testutils.WaitForCondition(func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), `"wind_true"`)
	}, 3*time.Second)
	cancel()
	<-done
	if err != nil {
		t.Fatalf("Expected recording at %s: %v", path, err)
	}
}

func TestRunTap_RedialsUntilCancelled(t *testing.T) {
	t.Setenv("TAP_URL", "ws://127.0.0.1:1/")
	t.Setenv("NATS_URL", "")
	t.Setenv("OUTPUT_DIR", "")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := runTap(ctx, &bytes.Buffer{}); err != nil {
		t.Errorf("runTap() should return nil on cancel, got %v", err)
	}
}

func TestRunTap_BlockedOutputDir(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OUTPUT_DIR", filepath.Join(blocked, "sub"))

	if err := runTap(context.Background(), &bytes.Buffer{}); err == nil {
		t.Error("Expected error when the output directory cannot be created")
	}
}
