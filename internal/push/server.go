// Package push serves decoded records to websocket clients
package push

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/saviobatista/nmea-bridge/internal/broadcast"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second
	maxInboundBytes     = 4096
)

// Registry adds and removes subscribers from the fan-out set
type Registry interface {
	Subscribe(ctx context.Context, sub broadcast.Subscriber) error
	Unsubscribe(id string)
}

// Server upgrades every request to a websocket and subscribes it
type Server struct {
	registry     Registry
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	QueueSize    int
	WriteTimeout time.Duration

	wg sync.WaitGroup
}

// NewServer creates a push server feeding clients from registry
func NewServer(registry Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		logger:   logger.With("component", "push"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		QueueSize:    defaultQueueSize,
		WriteTimeout: defaultWriteTimeout,
	}
}

// ServeHTTP handles one client for the lifetime of its connection
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxInboundBytes)

	id := uuid.NewString()
	logger := s.logger.With("client", id, "remote", r.RemoteAddr)

	deliver := func(payload []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, payload)
	}
	onClose := func() {
		s.registry.Unsubscribe(id)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
		logger.Info("Client disconnected")
	}
	queue := broadcast.NewQueue(id, s.QueueSize, deliver, onClose)

	if err := s.registry.Subscribe(r.Context(), queue); err != nil {
		logger.Warn("Failed to subscribe client", "error", err)
		_ = queue.Close()
		return
	}
	logger.Info("Client connected")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(conn, queue)
	}()
}

// readLoop discards inbound frames and stops the queue when the peer goes away
func (s *Server) readLoop(conn *websocket.Conn, queue *broadcast.Queue) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	_ = conn.Close()
	_ = queue.Close()
}

// Wait blocks until every client reader has exited
func (s *Server) Wait() {
	s.wg.Wait()
}
