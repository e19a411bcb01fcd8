// Package broadcast fans decoded records out to live subscribers
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/saviobatista/nmea-bridge/internal/types"
)

// Subscriber is one output channel. Send must not block: it returns false
// when the subscriber cannot take the message right now.
type Subscriber interface {
	ID() string
	Send(payload []byte) bool
	Close() error
}

// Result reports the outcome of one Publish
type Result struct {
	Delivered int
	Skipped   int
}

// Broadcaster holds the live subscriber set. It is owned by a single
// goroutine and does no locking of its own.
type Broadcaster struct {
	subscribers map[string]Subscriber
	logger      *slog.Logger
}

// New creates an empty broadcaster
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]Subscriber),
		logger:      logger.With("component", "broadcast"),
	}
}

// Add registers a subscriber, replacing any previous one with the same id
func (b *Broadcaster) Add(s Subscriber) {
	if old, ok := b.subscribers[s.ID()]; ok && old != s {
		_ = old.Close()
	}
	b.subscribers[s.ID()] = s
	b.logger.Debug("Subscriber added", "id", s.ID(), "count", len(b.subscribers))
}

// Remove forgets a subscriber. It does not close it.
func (b *Broadcaster) Remove(id string) bool {
	if _, ok := b.subscribers[id]; !ok {
		return false
	}
	delete(b.subscribers, id)
	b.logger.Debug("Subscriber removed", "id", id, "count", len(b.subscribers))
	return true
}

// Count returns the number of live subscribers
func (b *Broadcaster) Count() int {
	return len(b.subscribers)
}

// Publish encodes msg once and offers it to every subscriber
func (b *Broadcaster) Publish(msg types.Message) (Result, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode message: %w", err)
	}

	var res Result
	for id, s := range b.subscribers {
		if s.Send(payload) {
			res.Delivered++
			continue
		}
		res.Skipped++
		b.logger.Debug("Subscriber busy, message skipped", "id", id)
	}
	return res, nil
}

// CloseAll closes and forgets every subscriber
func (b *Broadcaster) CloseAll() {
	for id, s := range b.subscribers {
		if err := s.Close(); err != nil {
			b.logger.Debug("Error closing subscriber", "id", id, "error", err)
		}
		delete(b.subscribers, id)
	}
}
