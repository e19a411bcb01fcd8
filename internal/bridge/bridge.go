// Package bridge runs the coordinator that owns the upstream link, the line
// decoder and the subscriber set. Every mutation happens on the goroutine
// running Service.Run; other goroutines only enqueue work.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/saviobatista/nmea-bridge/internal/broadcast"
	"github.com/saviobatista/nmea-bridge/internal/capture"
	"github.com/saviobatista/nmea-bridge/internal/config"
	"github.com/saviobatista/nmea-bridge/internal/parser"
	"github.com/saviobatista/nmea-bridge/internal/stats"
	"github.com/saviobatista/nmea-bridge/internal/types"
)

// ErrStopped is returned by calls made after Run has exited
var ErrStopped = errors.New("bridge stopped")

const defaultQueueSize = 1024

// Snapshot is a consistent view of the coordinator state
type Snapshot struct {
	State       capture.State
	Subscribers int
	Settings    config.NMEA
}

// Options configures a Service. Zero values pick production defaults.
type Options struct {
	Dialer    capture.Dialer
	AfterFunc capture.AfterFunc
	Stats     *stats.Stats
	Logger    *slog.Logger
	QueueSize int
	Now       func() time.Time
}

// Service is the single coordinator
type Service struct {
	queue   chan func()
	stopped chan struct{}

	manager     *capture.Manager
	broadcaster *broadcast.Broadcaster
	stats       *stats.Stats
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a coordinator for the given link settings. Nothing runs until Run.
func New(settings config.NMEA, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stats == nil {
		opts.Stats = stats.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		queue:       make(chan func(), opts.QueueSize),
		stopped:     make(chan struct{}),
		broadcaster: broadcast.New(opts.Logger),
		stats:       opts.Stats,
		logger:      opts.Logger.With("component", "bridge"),
		now:         opts.Now,
	}
	s.manager = capture.NewManager(settings, capture.Options{
		Dialer:    opts.Dialer,
		Post:      s.postEvent,
		OnLine:    s.handleLine,
		OnState:   s.handleState,
		AfterFunc: opts.AfterFunc,
		Logger:    opts.Logger,
	})
	return s
}

// Stats returns the counters the coordinator updates
func (s *Service) Stats() *stats.Stats {
	return s.stats
}

// Run drains the work queue until ctx is done, then closes the link and
// every subscriber.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.logger.Info("Bridge started", "address", s.manager.Settings().Address())

	for {
		select {
		case <-ctx.Done():
			s.manager.Disconnect()
			s.broadcaster.CloseAll()
			s.stats.SetSubscribers(0)
			s.logger.Info("Bridge stopped")
			return nil
		case f := <-s.queue:
			f()
		}
	}
}

// Connect starts the link and enables auto-reconnect
func (s *Service) Connect(ctx context.Context) error {
	return s.do(ctx, s.manager.Connect)
}

// Disconnect stops the link and disables auto-reconnect
func (s *Service) Disconnect(ctx context.Context) error {
	return s.do(ctx, s.manager.Disconnect)
}

// Reconfigure tears the link down and reconnects with new settings
func (s *Service) Reconfigure(ctx context.Context, settings config.NMEA) error {
	return s.do(ctx, func() { s.manager.Reconfigure(settings) })
}

// Snapshot returns the link state, subscriber count and active settings
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		snap = Snapshot{
			State:       s.manager.State(),
			Subscribers: s.broadcaster.Count(),
			Settings:    s.manager.Settings(),
		}
	})
	return snap, err
}

// Subscribe adds a subscriber to the fan-out set
func (s *Service) Subscribe(ctx context.Context, sub broadcast.Subscriber) error {
	return s.do(ctx, func() {
		s.broadcaster.Add(sub)
		s.stats.SetSubscribers(s.broadcaster.Count())
	})
}

// Unsubscribe removes a subscriber. It never blocks the caller, so it is
// safe to call from a subscriber's own close path.
func (s *Service) Unsubscribe(id string) {
	f := func() {
		if s.broadcaster.Remove(id) {
			s.stats.SetSubscribers(s.broadcaster.Count())
		}
	}
	select {
	case s.queue <- f:
	default:
		go s.enqueue(f)
	}
}

// do runs f on the coordinator and waits for it to finish
func (s *Service) do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	select {
	case s.queue <- func() { f(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

func (s *Service) enqueue(f func()) bool {
	select {
	case s.queue <- f:
		return true
	case <-s.stopped:
		return false
	}
}

// postEvent is called from link goroutines and timers
func (s *Service) postEvent(ev capture.Event) {
	if !s.enqueue(func() { s.manager.Handle(ev) }) {
		capture.Release(ev)
	}
}

func (s *Service) handleLine(line string) {
	s.stats.IncrementReceived()

	rec, err := parser.ParseSentence(line)
	if err != nil {
		s.stats.IncrementDropped(parser.Reason(err))
		s.logger.Debug("Sentence dropped", "reason", parser.Reason(err), "error", err, "line", line)
		return
	}
	s.stats.IncrementDecoded(string(rec.Kind()))

	res, err := s.broadcaster.Publish(types.NewMessage(rec, line, s.now()))
	if err != nil {
		s.logger.Error("Failed to publish record", "kind", rec.Kind(), "error", err)
		return
	}
	s.stats.AddBroadcast(res.Delivered, res.Skipped)
}

func (s *Service) handleState(state capture.State) {
	s.stats.SetLinkState(state.String())
	if state == capture.Connecting {
		s.stats.IncrementReconnects()
	}
}
