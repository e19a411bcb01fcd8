// Package control implements the request/response surface that queries and
// steers the upstream link.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/saviobatista/nmea-bridge/internal/bridge"
	"github.com/saviobatista/nmea-bridge/internal/capture"
	"github.com/saviobatista/nmea-bridge/internal/config"
)

// Backend is the coordinator the service drives
type Backend interface {
	Snapshot(ctx context.Context) (bridge.Snapshot, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reconfigure(ctx context.Context, settings config.NMEA) error
}

// ConfigSaver persists a configuration document
type ConfigSaver interface {
	Save(cfg config.Config) error
}

// Status is the reply to a status query
type Status struct {
	State           capture.State `json:"state"`
	Connected       bool          `json:"connected"`
	SubscriberCount int           `json:"subscriberCount"`
	Config          config.Config `json:"config"`
}

// Service serialises control operations
type Service struct {
	mu      sync.Mutex
	cfg     config.Config
	store   ConfigSaver
	backend Backend
	logger  *slog.Logger
}

// NewService creates a control service starting from cfg
func NewService(cfg config.Config, store ConfigSaver, backend Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		backend: backend,
		logger:  logger.With("component", "control"),
	}
}

// Config returns the active configuration
func (s *Service) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Status reports the link state, subscriber count and configuration
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.backend.Snapshot(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read link state: %w", err)
	}
	return Status{
		State:           snap.State,
		Connected:       snap.State == capture.Connected,
		SubscriberCount: snap.Subscribers,
		Config:          s.cfg,
	}, nil
}

// Connect starts the link. Calling it while connected does nothing.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.logger.Info("Connect requested")
	return nil
}

// Disconnect stops the link. Calling it while disconnected does nothing.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	s.logger.Info("Disconnect requested")
	return nil
}

// UpdateConfig merges patch, persists the result and reconnects with it.
// Validation failures wrap config.ErrInvalid and change nothing.
func (s *Service) UpdateConfig(ctx context.Context, patch config.Patch) (config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := patch.Apply(s.cfg)
	if err != nil {
		return config.Config{}, err
	}
	if err := s.store.Save(next); err != nil {
		return config.Config{}, fmt.Errorf("failed to save config: %w", err)
	}
	s.cfg = next

	if err := s.backend.Reconfigure(ctx, next.NMEA); err != nil {
		return next, fmt.Errorf("failed to reconfigure link: %w", err)
	}
	s.logger.Info("Configuration updated",
		"protocol", next.NMEA.Protocol,
		"address", next.NMEA.Address(),
		"reconnectIntervalMs", next.NMEA.ReconnectIntervalMs)
	return next, nil
}
