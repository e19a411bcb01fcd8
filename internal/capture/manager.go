package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/saviobatista/nmea-bridge/internal/config"
)

// State is the lifecycle of the upstream link
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	WaitingToReconnect
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case WaitingToReconnect:
		return "waiting_to_reconnect"
	default:
		return "unknown"
	}
}

// MarshalText renders the state for JSON status replies
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is produced by the link goroutines and handed back to the manager
// through the poster. Events from an older link generation are ignored.
type Event interface {
	generation() uint64
}

type linkUp struct {
	gen  uint64
	link io.ReadCloser
}

type linkFailed struct {
	gen uint64
	err error
}

type chunk struct {
	gen  uint64
	data []byte
}

type linkClosed struct {
	gen uint64
	err error
}

type timerFired struct {
	gen uint64
}

func (e linkUp) generation() uint64     { return e.gen }
func (e linkFailed) generation() uint64 { return e.gen }
func (e chunk) generation() uint64      { return e.gen }
func (e linkClosed) generation() uint64 { return e.gen }
func (e timerFired) generation() uint64 { return e.gen }

// Release frees what an event holds when it will never reach Handle
func Release(ev Event) {
	if up, ok := ev.(linkUp); ok {
		_ = up.link.Close()
	}
}

// AfterFunc schedules f after d and returns an idempotent cancel
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

// Options wires the manager to its surroundings
type Options struct {
	Dialer Dialer
	// Post delivers an event to the goroutine that owns the manager
	Post func(Event)
	// OnLine receives every complete line of the current link, in order
	OnLine func(line string)
	// OnState is notified after every state change
	OnState   func(State)
	AfterFunc AfterFunc
	Logger    *slog.Logger
}

// Manager owns one upstream link and its reconnect policy. It is not safe
// for concurrent use: every method, including Handle, must be called from
// the same goroutine.
type Manager struct {
	settings      config.NMEA
	state         State
	autoReconnect bool
	gen           uint64

	link       io.ReadCloser
	cancelDial context.CancelFunc
	stopTimer  func() bool
	assembler  *Assembler
	attempts   int

	dialer    Dialer
	post      func(Event)
	onLine    func(string)
	onState   func(State)
	afterFunc AfterFunc
	logger    *slog.Logger
}

// NewManager creates a disconnected manager
func NewManager(settings config.NMEA, opts Options) *Manager {
	m := &Manager{
		settings:  settings,
		assembler: NewAssembler(),
		dialer:    opts.Dialer,
		post:      opts.Post,
		onLine:    opts.OnLine,
		onState:   opts.OnState,
		afterFunc: opts.AfterFunc,
		logger:    opts.Logger,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "link")
	if m.dialer == nil {
		m.dialer = NewNetDialer(m.logger)
	}
	if m.afterFunc == nil {
		m.afterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if m.onLine == nil {
		m.onLine = func(string) {}
	}
	return m
}

// State returns the current link state
func (m *Manager) State() State {
	return m.state
}

// Settings returns the active link settings
func (m *Manager) Settings() config.NMEA {
	return m.settings
}

// Attempts returns how many dials have been started
func (m *Manager) Attempts() int {
	return m.attempts
}

// Connect enables auto-reconnect and dials unless a link is up or being set up
func (m *Manager) Connect() {
	m.autoReconnect = true
	switch m.state {
	case Connecting, Connected:
		return
	case WaitingToReconnect:
		m.cancelTimer()
	}
	m.dial()
}

// Disconnect disables auto-reconnect and tears everything down
func (m *Manager) Disconnect() {
	m.autoReconnect = false
	m.gen++
	m.cancelTimer()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.link != nil {
		if err := m.link.Close(); err != nil {
			m.logger.Debug("Error closing link", "error", err)
		}
		m.link = nil
	}
	m.assembler.Reset()
	m.setState(Disconnected)
}

// Reconfigure replaces the settings and reconnects from scratch
func (m *Manager) Reconfigure(settings config.NMEA) {
	m.Disconnect()
	m.settings = settings
	m.Connect()
}

// Handle applies an event posted by a link goroutine or the reconnect timer
func (m *Manager) Handle(ev Event) {
	if ev.generation() != m.gen {
		Release(ev)
		return
	}

	switch e := ev.(type) {
	case linkUp:
		m.onLinkUp(e)
	case linkFailed:
		m.onLinkFailed(e)
	case chunk:
		if m.state != Connected {
			return
		}
		for _, line := range m.assembler.Feed(e.data) {
			m.onLine(line)
		}
	case linkClosed:
		m.onLinkClosed(e)
	case timerFired:
		if m.state != WaitingToReconnect {
			return
		}
		m.stopTimer = nil
		m.dial()
	}
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	settings := m.settings
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.attempts++
	m.setState(Connecting)
	m.logger.Info("Connecting", "protocol", settings.Protocol, "address", settings.Address())

	go func() {
		link, err := m.dialer.Dial(ctx, settings)
		if err != nil {
			m.post(linkFailed{gen: gen, err: err})
			return
		}
		m.post(linkUp{gen: gen, link: link})
	}()
}

func (m *Manager) onLinkUp(e linkUp) {
	if m.state != Connecting {
		_ = e.link.Close()
		return
	}
	m.releaseDial()
	m.link = e.link
	m.assembler.Reset()
	m.setState(Connected)
	m.logger.Info("Connected", "protocol", m.settings.Protocol, "address", m.settings.Address())

	go m.readLoop(e.gen, e.link)
}

func (m *Manager) onLinkFailed(e linkFailed) {
	if m.state != Connecting {
		return
	}
	m.releaseDial()
	if errors.Is(e.err, ErrBind) {
		m.logger.Error("Failed to bind listener", "error", e.err)
		m.setState(Disconnected)
		return
	}
	m.logger.Warn("Connection failed", "address", m.settings.Address(), "error", e.err)
	m.scheduleReconnect()
}

func (m *Manager) onLinkClosed(e linkClosed) {
	if m.state != Connected {
		return
	}
	if m.link != nil {
		_ = m.link.Close()
		m.link = nil
	}
	m.gen++
	m.logger.Warn("Connection lost", "address", m.settings.Address(), "error", e.err)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if !m.autoReconnect {
		m.setState(Disconnected)
		return
	}
	gen := m.gen
	interval := m.settings.ReconnectInterval()
	m.setState(WaitingToReconnect)
	m.logger.Info("Reconnecting later", "in", interval)
	m.stopTimer = m.afterFunc(interval, func() {
		m.post(timerFired{gen: gen})
	})
}

func (m *Manager) cancelTimer() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Manager) releaseDial() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("State change", "from", m.state, "to", s)
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}

// readLoop forwards chunks in arrival order until the link ends
func (m *Manager) readLoop(gen uint64, link io.ReadCloser) {
	buf := make([]byte, 4096)
	for {
		n, err := link.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			m.post(chunk{gen: gen, data: data})
		}
		if err != nil {
			m.post(linkClosed{gen: gen, err: err})
			return
		}
	}
}
