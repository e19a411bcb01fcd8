package testutils

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/nmea-bridge/internal/config"
)

// PipeDialer hands out in-memory links and records every address dialed.
// The far end of each link is available through NextServer.
type PipeDialer struct {
	mu     sync.Mutex
	dialed []string
	fail   error
	gate   chan struct{}

	servers chan net.Conn
}

// NewPipeDialer creates a dialer whose dials succeed
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{servers: make(chan net.Conn, 16)}
}

// Dial records the address and returns the near end of a net.Pipe
func (d *PipeDialer) Dial(ctx context.Context, s config.NMEA) (io.ReadCloser, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, s.Address())
	fail, gate := d.fail, d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if fail != nil {
		return nil, fail
	}

	client, server := net.Pipe()
	d.servers <- server
	return client, nil
}

// SetFail makes later dials fail with err, or succeed when err is nil
func (d *PipeDialer) SetFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Hold makes later dials wait until the returned release func is called
// or the dial is cancelled
func (d *PipeDialer) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Addresses returns every address dialed so far
func (d *PipeDialer) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

// NextServer returns the far end of the next successful dial
func (d *PipeDialer) NextServer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.servers:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}
