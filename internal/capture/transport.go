package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"github.com/saviobatista/nmea-bridge/internal/config"
)

// ErrBind marks a UDP listener that could not bind its port. The manager
// does not retry it on its own.
var ErrBind = errors.New("bind failed")

// Dialer opens one upstream link
type Dialer interface {
	Dial(ctx context.Context, settings config.NMEA) (io.ReadCloser, error)
}

// NetDialer opens TCP, UDP and serial links
type NetDialer struct {
	Timeout         time.Duration
	KeepAlivePeriod time.Duration
	Logger          *slog.Logger
}

// NewNetDialer creates a dialer with a 5 second connect timeout
func NewNetDialer(logger *slog.Logger) *NetDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetDialer{
		Timeout:         5 * time.Second,
		KeepAlivePeriod: 2 * time.Second,
		Logger:          logger.With("component", "transport"),
	}
}

// Dial opens the link described by settings
func (d *NetDialer) Dial(ctx context.Context, settings config.NMEA) (io.ReadCloser, error) {
	switch settings.Protocol {
	case config.ProtocolTCP:
		return d.dialTCP(ctx, settings)
	case config.ProtocolUDP:
		return d.listenUDP(settings)
	case config.ProtocolSerial:
		return d.openSerial(settings)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", settings.Protocol)
	}
}

func (d *NetDialer) dialTCP(ctx context.Context, settings config.NMEA) (io.ReadCloser, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", settings.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", settings.Address(), err)
	}
	d.configureTCPKeepalive(conn, settings.Address())
	return conn, nil
}

// configureTCPKeepalive configures TCP keepalive settings
func (d *NetDialer) configureTCPKeepalive(conn net.Conn, source string) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		d.Logger.Warn("Failed to set keepalive", "source", source, "error", err)
	}
	if err := tcpConn.SetKeepAlivePeriod(d.KeepAlivePeriod); err != nil {
		d.Logger.Warn("Failed to set keepalive period", "source", source, "error", err)
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		d.Logger.Warn("Failed to set no delay", "source", source, "error", err)
	}
}

func (d *NetDialer) listenUDP(settings config.NMEA) (io.ReadCloser, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("", strconv.Itoa(settings.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: udp port %d: %v", ErrBind, settings.Port, err)
	}
	return &udpLink{conn: conn}, nil
}

func (d *NetDialer) openSerial(settings config.NMEA) (io.ReadCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        settings.SerialDevice,
		BaudRate:        uint(settings.BaudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", settings.SerialDevice, err)
	}
	return port, nil
}

// udpLink turns datagrams into a line stream. Each datagram carries one or
// more whole sentences, so it is terminated with a newline.
type udpLink struct {
	conn    *net.UDPConn
	buf     []byte
	pending []byte
}

func (l *udpLink) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		if l.buf == nil {
			l.buf = make([]byte, 64*1024)
		}
		n, _, err := l.conn.ReadFromUDP(l.buf)
		if err != nil {
			return 0, err
		}
		l.pending = append(l.buf[:n], '\n')
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *udpLink) Close() error {
	return l.conn.Close()
}

// LocalAddr returns the bound address
func (l *udpLink) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}
