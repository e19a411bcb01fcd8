package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol selects the upstream transport
type Protocol string

const (
	ProtocolTCP    Protocol = "tcp"
	ProtocolUDP    Protocol = "udp"
	ProtocolSerial Protocol = "serial"
)

// Defaults for a fresh install talking to a typical WiFi gateway
const (
	DefaultHost                = "192.168.4.1"
	DefaultPort                = 10110
	DefaultProtocol            = ProtocolTCP
	DefaultReconnectIntervalMs = 5000
	DefaultSerialDevice        = "/dev/ttyUSB0"
	DefaultBaudRate            = 4800
	DefaultWebSocketPort       = 8081
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// NMEA holds the upstream link settings
type NMEA struct {
	Host                string   `json:"host" yaml:"host"`
	Port                int      `json:"port" yaml:"port"`
	Protocol            Protocol `json:"protocol" yaml:"protocol"`
	ReconnectIntervalMs int      `json:"reconnectIntervalMs" yaml:"reconnectIntervalMs"`
	SerialDevice        string   `json:"serialDevice,omitempty" yaml:"serialDevice,omitempty"`
	BaudRate            int      `json:"baudRate,omitempty" yaml:"baudRate,omitempty"`
}

// WebSocket holds the push channel settings
type WebSocket struct {
	Port int `json:"port" yaml:"port"`
}

// Config is the persisted document
type Config struct {
	NMEA      NMEA      `json:"nmea" yaml:"nmea"`
	WebSocket WebSocket `json:"websocket" yaml:"websocket"`
}

// Default returns the configuration used when no file exists
func Default() Config {
	return Config{
		NMEA: NMEA{
			Host:                DefaultHost,
			Port:                DefaultPort,
			Protocol:            DefaultProtocol,
			ReconnectIntervalMs: DefaultReconnectIntervalMs,
			SerialDevice:        DefaultSerialDevice,
			BaudRate:            DefaultBaudRate,
		},
		WebSocket: WebSocket{Port: DefaultWebSocketPort},
	}
}

// ReconnectInterval returns the delay between reconnect attempts
func (n NMEA) ReconnectInterval() time.Duration {
	return time.Duration(n.ReconnectIntervalMs) * time.Millisecond
}

// Address returns host:port for network protocols and the device path for serial
func (n NMEA) Address() string {
	if n.Protocol == ProtocolSerial {
		return n.SerialDevice
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Validate checks the link settings
func (n NMEA) Validate() error {
	switch n.Protocol {
	case ProtocolTCP, ProtocolUDP:
	case ProtocolSerial:
		if n.SerialDevice == "" {
			return fmt.Errorf("%w: serialDevice is required for serial protocol", ErrInvalid)
		}
		if n.BaudRate <= 0 {
			return fmt.Errorf("%w: baudRate must be positive, got %d", ErrInvalid, n.BaudRate)
		}
	default:
		return fmt.Errorf("%w: protocol must be tcp, udp or serial, got %q", ErrInvalid, n.Protocol)
	}
	if n.Protocol == ProtocolTCP && strings.TrimSpace(n.Host) == "" {
		return fmt.Errorf("%w: host is required for tcp protocol", ErrInvalid)
	}
	if n.Protocol != ProtocolSerial && (n.Port < 1 || n.Port > 65535) {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalid, n.Port)
	}
	if n.ReconnectIntervalMs <= 0 {
		return fmt.Errorf("%w: reconnectIntervalMs must be positive, got %d", ErrInvalid, n.ReconnectIntervalMs)
	}
	return nil
}

// Validate checks the whole document
func (c Config) Validate() error {
	if err := c.NMEA.Validate(); err != nil {
		return err
	}
	if c.WebSocket.Port < 1 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("%w: websocket port must be between 1 and 65535, got %d", ErrInvalid, c.WebSocket.Port)
	}
	return nil
}

// withDefaults fills zero values left by a partial document
func (c Config) withDefaults() Config {
	d := Default()
	if c.NMEA.Host == "" {
		c.NMEA.Host = d.NMEA.Host
	}
	if c.NMEA.Port == 0 {
		c.NMEA.Port = d.NMEA.Port
	}
	if c.NMEA.Protocol == "" {
		c.NMEA.Protocol = d.NMEA.Protocol
	}
	if c.NMEA.ReconnectIntervalMs == 0 {
		c.NMEA.ReconnectIntervalMs = d.NMEA.ReconnectIntervalMs
	}
	if c.NMEA.SerialDevice == "" {
		c.NMEA.SerialDevice = d.NMEA.SerialDevice
	}
	if c.NMEA.BaudRate == 0 {
		c.NMEA.BaudRate = d.NMEA.BaudRate
	}
	if c.WebSocket.Port == 0 {
		c.WebSocket.Port = d.WebSocket.Port
	}
	return c
}

// Patch is a partial update of the link settings. Nil fields are left alone.
type Patch struct {
	Host                *string   `json:"host,omitempty"`
	Port                *int      `json:"port,omitempty"`
	Protocol            *Protocol `json:"protocol,omitempty"`
	ReconnectIntervalMs *int      `json:"reconnectIntervalMs,omitempty"`
	SerialDevice        *string   `json:"serialDevice,omitempty"`
	BaudRate            *int      `json:"baudRate,omitempty"`
}

// Apply merges the patch into c and validates the result
func (p Patch) Apply(c Config) (Config, error) {
	if p.Host != nil {
		c.NMEA.Host = strings.TrimSpace(*p.Host)
	}
	if p.Port != nil {
		c.NMEA.Port = *p.Port
	}
	if p.Protocol != nil {
		c.NMEA.Protocol = Protocol(strings.ToLower(string(*p.Protocol)))
	}
	if p.ReconnectIntervalMs != nil {
		c.NMEA.ReconnectIntervalMs = *p.ReconnectIntervalMs
	}
	if p.SerialDevice != nil {
		c.NMEA.SerialDevice = *p.SerialDevice
	}
	if p.BaudRate != nil {
		c.NMEA.BaudRate = *p.BaudRate
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
