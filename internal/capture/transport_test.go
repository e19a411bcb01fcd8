package capture

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/saviobatista/nmea-bridge/internal/config"
)

func TestNetDialer_TCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("$A*00\n"))
	}()

	addr := listener.Addr().(*net.TCPAddr)
	settings := config.NMEA{Host: "127.0.0.1", Port: addr.Port, Protocol: config.ProtocolTCP}

	link, err := NewNetDialer(nil).Dial(context.Background(), settings)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer link.Close()

	data, err := io.ReadAll(link)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if string(data) != "$A*00\n" {
		t.Errorf("Expected %q, got %q", "$A*00\n", data)
	}
}

func TestNetDialer_TCPRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	settings := config.NMEA{Host: "127.0.0.1", Port: port, Protocol: config.ProtocolTCP}
	if _, err := NewNetDialer(nil).Dial(context.Background(), settings); err == nil {
		t.Fatal("Expected dial to a closed port to fail")
	} else if errors.Is(err, ErrBind) {
		t.Error("TCP failures must not be reported as bind failures")
	}
}

func TestNetDialer_UDPTerminatesDatagrams(t *testing.T) {
	settings := config.NMEA{Port: 0, Protocol: config.ProtocolUDP}
	link, err := NewNetDialer(nil).Dial(context.Background(), settings)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer link.Close()

	port := link.(*udpLink).LocalAddr().(*net.UDPAddr).Port
	sender, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("Failed to create sender: %v", err)
	}
	defer sender.Close()

	if _, err := sender.Write([]byte("$A*00\r\n$B*00")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	a := NewAssembler()
	var lines []string
	buf := make([]byte, 4)
	deadline := time.Now().Add(2 * time.Second)
	for len(lines) < 2 && time.Now().Before(deadline) {
		n, err := link.Read(buf)
		if err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
		lines = append(lines, a.Feed(buf[:n])...)
	}

	if len(lines) != 2 || lines[0] != "$A*00" || lines[1] != "$B*00" {
		t.Errorf("Expected both sentences, got %q", lines)
	}
}

func TestNetDialer_UDPBindFailure(t *testing.T) {
	busy, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	defer busy.Close()

	settings := config.NMEA{Port: busy.LocalAddr().(*net.UDPAddr).Port, Protocol: config.ProtocolUDP}
	_, err = NewNetDialer(nil).Dial(context.Background(), settings)
	if !errors.Is(err, ErrBind) {
		t.Errorf("Expected ErrBind, got %v", err)
	}
}

func TestNetDialer_SerialMissingDevice(t *testing.T) {
	settings := config.NMEA{Protocol: config.ProtocolSerial, SerialDevice: "/dev/does-not-exist", BaudRate: 4800}
	if _, err := NewNetDialer(nil).Dial(context.Background(), settings); err == nil {
		t.Error("Expected error opening a missing serial device")
	}
}

func TestNetDialer_UnknownProtocol(t *testing.T) {
	if _, err := NewNetDialer(nil).Dial(context.Background(), config.NMEA{Protocol: "sctp"}); err == nil {
		t.Error("Expected error for unknown protocol")
	}
}
