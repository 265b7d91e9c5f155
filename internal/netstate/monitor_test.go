package netstate

import (
	"context"
	"net"
	"testing"
	"time"
)

func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().String()
}

func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestStatus_Online(t *testing.T) {
	m := NewMonitor(Options{ProbeAddress: listen(t), Timeout: time.Second})

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Online || status.Metered {
		t.Errorf("Expected online and unmetered, got %+v", status)
	}
}

func TestStatus_Offline(t *testing.T) {
	m := NewMonitor(Options{ProbeAddress: closedAddress(t), Timeout: time.Second})

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Online {
		t.Errorf("Expected offline, got %+v", status)
	}
}

func TestStatus_Metered(t *testing.T) {
	tests := []struct {
		name    string
		iface   string
		metered bool
	}{
		{"cellular interface", "wwan0", true},
		{"tethered interface", "usb0", true},
		{"wired interface", "eth0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(Options{
				ProbeAddress:      listen(t),
				Timeout:           time.Second,
				MeteredInterfaces: []string{"wwan*", "usb*"},
			})
			m.interfaceForIP = func(ip net.IP) (string, error) { return tt.iface, nil }

			status, err := m.Status(context.Background())
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if status.Metered != tt.metered {
				t.Errorf("Expected metered=%v for %s, got %+v", tt.metered, tt.iface, status)
			}
			if status.Interface != tt.iface {
				t.Errorf("Expected interface %s, got %s", tt.iface, status.Interface)
			}
		})
	}
}

func TestStatus_CancelledContext(t *testing.T) {
	m := NewMonitor(Options{ProbeAddress: listen(t)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Status(ctx); err == nil {
		t.Error("Expected context error")
	}
}
