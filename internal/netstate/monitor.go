// Package netstate answers the two network questions asked before a sync
// run: is the API reachable, and is the route to it metered.
package netstate

import (
	"context"
	"net"
	"path/filepath"
	"time"

	"github.com/dl-alexandre/drivesync/internal/logging"
)

// Status is a point-in-time view of connectivity.
type Status struct {
	Online    bool   `json:"online"`
	Metered   bool   `json:"metered"`
	Interface string `json:"interface,omitempty"`
}

// Options configures a Monitor.
type Options struct {
	ProbeAddress string
	Timeout      time.Duration
	// MeteredInterfaces are glob patterns (e.g. "wwan*") naming interfaces
	// whose traffic counts as metered.
	MeteredInterfaces []string
	Logger            logging.Logger
}

// Monitor probes connectivity by dialing the API host.
type Monitor struct {
	probeAddress string
	timeout      time.Duration
	metered      []string
	logger       logging.Logger

	dial           func(ctx context.Context, network, address string) (net.Conn, error)
	interfaceForIP func(ip net.IP) (string, error)
}

// NewMonitor creates a monitor
func NewMonitor(opts Options) *Monitor {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	dialer := &net.Dialer{}
	return &Monitor{
		probeAddress:   opts.ProbeAddress,
		timeout:        opts.Timeout,
		metered:        opts.MeteredInterfaces,
		logger:         opts.Logger,
		dial:           dialer.DialContext,
		interfaceForIP: interfaceForIP,
	}
}

// Status dials the probe address. A failed dial means offline, not an error.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(dialCtx, "tcp", m.probeAddress)
	if err != nil {
		if ctx.Err() != nil {
			return Status{}, ctx.Err()
		}
		m.logger.Debug("Network probe failed",
			logging.F("address", m.probeAddress),
			logging.F("error", err.Error()),
		)
		return Status{Online: false}, nil
	}
	defer conn.Close()

	status := Status{Online: true}
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok || len(m.metered) == 0 {
		return status, nil
	}

	name, err := m.interfaceForIP(addr.IP)
	if err != nil {
		m.logger.Debug("Could not resolve outbound interface", logging.F("error", err.Error()))
		return status, nil
	}
	status.Interface = name
	status.Metered = m.isMetered(name)
	return status, nil
}

func (m *Monitor) isMetered(name string) bool {
	for _, pattern := range m.metered {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func interfaceForIP(ip net.IP) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return iface.Name, nil
			}
		}
	}
	return "", &net.AddrError{Err: "no interface carries address", Addr: ip.String()}
}
