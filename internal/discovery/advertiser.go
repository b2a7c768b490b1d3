package discovery

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

const (
	// maxInstanceNameLen is the DNS label limit.
	maxInstanceNameLen = 63

	// maxTXTLen is the limit for a single TXT string.
	maxTXTLen = 255
)

// ErrInvalidPort is returned when the advertised port is outside 1..65535.
var ErrInvalidPort = errors.New("discovery: invalid port")

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// server is the part of *zeroconf.Server the advertiser needs.
type server interface {
	Shutdown()
}

// registerFunc matches zeroconf.Register without server options.
type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertiser publishes one mDNS service record for the device.
//
// Thread Safety: Start and Stop may be called from any goroutine.
type Advertiser struct {
	cfg      config.DiscoveryConfig
	register registerFunc
	logger   Logger

	mu     sync.Mutex
	server server
}

// NewAdvertiser creates an advertiser for cfg. Nothing is sent until Start.
func NewAdvertiser(cfg config.DiscoveryConfig) *Advertiser {
	return &Advertiser{cfg: cfg, register: zeroconfRegister}
}

// SetLogger sets the logger.
func (a *Advertiser) SetLogger(logger Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger = logger
}

// Start advertises id on port. A running advertisement is replaced.
func (a *Advertiser) Start(id device.Identity, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	ifaces, err := interfaces(a.cfg.Interface)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	srv, err := a.register(instanceName(id.ID), a.cfg.Service, a.cfg.Domain, port, TXTRecords(id), ifaces)
	if err != nil {
		return fmt.Errorf("registering mdns service: %w", err)
	}
	a.server = srv

	if a.logger != nil {
		a.logger.Info("mdns advertisement started",
			"service", a.cfg.Service,
			"instance", instanceName(id.ID),
			"port", port,
		)
	}
	return nil
}

// Stop withdraws the advertisement. Safe to call when not started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// Running reports whether an advertisement is active.
func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// TXTRecords builds the key=value TXT strings for id.
func TXTRecords(id device.Identity) []string {
	txt := []string{
		"id=" + id.ID,
		"type=" + id.Type,
		"prefix=" + id.Prefix(),
	}
	if len(id.Actions) > 0 {
		txt = append(txt, truncate("actions="+strings.Join(id.Actions, ","), maxTXTLen))
	}
	if len(id.Sensors) > 0 {
		txt = append(txt, truncate("sensors="+strings.Join(id.Sensors, ","), maxTXTLen))
	}
	return txt
}

func instanceName(deviceID string) string {
	return truncate(deviceID, maxInstanceNameLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// interfaces resolves a configured interface name. Empty means all interfaces (nil).
func interfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("discovery interface %q: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}
