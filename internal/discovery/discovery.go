// Package discovery provides optional mDNS/Bonjour discovery of control
// servers on the local network.
//
// A control server advertises itself under _devbridge._tcp; an agent
// started with --discover browses for that service instead of requiring
// a configured endpoint. Discovery is opt-in on both sides.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type for devbridge control servers.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_devbridge._tcp"

// ProtocolVersion identifies the advertisement format for compatibility.
const ProtocolVersion = "1"

// AdvertiseConfig holds configuration for service advertisement.
type AdvertiseConfig struct {
	// Port is the WebSocket server port to advertise.
	Port int

	// Path is the WebSocket endpoint path (e.g. "/bridge").
	Path string

	// Name is a human-readable name for this server.
	// Defaults to the system hostname if empty.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration for a control
// server.
type Advertiser struct {
	config AdvertiseConfig
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser with the given configuration.
func NewAdvertiser(cfg AdvertiseConfig) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start begins advertising the service via mDNS. Safe to call multiple
// times; subsequent calls are no-ops if already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "devbridge"
		} else {
			name = hostname
		}
	}

	// TXT records give agents enough to build the endpoint URL before
	// dialing: the advertisement format version and the WebSocket path.
	txtRecords := []string{
		fmt.Sprintf("version=%s", ProtocolVersion),
		fmt.Sprintf("name=%s", name),
	}
	if a.config.Path != "" {
		txtRecords = append(txtRecords, fmt.Sprintf("path=%s", a.config.Path))
	}

	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		txtRecords,
		nil, // all network interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop stops the advertisement and unregisters the service. Safe to
// call multiple times or on an advertiser that was never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the advertiser is currently registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Server is a control server found via mDNS discovery.
type Server struct {
	// Name is the human-readable name of the server.
	Name string

	// Host is the IP address or hostname.
	Host string

	// Port is the WebSocket server port.
	Port int

	// Path is the WebSocket endpoint path.
	Path string

	// Version is the advertisement format version.
	Version string
}

// Endpoint builds the WebSocket URL for the discovered server.
func (s Server) Endpoint() string {
	path := s.Path
	if path == "" {
		path = "/bridge"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("ws://%s:%d%s", s.Host, s.Port, path)
}

// Discover browses the local network for control servers until ctx is
// done and returns everything found.
func Discover(ctx context.Context) ([]Server, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		servers []Server
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			server := Server{
				Name: entry.Instance,
				Port: entry.Port,
			}

			// Prefer IPv4 address
			if len(entry.AddrIPv4) > 0 {
				server.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				server.Host = entry.AddrIPv6[0].String()
			}

			for _, txt := range entry.Text {
				switch {
				case strings.HasPrefix(txt, "version="):
					server.Version = strings.TrimPrefix(txt, "version=")
				case strings.HasPrefix(txt, "name="):
					server.Name = strings.TrimPrefix(txt, "name=")
				case strings.HasPrefix(txt, "path="):
					server.Path = strings.TrimPrefix(txt, "path=")
				}
			}

			mu.Lock()
			servers = append(servers, server)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// The zeroconf library closes the entries channel when the context
	// is done; wait for the collector to drain it.
	<-ctx.Done()
	wg.Wait()

	return servers, nil
}
