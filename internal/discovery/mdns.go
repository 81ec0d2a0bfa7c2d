// ABOUTME: mDNS discovery for the bridge's demo transport
// ABOUTME: Advertises bridge capability as TXT records and parses them back out when browsing
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/clockmesh/audiobridge/internal/protocol"
	"github.com/hashicorp/mdns"
)

// Config holds discovery configuration for one Manager.
type Config struct {
	ServiceName string
	Port        int
	ServerMode  bool // advertise as _audiobridge-server._tcp instead of _audiobridge._tcp

	// DeviceInfo and BufferCapacityMs are encoded as TXT records so a
	// browsing bridge can pick a source without a round trip through the
	// WebSocket handshake first. Only meaningful for ServerMode.
	DeviceInfo       protocol.DeviceInfo
	BufferCapacityMs int
}

// Manager handles mDNS advertisement and browsing for one bridge instance.
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered source, including the capability TXT
// records it advertised (zero-valued fields mean the peer didn't set them —
// an older or third-party advertiser, say).
type ServerInfo struct {
	Name string
	Host string
	Port int

	Product          string
	Manufacturer     string
	SoftwareVersion  string
	BufferCapacityMs int
}

// NewManager creates a discovery manager bound to config.
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// txtRecords packs this bridge's capability into the key=value strings
// hashicorp/mdns publishes as the service's TXT record.
func txtRecords(info protocol.DeviceInfo, bufferCapacityMs int) []string {
	return []string{
		"path=/audiobridge",
		"product=" + info.ProductName,
		"manufacturer=" + info.Manufacturer,
		"version=" + info.SoftwareVersion,
		"buffer_ms=" + strconv.Itoa(bufferCapacityMs),
	}
}

// parseTXT fills in the capability fields of a ServerInfo from the raw TXT
// strings an entry advertised. Unrecognized or malformed pairs are ignored;
// a peer that doesn't advertise capability TXT records still resolves to a
// usable ServerInfo with just Name/Host/Port set.
func parseTXT(info *ServerInfo, fields []string) {
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "product":
			info.Product = value
		case "manufacturer":
			info.Manufacturer = value
		case "version":
			info.SoftwareVersion = value
		case "buffer_ms":
			if ms, err := strconv.Atoi(value); err == nil {
				info.BufferCapacityMs = ms
			}
		}
	}
}

// Advertise publishes this bridge's service over mDNS until Stop is called.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	serviceType := "_audiobridge._tcp"
	if m.config.ServerMode {
		serviceType = "_audiobridge-server._tcp"
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.DeviceInfo, m.config.BufferCapacityMs),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, serviceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse starts a background loop searching for audiobridge sources.
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop re-issues an mDNS query every time the prior one's timeout
// elapses, until Stop cancels the manager's context.
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				server := &ServerInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}
				parseTXT(server, entry.InfoFields)

				log.Printf("Discovered source: %s at %s:%d (product=%q buffer_ms=%d)",
					server.Name, server.Host, server.Port, server.Product, server.BufferCapacityMs)

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: "_audiobridge-server._tcp",
			Domain:  "local",
			Timeout: 3,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// Servers returns the channel of discovered sources.
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop halts advertisement and browsing.
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns the non-loopback IPv4 addresses of up interfaces, the
// set mDNS advertises the service against.
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
