package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service is a tinyhttps server found on the network.
type Service struct {
	// Instance is the advertised instance name (e.g., "kitchen-panel")
	Instance string

	// Hostname is the mDNS hostname (e.g., "kitchen.local.")
	Hostname string

	// IP is the first IPv4 address, or IPv6 if none
	IP string

	Port int

	// Secure is true when the server advertised _https._tcp
	Secure bool

	// Metadata holds the TXT record, e.g. "version=1.2.0", "ws=/ws"
	Metadata map[string]string

	DiscoveredAt time.Time
}

func (s *Service) String() string {
	return fmt.Sprintf("tinyhttps %q (%s) at %s", s.Instance, s.Hostname, s.BaseURL())
}

// BaseURL returns the http or https base URL of the service.
func (s *Service) BaseURL() string {
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// WebSocketURL returns the ws or wss URL for path.
func (s *Service) WebSocketURL(path string) string {
	scheme := "ws"
	if s.Secure {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(s.IP, strconv.Itoa(s.Port)) + path
}

// GetMetadata returns a TXT value, or "" when absent.
func (s *Service) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
