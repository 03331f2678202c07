package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/tinyhttps/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceTypeHTTP is advertised by plaintext servers
	ServiceTypeHTTP = "_http._tcp"

	// ServiceTypeHTTPS is advertised by TLS servers
	ServiceTypeHTTPS = "_https._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default browse duration
	DefaultScanTimeout = 5 * time.Second

	// serverTag marks TXT records of tinyhttps instances
	serverTag = "server=tinyhttps"
)

// Advertisement describes what a running server announces.
type Advertisement struct {
	Instance string
	Domain   string
	Port     int
	Secure   bool
	// Text holds extra TXT entries in key=value form
	Text []string
}

// Advertiser keeps a service registered until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
	ad     Advertisement
}

// Advertise registers the server on all multicast interfaces.
func Advertise(ad Advertisement) (*Advertiser, error) {
	if ad.Domain == "" {
		ad.Domain = ServiceDomain
	}
	if ad.Port <= 0 {
		return nil, fmt.Errorf("cannot advertise port %d", ad.Port)
	}
	text := append([]string{serverTag}, ad.Text...)

	srv, err := zeroconf.Register(ad.Instance, serviceType(ad.Secure), ad.Domain, ad.Port, text, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Advertising over mDNS",
		zap.String("instance", ad.Instance),
		zap.String("service", serviceType(ad.Secure)),
		zap.Int("port", ad.Port),
	)
	return &Advertiser{server: srv, ad: ad}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
	logging.Debug("mDNS advertisement withdrawn", zap.String("instance", a.ad.Instance))
}

func serviceType(secure bool) string {
	if secure {
		return ServiceTypeHTTPS
	}
	return ServiceTypeHTTP
}

// Scanner browses the network for tinyhttps servers.
type Scanner struct {
	// Timeout is how long to browse
	Timeout time.Duration

	// Domain is the mDNS domain to browse
	Domain string

	// All includes HTTP services that are not tinyhttps instances
	All bool
}

// NewScanner creates a scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		Domain:  ServiceDomain,
	}
}

// Browse collects services on both _http._tcp and _https._tcp until the
// timeout expires or ctx is cancelled.
func (s *Scanner) Browse(ctx context.Context) ([]*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		services []*Service
		seen     = make(map[string]bool)
		wg       sync.WaitGroup
	)

	for _, secure := range []bool{false, true} {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)
		wg.Add(1)
		go func(secure bool) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case entry, ok := <-entries:
					if !ok {
						return
					}
					svc := s.parseServiceEntry(entry, secure)
					if svc == nil {
						continue
					}
					key := svc.Instance + "|" + svc.BaseURL()
					mu.Lock()
					if !seen[key] {
						seen[key] = true
						services = append(services, svc)
					}
					mu.Unlock()
				}
			}
		}(secure)

		if err := resolver.Browse(ctx, serviceType(secure), s.Domain, entries); err != nil {
			return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
		}
	}

	<-ctx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return services, nil
}

// WaitForInstance browses until the named instance answers.
func (s *Scanner) WaitForInstance(ctx context.Context, instance string) (*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Service, 1)
	for _, secure := range []bool{false, true} {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
		}
		entries := make(chan *zeroconf.ServiceEntry)
		go func(secure bool) {
			for {
				select {
				case <-ctx.Done():
					return
				case entry, ok := <-entries:
					if !ok {
						return
					}
					if svc := s.parseServiceEntry(entry, secure); svc != nil && svc.Instance == instance {
						select {
						case found <- svc:
						default:
						}
						cancel()
						return
					}
				}
			}
		}(secure)
		if err := resolver.Browse(ctx, serviceType(secure), s.Domain, entries); err != nil {
			return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
		}
	}

	select {
	case svc := <-found:
		return svc, nil
	case <-ctx.Done():
		select {
		case svc := <-found:
			return svc, nil
		default:
		}
		return nil, fmt.Errorf("instance %q not found within %s", instance, s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf entry, or returns nil when the entry
// has no address or is not a tinyhttps server.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry, secure bool) *Service {
	metadata := make(map[string]string)
	tagged := false
	for _, txt := range entry.Text {
		if txt == serverTag {
			tagged = true
		}
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}
	if !tagged && !s.All {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = 80
		if secure {
			port = 443
		}
	}

	return &Service{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Secure:       secure,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
