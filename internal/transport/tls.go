package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/muurk/tinyhttps/internal/logging"
	"go.uber.org/zap"
)

// Profile selects the TLS parameters offered to clients.
type Profile string

const (
	// ProfileModern is TLS 1.2 and 1.3 with Go's default cipher suites.
	ProfileModern Profile = "modern"
	// ProfileLegacy is TLS 1.2 only with RSA key exchange suites, for
	// embedded clients such as the TI CC3200 that support nothing newer.
	ProfileLegacy Profile = "legacy"
)

// ParseProfile validates a profile name; "" means modern.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case "", ProfileModern:
		return ProfileModern, nil
	case ProfileLegacy:
		return ProfileLegacy, nil
	}
	return "", fmt.Errorf("unknown TLS profile %q (use modern or legacy)", s)
}

var legacyCipherSuites = []uint16{
	0x003C, // TLS_RSA_WITH_AES_128_CBC_SHA256
	0x003D, // TLS_RSA_WITH_AES_256_CBC_SHA256
	0x002F, // TLS_RSA_WITH_AES_128_CBC_SHA
	0x0035, // TLS_RSA_WITH_AES_256_CBC_SHA
	0x000A, // TLS_RSA_WITH_3DES_EDE_CBC_SHA
}

// NewTLSConfig loads a certificate and key from PEM files.
func NewTLSConfig(certPath, keyPath string, profile Profile) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &CertificateError{Operation: "load", Path: certPath, Err: err}
	}

	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
		zap.String("profile", string(profile)),
	)

	return buildTLSConfig(cert, profile), nil
}

// NewTLSConfigFromMemory builds a configuration from PEM-encoded material,
// typically a freshly generated self-signed certificate.
func NewTLSConfigFromMemory(certPEM, keyPEM []byte, profile Profile) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &CertificateError{Operation: "load", Err: err}
	}

	logging.Info("TLS configuration created from in-memory certificate",
		zap.String("source", "generated"),
		zap.String("profile", string(profile)),
	)

	return buildTLSConfig(cert, profile), nil
}

func buildTLSConfig(cert tls.Certificate, profile Profile) *tls.Config {
	config := &tls.Config{
		Certificates:           []tls.Certificate{cert},
		MinVersion:             tls.VersionTLS12,
		SessionTicketsDisabled: false,
	}
	if profile == ProfileLegacy {
		config.MaxVersion = tls.VersionTLS12
		config.CipherSuites = legacyCipherSuites
	}
	return config
}

// TLSInfo returns human-readable TLS configuration information
func TLSInfo(config *tls.Config) map[string]interface{} {
	suites := "go defaults"
	if len(config.CipherSuites) > 0 {
		names := make([]string, len(config.CipherSuites))
		for i, id := range config.CipherSuites {
			names[i] = tls.CipherSuiteName(id)
		}
		suites = fmt.Sprint(names)
	}
	maxVersion := "TLS 1.3"
	if config.MaxVersion == tls.VersionTLS12 {
		maxVersion = "TLS 1.2"
	}
	return map[string]interface{}{
		"min_version":     "TLS 1.2",
		"max_version":     maxVersion,
		"cipher_suites":   suites,
		"num_certs":       len(config.Certificates),
		"session_tickets": !config.SessionTicketsDisabled,
	}
}

// TLSFactory wraps accepted connections in server-side TLS. The handshake
// runs on the stream's reader goroutine, so TryRead simply reports
// ErrWouldBlock until it completes.
type TLSFactory struct {
	Config  *tls.Config
	Options Options
}

// NewTLSFactory creates a factory for encrypted streams.
func NewTLSFactory(config *tls.Config, opts Options) *TLSFactory {
	return &TLSFactory{Config: config, Options: opts}
}

func (f *TLSFactory) Wrap(conn net.Conn, wake func()) Stream {
	tlsConn := tls.Server(conn, f.Config)
	s := newConnStream(tlsConn, true, f.Options, wake)
	go func() {
		if err := s.handshake(tlsConn); err != nil {
			s.in.fail(err)
			return
		}
		s.pump(tlsConn)
	}()
	return s
}

func (f *TLSFactory) Secure() bool { return true }

func (s *connStream) handshake(c *tls.Conn) error {
	if err := c.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		return err
	}
	if err := c.Handshake(); err != nil {
		logging.Warn("TLS handshake failed",
			zap.String("remote_addr", s.remote),
			zap.Error(err),
		)
		return fmt.Errorf("tls handshake: %w", err)
	}
	if err := c.SetDeadline(time.Time{}); err != nil {
		return err
	}
	state := c.ConnectionState()
	logging.LogTLSHandshake(s.remote, state.Version, state.CipherSuite, state.ServerName)
	return nil
}
