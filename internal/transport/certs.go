package transport

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertificateError represents a certificate-related error (loading,
// generating, writing).
type CertificateError struct {
	// Operation describes what certificate operation failed
	Operation string
	// Path is the certificate file path (if applicable)
	Path string
	// Underlying error
	Err error
}

func (e *CertificateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("certificate error during %s (file: %s): %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("certificate error during %s: %v", e.Operation, e.Err)
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}

// CertParams holds parameters for generating a self-signed server
// certificate.
type CertParams struct {
	// CommonName is the CN field
	CommonName string
	// Organization is the O field
	Organization string
	// Hosts become DNS or IP Subject Alternative Names
	Hosts []string
	// ValidDays is certificate validity in days
	ValidDays int
	// RSA selects a 2048-bit RSA key instead of ECDSA P-256. The legacy TLS
	// profile only offers RSA key exchange and needs it.
	RSA bool
}

// DefaultCertParams returns parameters for a local development certificate.
func DefaultCertParams() CertParams {
	return CertParams{
		CommonName:   "tinyhttps.local",
		Organization: "tinyhttps",
		Hosts:        []string{"localhost", "127.0.0.1", "::1", "tinyhttps.local"},
		ValidDays:    365,
	}
}

// ServerCert represents a generated server certificate.
type ServerCert struct {
	// CertPEM is the certificate in PEM format
	CertPEM []byte
	// KeyPEM is the private key in PEM format
	KeyPEM []byte
	// Certificate is the parsed x509 certificate
	Certificate *x509.Certificate
}

// GenerateSelfSigned creates a self-signed server certificate with
// key usage digitalSignature (plus keyEncipherment for RSA) and extended key
// usage serverAuth.
func GenerateSelfSigned(params CertParams) (*ServerCert, error) {
	if params.ValidDays <= 0 {
		params.ValidDays = DefaultCertParams().ValidDays
	}

	var (
		signer  crypto.Signer
		keyPEM  []byte
		keyUse  = x509.KeyUsageDigitalSignature
		sigAlgo x509.SignatureAlgorithm
	)
	if params.RSA {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, &CertificateError{Operation: "generate_key", Err: err}
		}
		signer = key
		keyUse |= x509.KeyUsageKeyEncipherment
		sigAlgo = x509.SHA256WithRSA
		keyPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
	} else {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, &CertificateError{Operation: "generate_key", Err: err}
		}
		signer = key
		sigAlgo = x509.ECDSAWithSHA256
		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return nil, &CertificateError{Operation: "encode_key", Err: err}
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &CertificateError{Operation: "generate_serial", Err: err}
	}

	notBefore := time.Now().Add(-time.Hour)
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{params.Organization},
			CommonName:   params.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, params.ValidDays),
		KeyUsage:              keyUse,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		SignatureAlgorithm:    sigAlgo,
		BasicConstraintsValid: true,
	}
	for _, h := range params.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, signer.Public(), signer)
	if err != nil {
		return nil, &CertificateError{Operation: "create_certificate", Err: err}
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, &CertificateError{Operation: "parse_certificate", Err: err}
	}

	return &ServerCert{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:      keyPEM,
		Certificate: cert,
	}, nil
}

// TLSCertificate converts the generated pair for use in a tls.Config.
func (c *ServerCert) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(c.CertPEM, c.KeyPEM)
}

// WriteFiles stores the certificate and key as PEM files. The key file is
// only readable by the owner.
func (c *ServerCert) WriteFiles(certPath, keyPath string) error {
	for _, p := range []string{certPath, keyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return &CertificateError{Operation: "write", Path: p, Err: err}
		}
	}
	if err := os.WriteFile(certPath, c.CertPEM, 0644); err != nil {
		return &CertificateError{Operation: "write", Path: certPath, Err: err}
	}
	if err := os.WriteFile(keyPath, c.KeyPEM, 0600); err != nil {
		return &CertificateError{Operation: "write", Path: keyPath, Err: err}
	}
	return nil
}
