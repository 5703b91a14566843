package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/cirrusvault/cirrus-go/pkg/version"
)

// TLS errors.
var (
	// ErrNoCertificates indicates a CA bundle without any usable certificate.
	ErrNoCertificates = errors.New("no certificates found in CA bundle")

	// ErrALPNMismatch means the peer speaks a different API major version,
	// either refusing our ALPN offer or negotiating another protocol.
	ErrALPNMismatch = errors.New("ALPN protocol mismatch")
)

// ClientTLSOptions holds configuration for client TLS connections.
type ClientTLSOptions struct {
	// ServerName is the expected server name (the backend hostname).
	ServerName string

	// CAFile is a PEM bundle of trusted CAs. When empty (and RootCAs is
	// nil) the system trust store is used.
	CAFile string

	// RootCAs overrides CAFile with an in-memory pool.
	RootCAs *x509.CertPool

	// APIVersion selects the offered ALPN protocol (default: version.Current).
	APIVersion version.APIVersion
}

// LoadCAFile reads a PEM bundle into a certificate pool.
func LoadCAFile(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: %s", ErrNoCertificates, path)
	}
	return pool, nil
}

// NewClientTLSConfig creates a TLS configuration for connecting to a backend.
func NewClientTLSConfig(opts ClientTLSOptions) (*tls.Config, error) {
	if opts.ServerName == "" {
		return nil, fmt.Errorf("server name is required")
	}

	rootCAs := opts.RootCAs
	if rootCAs == nil && opts.CAFile != "" {
		pool, err := LoadCAFile(opts.CAFile)
		if err != nil {
			return nil, err
		}
		rootCAs = pool
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,

		// nil means the system trust store
		RootCAs: rootCAs,

		ServerName: opts.ServerName,

		NextProtos: alpnFor(opts.APIVersion),

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}, nil
}

// NewServerTLSConfig creates a TLS configuration for a backend listener.
func NewServerTLSConfig(cert tls.Certificate) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		NextProtos:   version.SupportedALPNProtocols(),
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
	}, nil
}

// alpnFor returns the ALPN offer for v, or for version.Current when v is
// the zero version.
func alpnFor(v version.APIVersion) []string {
	if v == (version.APIVersion{}) {
		return version.SupportedALPNProtocols()
	}
	return version.ALPNProtocols(v)
}

// VerifyALPN checks the negotiated ALPN protocol against the major version
// the client speaks. A peer that does not speak ALPN is accepted.
func VerifyALPN(state tls.ConnectionState, major uint16) error {
	if state.NegotiatedProtocol == "" {
		return nil
	}
	got, err := version.MajorFromALPN(state.NegotiatedProtocol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrALPNMismatch, err)
	}
	if got != major {
		return fmt.Errorf("%w: negotiated %q, want %q", ErrALPNMismatch, state.NegotiatedProtocol, version.ALPNProtocol(major))
	}
	return nil
}

// isNoApplicationProtocol reports whether err is the no_application_protocol
// alert a server sends when none of the offered ALPN ids is acceptable.
// crypto/tls keeps the received alert type unexported, so the alert is
// matched by its text.
func isNoApplicationProtocol(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "remote error" &&
		strings.Contains(opErr.Err.Error(), "no application protocol")
}
