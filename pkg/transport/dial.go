package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
	"github.com/cirrusvault/cirrus-go/pkg/version"
)

// DefaultDialTimeout bounds connection setup when the context has no deadline.
const DefaultDialTimeout = 30 * time.Second

// StreamDialer opens raw byte streams. *net.Dialer satisfies it.
type StreamDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialConfig configures Dial.
type DialConfig struct {
	// Dialer opens the TCP stream (default: &net.Dialer{}).
	Dialer StreamDialer

	// CAFile is a PEM bundle of trusted CAs for TLS (default: system roots).
	CAFile string

	// TLSConfig, if set, is used instead of building one from CAFile. It is
	// cloned; an empty ServerName becomes the hostname and empty NextProtos
	// become the ALPN offer for APIVersion.
	TLSConfig *tls.Config

	// APIVersion is the client API version, used for ALPN
	// (default: version.Current).
	APIVersion version.APIVersion

	// Timeout bounds dialing and the TLS handshake (default: 30s).
	Timeout time.Duration

	// MaxMessageSize is the maximum frame payload (default: 64KB).
	MaxMessageSize uint32

	// Logger for operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives protocol events (optional).
	ProtocolLogger log.Logger
}

// DialError reports a failure to open a transport.
type DialError struct {
	// Op is the failing step: "dial", "tls" or "alpn".
	Op   string
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Dial opens a transport to hostname:port, upgrading to TLS when useTLS is
// set. The returned transport has the client role and has not run any
// handshake yet.
func Dial(ctx context.Context, cfg DialConfig, hostname string, port uint16, useTLS bool) (*Transport, error) {
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.APIVersion == (version.APIVersion{}) {
		cfg.APIVersion = version.MustParse(version.Current)
	}

	address := net.JoinHostPort(hostname, strconv.Itoa(int(port)))

	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := cfg.Dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &DialError{Op: "dial", Addr: address, Err: err}
	}

	if useTLS {
		tlsConf, err := clientTLSConfig(cfg, hostname)
		if err != nil {
			conn.Close()
			return nil, &DialError{Op: "tls", Addr: address, Err: err}
		}

		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			if isNoApplicationProtocol(err) {
				return nil, &DialError{Op: "alpn", Addr: address, Err: fmt.Errorf("%w: %v", ErrALPNMismatch, err)}
			}
			return nil, &DialError{Op: "tls", Addr: address, Err: err}
		}
		if err := VerifyALPN(tlsConn.ConnectionState(), cfg.APIVersion.Major); err != nil {
			tlsConn.Close()
			return nil, &DialError{Op: "alpn", Addr: address, Err: err}
		}
		conn = tlsConn
	}

	t := New(conn, Options{
		Role:           log.RoleClient,
		MaxMessageSize: cfg.MaxMessageSize,
		Logger:         cfg.Logger.With("host", address),
		ProtocolLogger: cfg.ProtocolLogger,
	})
	t.Logger().Debug("transport opened", "tls", useTLS)
	return t, nil
}

// clientTLSConfig builds the TLS config for hostname, or adapts a copy of
// the caller's one.
func clientTLSConfig(cfg DialConfig, hostname string) (*tls.Config, error) {
	if cfg.TLSConfig == nil {
		return NewClientTLSConfig(ClientTLSOptions{
			ServerName: hostname,
			CAFile:     cfg.CAFile,
			APIVersion: cfg.APIVersion,
		})
	}
	conf := cfg.TLSConfig.Clone()
	if conf.ServerName == "" {
		conf.ServerName = hostname
	}
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = alpnFor(cfg.APIVersion)
	}
	return conf, nil
}
