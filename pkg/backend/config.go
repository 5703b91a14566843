package backend

import (
	"crypto/tls"
	"log/slog"
	"os"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
	"github.com/cirrusvault/cirrus-go/pkg/transport"
	"github.com/cirrusvault/cirrus-go/pkg/version"
)

// EnvCAFile names the environment variable holding a CA bundle path.
const EnvCAFile = "SSL_CAFILE"

// Config configures how connections to a backend are established.
type Config struct {
	// CAFile is a PEM bundle used to verify the backend certificate.
	// When empty, SSL_CAFILE is consulted, then the system trust store.
	CAFile string

	// TLSConfig replaces the TLS configuration built from CAFile.
	TLSConfig *tls.Config

	// DialTimeout bounds TCP and TLS setup (default: 30s).
	DialTimeout time.Duration

	// MaxMessageSize is the maximum frame size (default: 64KB).
	MaxMessageSize uint32

	// Logger for operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives frame and handshake events (optional).
	ProtocolLogger log.Logger

	// Dialer opens TCP streams (default: net.Dialer).
	Dialer transport.StreamDialer

	// ClientAPIVersion overrides the announced API version.
	ClientAPIVersion string
}

// ConfigFromEnv returns a Config populated from the environment.
func ConfigFromEnv() Config {
	return Config{CAFile: os.Getenv(EnvCAFile)}
}

// withDefaults fills unset fields. An explicit CAFile wins over SSL_CAFILE.
func (c Config) withDefaults() Config {
	if c.CAFile == "" {
		c.CAFile = os.Getenv(EnvCAFile)
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = transport.DefaultDialTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ClientAPIVersion == "" {
		c.ClientAPIVersion = version.Current
	}
	return c
}

func (c Config) dialConfig() transport.DialConfig {
	return transport.DialConfig{
		Dialer:         c.Dialer,
		CAFile:         c.CAFile,
		TLSConfig:      c.TLSConfig,
		Timeout:        c.DialTimeout,
		MaxMessageSize: c.MaxMessageSize,
		Logger:         c.Logger,
		ProtocolLogger: c.ProtocolLogger,
	}
}
