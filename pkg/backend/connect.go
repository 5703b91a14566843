package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/backendaddr"
	"github.com/cirrusvault/cirrus-go/pkg/connection"
	"github.com/cirrusvault/cirrus-go/pkg/handshake"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/log"
	"github.com/cirrusvault/cirrus-go/pkg/transport"
	"github.com/cirrusvault/cirrus-go/pkg/version"
)

// Connect opens a transport to addr and authenticates it with id.
// On success the transport has completed the handshake. Every error is
// an *Error (see KindOf).
func Connect(ctx context.Context, cfg Config, addr backendaddr.Addr, id identity.Material) (*transport.Transport, error) {
	cfg = cfg.withDefaults()

	variant, err := buildVariant(addr, id)
	if err != nil {
		return nil, newError(KindConfig, "connect", err)
	}
	clientVersion, err := version.Parse(cfg.ClientAPIVersion)
	if err != nil {
		return nil, newError(KindConfig, "connect", err)
	}

	dialCfg := cfg.dialConfig()
	dialCfg.APIVersion = clientVersion
	tr, err := transport.Dial(ctx, dialCfg, addr.Hostname, addr.Port, addr.UseTLS)
	if err != nil {
		if errors.Is(err, transport.ErrALPNMismatch) {
			return nil, newError(KindVersionMismatch, "connect", err)
		}
		cfg.Logger.Debug("backend not available", "host", addr.HostPort(), "error", err)
		return nil, newError(KindNotAvailable, "connect", err)
	}

	h := handshake.New(variant, handshake.WithClientAPIVersion(clientVersion))
	tr.SetHandshake(h)

	if err := h.Run(ctx, tr); err != nil {
		tr.LogError(log.LayerHandshake, err, "handshake")
		tr.Close()
		return nil, classifyHandshake(tr, err)
	}

	tr.Annotate("auth", id.LogValue())
	tr.Logger().Debug("handshake done", "server_api_version", h.ServerAPIVersion())
	return tr, nil
}

// ConnectWithRetry is Connect retried with backoff while the failure is
// retryable.
func ConnectWithRetry(ctx context.Context, cfg Config, addr backendaddr.Addr, id identity.Material, retry connection.RetryConfig) (*transport.Transport, error) {
	if retry.Retryable == nil {
		retry.Retryable = Retryable
	}
	logger := cfg.withDefaults().Logger
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Debug("retrying backend connection", "attempt", attempt, "delay", delay, "error", err)
		}
	}

	var tr *transport.Transport
	err := connection.Retry(ctx, retry, func(ctx context.Context) error {
		var err error
		tr, err = Connect(ctx, cfg, addr, id)
		return err
	})
	if err != nil {
		var bErr *Error
		if !errors.As(err, &bErr) {
			// Cancelled while waiting between attempts.
			err = newError(KindNotAvailable, "connect", err)
		}
		return nil, err
	}
	return tr, nil
}

// buildVariant checks that id can be used against addr and returns the
// matching handshake variant.
func buildVariant(addr backendaddr.Addr, id identity.Material) (handshake.Variant, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	switch id.Kind() {
	case identity.KindAdministration:
		if addr.Mode != backendaddr.ModeServer {
			return nil, fmt.Errorf("invalid address %s: administration requires a server address", addr)
		}
		return &handshake.Administration{Token: id.AdministrationToken}, nil

	case identity.KindDevice:
		if addr.Mode != backendaddr.ModeOrganization {
			return nil, fmt.Errorf("invalid address %s: should be an organization address", addr)
		}
		if id.SigningKey == nil {
			return nil, fmt.Errorf("missing signing key to connect as %s", id.DeviceID)
		}
		return &handshake.Authenticated{
			OrganizationID: addr.OrganizationID,
			DeviceID:       id.DeviceID,
			SigningKey:     id.SigningKey,
			RootVerifyKey:  addr.RootVerifyKey,
		}, nil

	default:
		switch addr.Mode {
		case backendaddr.ModeOrganization, backendaddr.ModeBootstrap:
			return &handshake.Anonymous{
				OrganizationID: addr.OrganizationID,
				RootVerifyKey:  addr.RootVerifyKey,
			}, nil
		default:
			return nil, fmt.Errorf("invalid address %s: should be an organization or bootstrap address", addr)
		}
	}
}

// classifyHandshake maps a handshake failure to a kind and logs it like
// the severity it deserves.
func classifyHandshake(tr *transport.Transport, err error) *Error {
	logger := tr.Logger()

	var vErr *handshake.VersionMismatchError
	switch {
	case handshake.IsTransportError(err):
		logger.Debug("connection lost during handshake", "error", err)
		return newError(KindNotAvailable, "handshake", err)

	case errors.As(err, &vErr):
		logger.Debug("incompatible API version", "server_api_version", vErr.ServerVersion)
		return newError(KindVersionMismatch, "handshake", err)

	case errors.Is(err, handshake.ErrRevokedDevice):
		logger.Warn("handshake failed", "error", err)
		return newError(KindRevokedDevice, "handshake", err)

	default:
		logger.Warn("handshake failed", "error", err)
		return newError(KindHandshake, "handshake", err)
	}
}
