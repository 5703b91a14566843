package backend

import (
	"context"

	"github.com/cirrusvault/cirrus-go/pkg/backendaddr"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/transport"
)

// TransportFunc uses a connected transport.
type TransportFunc func(ctx context.Context, tr *transport.Transport) error

// WithAnonymousConnection connects anonymously to an organization or
// bootstrap address, runs fn, and closes the transport on every exit path.
func WithAnonymousConnection(ctx context.Context, cfg Config, addr backendaddr.Addr, fn TransportFunc) error {
	tr, err := Connect(ctx, cfg, addr, identity.Anonymous())
	if err != nil {
		return err
	}
	defer tr.Close()

	return fn(ctx, tr)
}

// WithAdministrationConnection connects to a server address with an
// administration token, runs fn, and closes the transport on every exit
// path.
func WithAdministrationConnection(ctx context.Context, cfg Config, addr backendaddr.Addr, token string, fn TransportFunc) error {
	tr, err := Connect(ctx, cfg, addr, identity.Administration(token))
	if err != nil {
		return err
	}
	defer tr.Close()

	return fn(ctx, tr)
}

// WithAuthenticatedPool creates a device pool, runs fn, and tears the pool
// down afterwards. Teardown never fails; only errors from pool creation or
// fn are returned.
func WithAuthenticatedPool(ctx context.Context, cfg Config, addr backendaddr.Addr, device identity.DeviceID, key *identity.SigningKey, poolCfg PoolConfig, fn func(ctx context.Context, p *Pool) error) error {
	p, err := NewAuthenticatedPool(cfg, addr, device, key, poolCfg)
	if err != nil {
		return err
	}
	defer p.Close()

	return fn(ctx, p)
}
