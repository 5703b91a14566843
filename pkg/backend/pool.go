package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cirrusvault/cirrus-go/pkg/backendaddr"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/transport"
)

// Pool defaults.
const (
	DefaultPoolCapacity  = 4
	DefaultPoolKeepalive = 30 * time.Second
)

// PoolConfig sizes a Pool.
type PoolConfig struct {
	// Capacity bounds in-use plus idle transports (default: 4).
	Capacity int

	// Keepalive is the ping interval of pooled transports while they are
	// in use (default: 30s, negative disables).
	Keepalive time.Duration
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Idle      int
	InUse     int
	Created   int
	Discarded int
	Closed    bool
}

// Pool keeps authenticated transports for reuse. Idle transports are
// handed out oldest first.
type Pool struct {
	cfg       Config
	addr      backendaddr.Addr
	identity  identity.Material
	capacity  int
	keepalive time.Duration
	logger    *slog.Logger

	gate *semaphore.Weighted

	mu        sync.Mutex
	idle      []*transport.Transport
	inUse     int
	created   int
	discarded int
	closed    bool
}

// NewAuthenticatedPool creates a pool of transports authenticated as
// device. No connection is opened until the first Acquire.
func NewAuthenticatedPool(cfg Config, addr backendaddr.Addr, device identity.DeviceID, key *identity.SigningKey, poolCfg PoolConfig) (*Pool, error) {
	id := identity.Device(device, key)
	if _, err := buildVariant(addr, id); err != nil {
		return nil, newError(KindConfig, "pool", err)
	}

	if poolCfg.Capacity == 0 {
		poolCfg.Capacity = DefaultPoolCapacity
	}
	if poolCfg.Capacity < 0 {
		return nil, newError(KindConfig, "pool", fmt.Errorf("capacity must be positive, got %d", poolCfg.Capacity))
	}
	if poolCfg.Keepalive == 0 {
		poolCfg.Keepalive = DefaultPoolKeepalive
	}

	cfg = cfg.withDefaults()
	return &Pool{
		cfg:       cfg,
		addr:      addr,
		identity:  id,
		capacity:  poolCfg.Capacity,
		keepalive: poolCfg.Keepalive,
		logger:    cfg.Logger.With("device_id", device.String()),
		gate:      semaphore.NewWeighted(int64(poolCfg.Capacity)),
	}, nil
}

// Capacity returns the maximum number of transports.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Acquire runs fn with a transport, reusing the oldest idle one when
// available. The transport goes back to the pool when fn returns nil and
// is closed otherwise. A transport closed by the backend is dropped and
// its error returned unchanged.
func (p *Pool) Acquire(ctx context.Context, fn TransportFunc) error {
	return p.acquire(ctx, false, fn)
}

// AcquireFresh is Acquire with a newly connected transport.
func (p *Pool) AcquireFresh(ctx context.Context, fn TransportFunc) error {
	return p.acquire(ctx, true, fn)
}

func (p *Pool) acquire(ctx context.Context, fresh bool, fn TransportFunc) error {
	if err := p.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.gate.Release(1)

	tr, err := p.take(ctx, fresh)
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			// fn panicked
			p.discard(tr, "panic")
		}
	}()

	err = fn(ctx, tr)
	done = true

	switch {
	case err == nil:
		p.release(tr)
	case errors.Is(err, ErrPeerClosed):
		p.forget(tr)
	default:
		p.discard(tr, "error")
	}
	return err
}

// take pops the oldest idle transport or connects a new one. The caller
// holds a gate permit.
func (p *Pool) take(ctx context.Context, fresh bool) (*transport.Transport, error) {
	p.mu.Lock()
	for !fresh && len(p.idle) > 0 {
		tr := p.idle[0]
		p.idle = p.idle[1:]
		if tr.IsClosed() {
			p.discarded++
			continue
		}
		p.inUse++
		p.mu.Unlock()
		return tr, nil
	}
	if p.closed {
		p.mu.Unlock()
		return nil, newError(KindPoolClosed, "acquire", nil)
	}

	var evicted *transport.Transport
	if len(p.idle) > 0 && len(p.idle)+p.inUse+1 > p.capacity {
		evicted = p.idle[0]
		p.idle = p.idle[1:]
		p.discarded++
	}
	p.inUse++
	p.mu.Unlock()

	if evicted != nil {
		p.logger.Debug("evicting idle transport", "conn_id", evicted.ID())
		evicted.Close()
	}

	tr, err := Connect(ctx, p.cfg, p.addr, p.identity)
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		return nil, err
	}
	if p.keepalive > 0 {
		ka := transport.KeepAliveInterval(p.keepalive)
		tr.SetKeepAlive(ka)
		tr.Logger().Debug("keepalive enabled", "interval", ka.PingInterval, "detection_delay", ka.DetectionDelay())
	}
	tr.Annotate("device_id", p.identity.DeviceID.String())

	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return tr, nil
}

// release returns a healthy transport to the idle tail.
func (p *Pool) release(tr *transport.Transport) {
	p.mu.Lock()
	p.inUse--
	if !p.closed && !tr.IsClosed() {
		p.idle = append(p.idle, tr)
		p.mu.Unlock()
		return
	}
	p.discarded++
	p.mu.Unlock()

	tr.Close()
}

// forget drops a transport after a peer-closed error. The error may come
// from another connection, so tr is closed as well.
func (p *Pool) forget(tr *transport.Transport) {
	p.mu.Lock()
	p.inUse--
	p.discarded++
	p.mu.Unlock()

	tr.Logger().Debug("transport closed by peer, dropped from pool")
	tr.Close()
}

// discard closes a transport after a failed use.
func (p *Pool) discard(tr *transport.Transport, reason string) {
	p.mu.Lock()
	p.inUse--
	p.discarded++
	p.mu.Unlock()

	tr.Logger().Debug("discarding transport", "reason", reason)
	tr.Close()
}

// Close marks the pool closed and closes every idle transport
// concurrently. Transports in use are closed when they come back.
// Close never fails; errors are logged.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.discarded += len(idle)
	p.mu.Unlock()

	var g errgroup.Group
	for _, tr := range idle {
		g.Go(tr.Close)
	}
	if err := g.Wait(); err != nil {
		p.logger.Debug("error closing pooled transport", "error", err)
	}
	p.logger.Debug("pool closed", "closed_transports", len(idle))
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Idle:      len(p.idle),
		InUse:     p.inUse,
		Created:   p.created,
		Discarded: p.discarded,
		Closed:    p.closed,
	}
}
