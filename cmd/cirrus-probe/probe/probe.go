// Package probe checks a backend: it connects with the configured identity
// and measures ping round trips over a kept connection or in bursts.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cirrusvault/cirrus-go/pkg/backend"
	"github.com/cirrusvault/cirrus-go/pkg/backendaddr"
	"github.com/cirrusvault/cirrus-go/pkg/connection"
	"github.com/cirrusvault/cirrus-go/pkg/dispatch"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/transport"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("probe closed")

// Options configures a Prober.
type Options struct {
	Backend  backend.Config
	Addr     backendaddr.Addr
	Identity identity.Material
	Retry    connection.RetryConfig

	// Pool sizes the transport pool used by device identities.
	Pool backend.PoolConfig
}

// Result is one ping round trip.
type Result struct {
	Reply  string
	RTT    time.Duration
	ConnID string
}

// Report summarizes a burst of pings.
type Report struct {
	Count    int
	Failed   int
	Min      time.Duration
	Max      time.Duration
	Total    time.Duration
	Errors   map[backend.Kind]int
	Duration time.Duration
}

// Mean returns the average round trip of successful pings.
func (r Report) Mean() time.Duration {
	ok := r.Count - r.Failed
	if ok == 0 {
		return 0
	}
	return r.Total / time.Duration(ok)
}

func (r *Report) add(res Result, err error) {
	r.Count++
	if err != nil {
		r.Failed++
		r.Errors[backend.KindOf(err)]++
		return
	}
	r.Total += res.RTT
	if r.Min == 0 || res.RTT < r.Min {
		r.Min = res.RTT
	}
	r.Max = max(r.Max, res.RTT)
}

// Prober holds at most one kept connection, plus a pool for devices.
type Prober struct {
	opts   Options
	logger *slog.Logger
	pool   *backend.Pool

	mu     sync.Mutex
	tr     *transport.Transport
	closed bool
}

// New validates the options. No connection is opened until needed.
func New(opts Options) (*Prober, error) {
	if err := opts.Addr.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Backend.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Prober{opts: opts, logger: logger}
	if opts.Identity.Kind() == identity.KindDevice {
		pool, err := backend.NewAuthenticatedPool(opts.Backend, opts.Addr, opts.Identity.DeviceID, opts.Identity.SigningKey, opts.Pool)
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}
	return p, nil
}

// Describe returns the target address and identity.
func (p *Prober) Describe() string {
	return fmt.Sprintf("%s as %s", p.opts.Addr, p.opts.Identity.LogValue())
}

// Connect opens the kept connection, replacing any previous one.
func (p *Prober) Connect(ctx context.Context) (*transport.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.tr != nil {
		p.tr.Close()
		p.tr = nil
	}
	return p.connectLocked(ctx)
}

func (p *Prober) connectLocked(ctx context.Context) (*transport.Transport, error) {
	tr, err := backend.ConnectWithRetry(ctx, p.opts.Backend, p.opts.Addr, p.opts.Identity, p.opts.Retry)
	if err != nil {
		return nil, err
	}
	p.tr = tr
	return tr, nil
}

// Ping sends msg over the kept connection, connecting first if needed. A
// connection that fails is dropped so the next Ping reconnects.
func (p *Prober) Ping(ctx context.Context, msg string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Result{}, ErrClosed
	}

	tr := p.tr
	if tr == nil || tr.IsClosed() {
		var err error
		if tr, err = p.connectLocked(ctx); err != nil {
			return Result{}, err
		}
	}

	res, err := ping(ctx, tr, msg)
	if err != nil {
		var derr *dispatch.Error
		if !errors.As(err, &derr) {
			tr.Close()
			p.tr = nil
		}
	}
	return res, err
}

// Burst sends count pings with at most concurrency in flight. Devices
// ping through the pool, other identities open one connection per ping.
func (p *Prober) Burst(ctx context.Context, count, concurrency int) (Report, error) {
	if count <= 0 {
		return Report{}, fmt.Errorf("count must be positive, got %d", count)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return Report{}, ErrClosed
	}

	report := Report{Errors: make(map[backend.Kind]int)}
	var mu sync.Mutex
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range count {
		msg := fmt.Sprintf("burst-%d", i)
		g.Go(func() error {
			res, err := p.burstPing(gctx, msg)
			if err != nil {
				p.logger.Debug("burst ping failed", "msg", msg, "error", err)
			}
			mu.Lock()
			report.add(res, err)
			mu.Unlock()
			// Per-ping failures are counted, not fatal.
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	return report, ctx.Err()
}

func (p *Prober) burstPing(ctx context.Context, msg string) (Result, error) {
	var res Result
	fn := func(ctx context.Context, tr *transport.Transport) error {
		var err error
		res, err = ping(ctx, tr, msg)
		return err
	}

	var err error
	switch p.opts.Identity.Kind() {
	case identity.KindDevice:
		err = p.pool.Acquire(ctx, fn)
	case identity.KindAdministration:
		err = backend.WithAdministrationConnection(ctx, p.opts.Backend, p.opts.Addr, p.opts.Identity.AdministrationToken, fn)
	default:
		err = backend.WithAnonymousConnection(ctx, p.opts.Backend, p.opts.Addr, fn)
	}
	return res, err
}

// PoolStats returns the pool counters. ok is false without a pool.
func (p *Prober) PoolStats() (stats backend.PoolStats, ok bool) {
	if p.pool == nil {
		return backend.PoolStats{}, false
	}
	return p.pool.Stats(), true
}

// Conn returns the kept connection, or nil.
func (p *Prober) Conn() *transport.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tr == nil || p.tr.IsClosed() {
		return nil
	}
	return p.tr
}

// Close closes the kept connection and the pool.
func (p *Prober) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	tr := p.tr
	p.tr = nil
	p.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	if p.pool != nil {
		p.pool.Close()
	}
}

func ping(ctx context.Context, tr *transport.Transport, msg string) (Result, error) {
	start := time.Now()
	reply, err := dispatch.CallPing(ctx, tr, msg)
	if err != nil {
		return Result{}, err
	}
	if reply != msg {
		return Result{}, fmt.Errorf("ping reply mismatch: sent %q, got %q", msg, reply)
	}
	return Result{Reply: reply, RTT: time.Since(start), ConnID: tr.ID()}, nil
}
