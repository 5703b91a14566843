package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirrusvault/cirrus-go/internal/backendtest"
	"github.com/cirrusvault/cirrus-go/pkg/dispatch"
	"github.com/cirrusvault/cirrus-go/pkg/transport"
)

func newPool(t *testing.T, f *fixture, capacity int) *Pool {
	t.Helper()

	p, err := NewAuthenticatedPool(f.cfg, f.orgAddr, testDevice, f.key, PoolConfig{Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// grab acquires a transport and returns its id.
func grab(t *testing.T, p *Pool, fresh bool) string {
	t.Helper()

	acquire := p.Acquire
	if fresh {
		acquire = p.AcquireFresh
	}

	var id string
	err := acquire(testContext(t), func(ctx context.Context, tr *transport.Transport) error {
		id = tr.ID()
		_, err := dispatch.CallPing(ctx, tr, "x")
		return err
	})
	require.NoError(t, err)
	return id
}

func TestPoolReusesFIFO(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 2)

	first := grab(t, p, true)
	second := grab(t, p, true)
	require.NotEqual(t, first, second)

	// Oldest idle first, and a released transport goes to the tail.
	assert.Equal(t, first, grab(t, p, false))
	assert.Equal(t, second, grab(t, p, false))
	assert.Equal(t, first, grab(t, p, false))

	stats := p.Stats()
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, int64(2), f.backend.Stats().Accepted)
}

func TestPoolReusesSingleTransport(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 2)

	first := grab(t, p, false)
	assert.Equal(t, first, grab(t, p, false))
	assert.Equal(t, first, grab(t, p, false))

	stats := p.Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, int64(1), f.backend.Stats().Accepted)
}

func TestPoolCapacityAgainstSlowBackend(t *testing.T) {
	const capacity = 2

	f := newFixture(t, backendtest.WithBehavior(backendtest.Behavior{ChallengeDelay: 30 * time.Millisecond}))
	p := newPool(t, f, capacity)

	var running atomic.Int32
	release := make(chan struct{})
	errs := make(chan error, capacity+1)
	var wg sync.WaitGroup

	for range capacity + 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Acquire(testContext(t), func(ctx context.Context, tr *transport.Transport) error {
				running.Add(1)
				defer running.Add(-1)
				<-release
				_, err := dispatch.CallPing(ctx, tr, "slow")
				return err
			})
		}()
	}

	// Capacity callers hold a transport, the last one waits for a permit.
	require.Eventually(t, func() bool { return p.Stats().InUse == capacity }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return running.Load() == capacity }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(capacity), running.Load())
	assert.Equal(t, capacity, p.Stats().InUse)

	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, f.backend.Stats().Accepted, int64(capacity))

	stats := p.Stats()
	assert.LessOrEqual(t, stats.Idle, capacity)
	assert.Equal(t, 0, stats.InUse)
}

func TestPoolCapacityOneSerializes(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	var inUse atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Acquire(testContext(t), func(ctx context.Context, tr *transport.Transport) error {
				if inUse.Add(1) > 1 {
					overlaps.Add(1)
				}
				defer inUse.Add(-1)
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("acquire failed: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
	assert.Equal(t, 1, p.Stats().Created)
}

func TestPoolDiscardsOnFailure(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 2)
	boom := errors.New("boom")

	var used *transport.Transport
	err := p.Acquire(testContext(t), func(_ context.Context, tr *transport.Transport) error {
		used = tr
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, used.IsClosed())

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 1, stats.Discarded)

	assert.NotEqual(t, used.ID(), grab(t, p, false))
	assert.Equal(t, 2, p.Stats().Created)
}

func TestPoolDiscardsOnPanic(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	var used *transport.Transport
	assert.Panics(t, func() {
		_ = p.Acquire(testContext(t), func(_ context.Context, tr *transport.Transport) error {
			used = tr
			panic("boom")
		})
	})
	assert.True(t, used.IsClosed())
	assert.Equal(t, 0, p.Stats().InUse)

	// The permit came back.
	grab(t, p, false)
}

func TestPoolDiscardsOnCancel(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	ctx, cancel := context.WithCancel(testContext(t))
	var used *transport.Transport
	err := p.Acquire(ctx, func(ctx context.Context, tr *transport.Transport) error {
		used = tr
		cancel()
		_, err := tr.Recv(ctx)
		return err
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, used.IsClosed())
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestPoolPeerClosed(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	first := grab(t, p, false)
	f.backend.DropConnections()

	var used *transport.Transport
	err := p.Acquire(testContext(t), func(ctx context.Context, tr *transport.Transport) error {
		used = tr
		_, err := dispatch.CallPing(ctx, tr, "x")
		return err
	})
	require.ErrorIs(t, err, ErrPeerClosed)
	assert.Equal(t, KindPeerClosed, KindOf(err))
	assert.Equal(t, first, used.ID())
	assert.True(t, used.IsClosed())

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 1, stats.Discarded)

	// The next caller gets a new transport.
	assert.NotEqual(t, first, grab(t, p, false))
}

func TestPoolPeerClosedFromInnerCall(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	// The pooled transport is healthy; the peer-closed error comes from
	// elsewhere inside the callback.
	var used *transport.Transport
	err := p.Acquire(testContext(t), func(ctx context.Context, tr *transport.Transport) error {
		used = tr
		return fmt.Errorf("inner call: %w", transport.ErrClosedByPeer)
	})
	require.ErrorIs(t, err, ErrPeerClosed)
	assert.True(t, used.IsClosed())

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 1, stats.Discarded)

	assert.Eventually(t, func() bool { return f.backend.Stats().Active == 0 }, time.Second, 10*time.Millisecond)
}

func TestPoolAcquireWaitCancelled(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.Acquire(testContext(t), func(context.Context, *transport.Transport) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(testContext(t), 30*time.Millisecond)
	defer cancel()
	err := p.Acquire(ctx, func(context.Context, *transport.Transport) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	// No permit leaked.
	grab(t, p, false)
	assert.Equal(t, 1, p.Stats().Created)
}

func TestPoolAcquireFreshEvicts(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	var first *transport.Transport
	require.NoError(t, p.Acquire(testContext(t), func(_ context.Context, tr *transport.Transport) error {
		first = tr
		return nil
	}))

	second := grab(t, p, true)
	assert.NotEqual(t, first.ID(), second)
	assert.True(t, first.IsClosed())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Discarded)
	assert.Equal(t, 1, stats.Idle)
}

func TestPoolTeardown(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 3)

	var mu sync.Mutex
	var transports []*transport.Transport
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Acquire(testContext(t), func(_ context.Context, tr *transport.Transport) error {
				mu.Lock()
				transports = append(transports, tr)
				mu.Unlock()
				<-start
				return nil
			})
			if err != nil {
				t.Errorf("acquire failed: %v", err)
			}
		}()
	}
	require.Eventually(t, func() bool { return p.Stats().InUse == 3 }, 2*time.Second, 5*time.Millisecond)
	close(start)
	wg.Wait()
	require.Equal(t, 3, p.Stats().Idle)

	p.Close()
	p.Close()

	for _, tr := range transports {
		assert.True(t, tr.IsClosed())
	}
	stats := p.Stats()
	assert.True(t, stats.Closed)
	assert.Equal(t, 0, stats.Idle)

	err := p.Acquire(testContext(t), func(context.Context, *transport.Transport) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, KindPoolClosed, KindOf(err))

	err = p.AcquireFresh(testContext(t), func(context.Context, *transport.Transport) error { return nil })
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolClosedWhileInUse(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)

	var used *transport.Transport
	require.NoError(t, p.Acquire(testContext(t), func(_ context.Context, tr *transport.Transport) error {
		used = tr
		p.Close()
		return nil
	}))

	assert.True(t, used.IsClosed())
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestPoolKeepalive(t *testing.T) {
	f := newFixture(t)

	p, err := NewAuthenticatedPool(f.cfg, f.orgAddr, testDevice, f.key, PoolConfig{Capacity: 1, Keepalive: 5 * time.Second})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Acquire(testContext(t), func(_ context.Context, tr *transport.Transport) error {
		assert.Equal(t, 5*time.Second, tr.KeepAlive().PingInterval)
		assert.Equal(t, 20*time.Second, tr.KeepAlive().DetectionDelay())
		return nil
	}))

	off, err := NewAuthenticatedPool(f.cfg, f.orgAddr, testDevice, f.key, PoolConfig{Keepalive: -1})
	require.NoError(t, err)
	defer off.Close()
	assert.Equal(t, DefaultPoolCapacity, off.Capacity())

	require.NoError(t, off.Acquire(testContext(t), func(_ context.Context, tr *transport.Transport) error {
		assert.False(t, tr.KeepAlive().Enabled())
		return nil
	}))
}

func TestPoolConfigErrors(t *testing.T) {
	f := newFixture(t)

	bootstrapAddr, err := f.backend.BootstrapAddr(testOrg)
	require.NoError(t, err)
	_, err = NewAuthenticatedPool(f.cfg, bootstrapAddr, testDevice, f.key, PoolConfig{})
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewAuthenticatedPool(f.cfg, f.orgAddr, testDevice, nil, PoolConfig{})
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewAuthenticatedPool(f.cfg, f.orgAddr, testDevice, f.key, PoolConfig{Capacity: -2})
	require.ErrorIs(t, err, ErrConfig)
}

func TestPoolConnectFailureKeepsPermit(t *testing.T) {
	f := newFixture(t)
	p := newPool(t, f, 1)
	f.backend.RevokeDevice(testOrg, testDevice)

	for range 2 {
		err := p.Acquire(testContext(t), func(context.Context, *transport.Transport) error { return nil })
		require.ErrorIs(t, err, ErrRevokedDevice)
	}
	stats := p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 0, stats.Created)
}

func TestWithAuthenticatedPool(t *testing.T) {
	f := newFixture(t)

	var pool *Pool
	var used *transport.Transport
	err := WithAuthenticatedPool(testContext(t), f.cfg, f.orgAddr, testDevice, f.key, PoolConfig{Capacity: 2}, func(ctx context.Context, p *Pool) error {
		pool = p
		return p.Acquire(ctx, func(ctx context.Context, tr *transport.Transport) error {
			used = tr
			_, err := dispatch.CallPing(ctx, tr, "x")
			return err
		})
	})
	require.NoError(t, err)

	assert.True(t, pool.Stats().Closed)
	assert.True(t, used.IsClosed())

	boom := errors.New("boom")
	err = WithAuthenticatedPool(testContext(t), f.cfg, f.orgAddr, testDevice, f.key, PoolConfig{}, func(context.Context, *Pool) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}
