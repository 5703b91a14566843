package connection

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	InitialBackoff    = 200 * time.Millisecond
	MaxBackoff        = 10 * time.Second
	BackoffMultiplier = 2.0

	// JitterFactor is the largest extra delay, as a fraction of the base.
	JitterFactor = 0.25
)

// BackoffConfig shapes the delays between attempts. Zero Initial, Max and
// Multiplier take the package defaults; Jitter is used as given, so zero
// means no jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the package defaults with jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	c.Max = max(c.Max, c.Initial)
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = max(c.Jitter, 0)
	return c
}

// Base returns the delay before retry n (counting from 1) without jitter:
// Initial * Multiplier^(n-1), capped at Max.
func (c BackoffConfig) Base(n int) time.Duration {
	c = c.normalized()
	if n < 1 {
		n = 1
	}
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(n-1))
	if d >= float64(c.Max) || math.IsInf(d, 0) {
		return c.Max
	}
	return time.Duration(d)
}

// Backoff hands out successive delays. It is safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int

	// rnd returns a value in [0, 1).
	rnd func() float64
}

// NewBackoff returns a Backoff using the package defaults.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig returns a Backoff using cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.normalized(), rnd: rand.Float64}
}

// Next returns the next delay, jitter included.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	d := b.cfg.Base(b.attempts)
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * b.rnd())
	}
	return d
}

// Reset starts over from the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Attempts returns how many delays Next handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Sleep waits for d or until ctx ends, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
