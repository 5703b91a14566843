package transport

import (
	"sync"
	"time"
)

const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig controls pings on an otherwise idle transport. A zero
// PingInterval disables them.
type KeepAliveConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// KeepAliveInterval returns the defaults with the given ping interval. The
// pong timeout never exceeds the interval.
func KeepAliveInterval(interval time.Duration) KeepAliveConfig {
	cfg := DefaultKeepAliveConfig()
	cfg.PingInterval = interval
	if interval > 0 {
		cfg.PongTimeout = min(cfg.PongTimeout, interval)
	}
	return cfg
}

func (c KeepAliveConfig) Enabled() bool { return c.PingInterval > 0 }

// DetectionDelay is the longest a dead peer can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return time.Duration(c.MaxMissedPongs)*c.PingInterval + c.PongTimeout
}

// KeepAliveStats is a snapshot of a transport's keep-alive state.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	MissedPongs  int
	CurrentSeq   uint32
}

// keepAlive is driven by the receive loop: it supplies read deadlines and
// is told about timeouts, pongs and other traffic.
type keepAlive struct {
	config KeepAliveConfig

	mu sync.Mutex
	st KeepAliveStats
	// pending is the unanswered ping sequence, 0 when none is out.
	pending uint32
}

func newKeepAlive(config KeepAliveConfig) *keepAlive {
	if config.PongTimeout <= 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs <= 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return &keepAlive{config: config}
}

func (ka *keepAlive) deadline(now time.Time) time.Time {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.pending != 0 {
		return ka.st.LastPingTime.Add(ka.config.PongTimeout)
	}
	return now.Add(ka.config.PingInterval)
}

// expired is called when a read deadline passed in silence. It returns the
// sequence of the next ping, or false once MaxMissedPongs pings went
// unanswered.
func (ka *keepAlive) expired(now time.Time) (uint32, bool) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.pending != 0 {
		ka.pending = 0
		ka.st.MissedPongs++
		if ka.st.MissedPongs >= ka.config.MaxMissedPongs {
			return 0, false
		}
	}
	ka.st.CurrentSeq++
	if ka.st.CurrentSeq == 0 {
		ka.st.CurrentSeq = 1
	}
	ka.pending = ka.st.CurrentSeq
	ka.st.LastPingTime = now
	return ka.pending, true
}

// pongReceived clears the outstanding ping if seq matches it.
func (ka *keepAlive) pongReceived(seq uint32, now time.Time) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.st.LastPongTime = now
	if ka.pending != 0 && ka.pending == seq {
		ka.pending = 0
		ka.st.MissedPongs = 0
	}
}

// activity records inbound traffic other than pongs.
func (ka *keepAlive) activity() {
	ka.mu.Lock()
	ka.st.MissedPongs = 0
	ka.mu.Unlock()
}

func (ka *keepAlive) stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.st
}
