package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
)

// DefaultTLSHandshakeTimeout bounds the server side TLS handshake.
const DefaultTLSHandshakeTimeout = 10 * time.Second

// ErrServerRunning is returned by Start on a server that is already
// listening.
var ErrServerRunning = errors.New("server already running")

// Handler serves one accepted transport. The server closes the transport
// when the handler returns.
type Handler func(ctx context.Context, t *Transport)

// ServerConfig configures a backend listener.
type ServerConfig struct {
	// Address defaults to "127.0.0.1:0".
	Address string

	// TLSConfig enables TLS; nil serves plain TCP.
	TLSConfig           *tls.Config
	TLSHandshakeTimeout time.Duration

	MaxMessageSize uint32
	Logger         *slog.Logger
	ProtocolLogger log.Logger

	Handler Handler

	// OnError receives accept and TLS failures. They are logged at debug
	// level when it is nil.
	OnError func(err error)
}

// Server accepts connections and hands backend-role transports to a
// handler, one goroutine per connection.
type Server struct {
	cfg ServerConfig

	ln       net.Listener
	stop     context.CancelFunc
	running  atomic.Bool
	accepted atomic.Int64
	wg       sync.WaitGroup

	mu   sync.Mutex
	live map[*Transport]struct{}
}

// NewServer validates cfg and fills in defaults.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("transport: server needs a handler")
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, live: make(map[*Transport]struct{})}, nil
}

// Start listens and accepts in the background until ctx ends or Stop is
// called.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.ln = ln

	ctx, s.stop = context.WithCancel(ctx)
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	s.wg.Add(1)
	go s.accept(ctx)
	return nil
}

// Stop closes the listener and every live transport, then waits for the
// handlers to return.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.stop()
	_ = s.ln.Close()

	s.mu.Lock()
	for t := range s.live {
		_ = t.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ConnectionCount returns the number of transports being served.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// AcceptedCount returns the number of connections accepted since Start.
func (s *Server) AcceptedCount() int64 {
	return s.accepted.Load()
}

func (s *Server) accept(ctx context.Context) {
	defer s.wg.Done()

	var pause time.Duration
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.reportError(fmt.Errorf("accept: %w", err))
			// Back off on repeated failures such as EMFILE.
			pause = min(max(2*pause, 5*time.Millisecond), time.Second)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pause):
			}
			continue
		}
		pause = 0

		s.accepted.Add(1)
		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	if s.cfg.TLSConfig != nil {
		tc := tls.Server(conn, s.cfg.TLSConfig)
		hctx, cancel := context.WithTimeout(ctx, s.cfg.TLSHandshakeTimeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			_ = conn.Close()
			s.reportError(fmt.Errorf("tls handshake with %s: %w", conn.RemoteAddr(), err))
			return
		}
		conn = tc
	}

	t := New(conn, Options{
		Role:           log.RoleBackend,
		MaxMessageSize: s.cfg.MaxMessageSize,
		Logger:         s.cfg.Logger.With("remote", conn.RemoteAddr().String()),
		ProtocolLogger: s.cfg.ProtocolLogger,
	})
	defer t.Close()

	if !s.track(t) {
		return
	}
	defer s.untrack(t)

	s.cfg.Handler(ctx, t)
}

// track registers t unless the server is stopping.
func (s *Server) track(t *Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.live[t] = struct{}{}
	return true
}

func (s *Server) untrack(t *Transport) {
	s.mu.Lock()
	delete(s.live, t)
	s.mu.Unlock()
}

func (s *Server) reportError(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
		return
	}
	s.cfg.Logger.Debug("server error", "error", err)
}
