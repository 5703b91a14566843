package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cirrusvault/cirrus-go/pkg/log"
	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// ConnectionState is the lifecycle state of a Transport.
type ConnectionState int

const (
	// StateConnected indicates an open transport.
	StateConnected ConnectionState = iota

	// StateClosing indicates a local close in progress.
	StateClosing

	// StateDisconnected indicates the stream is closed.
	StateDisconnected
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Transport errors.
var (
	// ErrConnectionClosed is returned when using a transport after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrClosedByPeer is returned by Recv when the remote end closed the
	// stream. The transport is already closed when it is returned.
	ErrClosedByPeer = errors.New("transport closed by peer")

	// ErrKeepAliveTimeout is returned by Recv when the peer stopped
	// answering pings.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// closeWriteTimeout bounds the best-effort close frame sent by Close.
const closeWriteTimeout = 250 * time.Millisecond

// aLongTimeAgo is a deadline in the past, used to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// HandshakeInfo describes the handshake bound to a transport.
type HandshakeInfo interface {
	// Accepted reports whether the backend accepted the handshake.
	Accepted() bool

	// Describe returns a short identity label for logs.
	Describe() string
}

// Options configures a Transport created with New.
type Options struct {
	// Role of the local end (client or backend).
	Role log.Role

	// MaxMessageSize is the maximum frame payload (default: 64KB).
	MaxMessageSize uint32

	// Logger for operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives frame and control events (optional).
	ProtocolLogger log.Logger
}

// Transport is a framed, bidirectional message stream to a single peer.
// A Transport has a single owner at a time: Send and Recv may be called
// concurrently with each other, but not with themselves.
type Transport struct {
	conn     net.Conn
	framer   *Framer
	id       string
	role     log.Role
	protoLog log.Logger

	logger atomic.Pointer[slog.Logger]

	ka atomic.Pointer[keepAlive]

	hsMu      sync.Mutex
	handshake HandshakeInfo

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// New wraps an established stream. The transport takes ownership of conn.
func New(conn net.Conn, opts Options) *Transport {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.New().String()
	framer := NewFramerWithMaxSize(conn, opts.MaxMessageSize)
	if opts.ProtocolLogger != nil {
		framer.SetLogger(opts.ProtocolLogger, id, opts.Role)
	}

	t := &Transport{
		conn:     conn,
		framer:   framer,
		id:       id,
		role:     opts.Role,
		protoLog: opts.ProtocolLogger,
	}
	t.logger.Store(opts.Logger.With("conn_id", id))
	t.state.Store(int32(StateConnected))
	t.logState(StateDisconnected, StateConnected, "")
	return t
}

// ID returns the unique connection identifier.
func (t *Transport) ID() string {
	return t.id
}

// Role returns the local role.
func (t *Transport) Role() log.Role {
	return t.role
}

// Logger returns the transport's contextual logger.
func (t *Transport) Logger() *slog.Logger {
	return t.logger.Load()
}

// Annotate adds attributes to the transport's logger.
func (t *Transport) Annotate(args ...any) {
	t.logger.Store(t.logger.Load().With(args...))
}

// RemoteAddr returns the remote network address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// TLSState returns the TLS connection state, if the stream is TLS.
func (t *Transport) TLSState() (tls.ConnectionState, bool) {
	if tc, ok := t.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// State returns the current lifecycle state.
func (t *Transport) State() ConnectionState {
	return ConnectionState(t.state.Load())
}

// IsClosed reports whether the transport can no longer be used.
func (t *Transport) IsClosed() bool {
	return t.State() != StateConnected
}

// SetKeepAlive enables (or, with a zero PingInterval, disables) keep-alive
// pings while Recv waits for data.
func (t *Transport) SetKeepAlive(config KeepAliveConfig) {
	if !config.Enabled() {
		t.ka.Store(nil)
		return
	}
	t.ka.Store(newKeepAlive(config))
}

// KeepAlive returns the active keep-alive configuration.
func (t *Transport) KeepAlive() KeepAliveConfig {
	if ka := t.ka.Load(); ka != nil {
		return ka.config
	}
	return KeepAliveConfig{}
}

// KeepAliveStats returns keep-alive statistics (zero if disabled).
func (t *Transport) KeepAliveStats() KeepAliveStats {
	if ka := t.ka.Load(); ka != nil {
		return ka.stats()
	}
	return KeepAliveStats{}
}

// SetHandshake binds the handshake that authenticated this transport.
func (t *Transport) SetHandshake(h HandshakeInfo) {
	t.hsMu.Lock()
	defer t.hsMu.Unlock()
	t.handshake = h
}

// Handshake returns the bound handshake, or nil.
func (t *Transport) Handshake() HandshakeInfo {
	t.hsMu.Lock()
	defer t.hsMu.Unlock()
	return t.handshake
}

// Send writes one frame. The context bounds the write.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if t.IsClosed() {
		return ErrConnectionClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	_ = t.conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetWriteDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() {
			_ = t.conn.SetWriteDeadline(time.Time{})
		}
	}()

	if err := t.framer.WriteFrame(data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return t.ioError("send", err)
	}
	return nil
}

// Recv reads the next data frame. Control frames are handled here:
// pings are answered, pongs feed the keep-alive, and a close frame (or
// EOF) closes the transport and returns ErrClosedByPeer.
func (t *Transport) Recv(ctx context.Context) ([]byte, error) {
	if t.IsClosed() {
		return nil, ErrConnectionClosed
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() {
			_ = t.conn.SetReadDeadline(time.Time{})
		}
	}()

	ctxDeadline, hasCtxDeadline := ctx.Deadline()

	for {
		ka := t.ka.Load()

		deadline := ctxDeadline
		kaWakeup := false
		if ka != nil {
			if d := ka.deadline(time.Now()); !hasCtxDeadline || d.Before(ctxDeadline) {
				deadline = d
				kaWakeup = true
			}
		}
		_ = t.conn.SetReadDeadline(deadline)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := t.framer.ReadFrame()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if kaWakeup && isTimeout(err) {
				if kaErr := t.keepAliveExpired(ctx, ka); kaErr != nil {
					return nil, kaErr
				}
				continue
			}
			if hasCtxDeadline && isTimeout(err) {
				return nil, context.DeadlineExceeded
			}
			return nil, t.ioError("recv", err)
		}

		if ka != nil {
			ka.activity()
		}

		if !wire.IsControlMessage(data) {
			return data, nil
		}
		if err := t.handleControl(ctx, data); err != nil {
			return nil, err
		}
	}
}

// keepAliveExpired sends the next ping or fails the transport.
func (t *Transport) keepAliveExpired(ctx context.Context, ka *keepAlive) error {
	seq, ok := ka.expired(time.Now())
	if !ok {
		t.Logger().Debug("keep-alive timeout", "missed_pongs", ka.config.MaxMissedPongs)
		t.logError(log.LayerTransport, ErrKeepAliveTimeout, "keepalive")
		t.abort("keep-alive timeout")
		return ErrKeepAliveTimeout
	}

	return t.sendControl(ctx, wire.Ping(seq))
}

// sendControl writes a control frame and records it.
func (t *Transport) sendControl(ctx context.Context, msg *wire.ControlMessage) error {
	data, err := wire.EncodeControlMessage(msg)
	if err != nil {
		return err
	}
	if err := t.Send(ctx, data); err != nil {
		return err
	}
	t.logControl(msg, log.DirectionOut)
	return nil
}

// handleControl processes a control frame received by Recv.
func (t *Transport) handleControl(ctx context.Context, data []byte) error {
	msg, err := wire.DecodeControlMessage(data)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	t.logControl(msg, log.DirectionIn)

	switch msg.Type {
	case wire.ControlPing:
		return t.sendControl(ctx, wire.Pong(msg.Sequence))

	case wire.ControlPong:
		if ka := t.ka.Load(); ka != nil {
			ka.pongReceived(msg.Sequence, time.Now())
		}
		return nil

	case wire.ControlClose:
		t.abort("closed by peer")
		return ErrClosedByPeer
	}
	return nil
}

// ioError maps stream errors, treating a vanished peer as ErrClosedByPeer.
func (t *Transport) ioError(op string, err error) error {
	if t.IsClosed() {
		return ErrConnectionClosed
	}
	if isPeerGone(err) {
		t.abort("closed by peer")
		return ErrClosedByPeer
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close announces the close to the peer (best effort) and closes the
// stream. It is safe to call Close multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.state.Store(int32(StateClosing))
		t.logState(StateConnected, StateClosing, "")

		if data, err := wire.EncodeControlMessage(wire.Close()); err == nil {
			t.writeMu.Lock()
			_ = t.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
			if t.framer.WriteFrame(data) == nil {
				t.logControl(wire.Close(), log.DirectionOut)
			}
			t.writeMu.Unlock()
		}

		t.closeErr = t.conn.Close()
		t.state.Store(int32(StateDisconnected))
		t.logState(StateClosing, StateDisconnected, "")
	})
	return t.closeErr
}

// abort closes the stream without notifying the peer.
func (t *Transport) abort(reason string) {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		t.state.Store(int32(StateDisconnected))
		t.logState(StateConnected, StateDisconnected, reason)
	})
}

// LogHandshake records a handshake step on the protocol logger.
func (t *Transport) LogHandshake(direction log.Direction, ev log.HandshakeEvent) {
	if t.protoLog == nil {
		return
	}
	t.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.id,
		Direction:    direction,
		Layer:        log.LayerHandshake,
		Category:     log.CategoryMessage,
		LocalRole:    t.role,
		RemoteAddr:   addrString(t.conn.RemoteAddr()),
		Handshake:    &ev,
	})
}

// LogError records an error on the protocol logger.
func (t *Transport) LogError(layer log.Layer, err error, op string) {
	t.logError(layer, err, op)
}

func (t *Transport) logError(layer log.Layer, err error, op string) {
	if t.protoLog == nil {
		return
	}
	t.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.id,
		Layer:        layer,
		Category:     log.CategoryError,
		LocalRole:    t.role,
		RemoteAddr:   addrString(t.conn.RemoteAddr()),
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}

func (t *Transport) logState(from, to ConnectionState, reason string) {
	if t.protoLog == nil {
		return
	}
	t.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    t.role,
		RemoteAddr:   addrString(t.conn.RemoteAddr()),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

var controlLogTypes = map[wire.ControlMessageType]log.ControlMsgType{
	wire.ControlPing:  log.ControlMsgPing,
	wire.ControlPong:  log.ControlMsgPong,
	wire.ControlClose: log.ControlMsgClose,
}

func (t *Transport) logControl(msg *wire.ControlMessage, direction log.Direction) {
	typ, ok := controlLogTypes[msg.Type]
	if t.protoLog == nil || !ok {
		return
	}

	t.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.id,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		LocalRole:    t.role,
		RemoteAddr:   addrString(t.conn.RemoteAddr()),
		ControlMsg: &log.ControlMsgEvent{
			Type:     typ,
			Sequence: msg.Sequence,
		},
	})
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isPeerGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, ErrFrameTruncated) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
