package dispatch

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// loopConn dispatches every sent frame and queues the response.
type loopConn struct {
	reg     *Registry
	pending [][]byte
}

func (c *loopConn) Send(ctx context.Context, data []byte) error {
	resp, err := c.reg.Dispatch(ctx, data)
	if err != nil {
		return err
	}
	c.pending = append(c.pending, resp)
	return nil
}

func (c *loopConn) Recv(context.Context) ([]byte, error) {
	if len(c.pending) == 0 {
		return nil, io.EOF
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func TestPingRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ping", Ping)

	got, err := CallPing(context.Background(), &loopConn{reg: reg}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestUnknownCommand(t *testing.T) {
	reg := NewRegistry()

	err := Call(context.Background(), &loopConn{reg: reg}, &wire.Request{Cmd: "vlob_read"}, nil)

	var dErr *Error
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, wire.StatusUnknownCommand, dErr.Status)
	assert.Contains(t, dErr.Reason, "vlob_read")
}

func TestHandlerErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("typed", func(context.Context, *wire.Request) (any, error) {
		return nil, Errorf("not_found", "no such %s", "thing")
	})
	reg.Register("plain", func(context.Context, *wire.Request) (any, error) {
		return nil, errors.New("disk on fire")
	})
	reg.Register("panics", func(context.Context, *wire.Request) (any, error) {
		panic("oops")
	})

	tests := []struct {
		cmd    string
		status string
		reason string
	}{
		{"typed", "not_found", "no such thing"},
		{"plain", wire.StatusError, "disk on fire"},
		{"panics", wire.StatusError, "handler panic: oops"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			resp := reg.Handle(context.Background(), &wire.Request{Cmd: tt.cmd})
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.reason, resp.Reason)
		})
	}
}

func TestDispatchBadFrame(t *testing.T) {
	reg := NewRegistry()

	out, err := reg.Dispatch(context.Background(), []byte{0xff})
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(out)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusBadMessage, resp.Status)

	// Ping without payload.
	reg.Register("ping", Ping)
	resp = reg.Handle(context.Background(), &wire.Request{Cmd: "ping"})
	assert.Equal(t, wire.StatusBadMessage, resp.Status)
}

func TestRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ping", Ping)

	assert.Panics(t, func() { reg.Register("ping", Ping) })
	assert.Panics(t, func() { reg.Register("", Ping) })
	assert.Panics(t, func() { reg.Register("nil", nil) })

	reg.Register("echo", Ping)
	assert.Equal(t, []string{"echo", "ping"}, reg.Commands())
}

func TestCallTransportFailure(t *testing.T) {
	// Nothing queued: Recv fails.
	conn := &failingConn{}
	err := Call(context.Background(), conn, &wire.Request{Cmd: "ping"}, nil)
	require.ErrorIs(t, err, io.ErrClosedPipe)

	err = Call(context.Background(), conn, &wire.Request{}, nil)
	require.ErrorIs(t, err, wire.ErrMissingCommand)
}

type failingConn struct{}

func (failingConn) Send(context.Context, []byte) error { return nil }
func (failingConn) Recv(context.Context) ([]byte, error) {
	return nil, io.ErrClosedPipe
}
