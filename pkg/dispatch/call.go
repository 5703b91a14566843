package dispatch

import (
	"context"
	"fmt"

	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// Conn is a frame stream with a completed handshake.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// Call sends one request and waits for its response. A non-ok response is
// returned as *Error. When out is non-nil the response payload is decoded
// into it.
func Call(ctx context.Context, conn Conn, req *wire.Request, out any) error {
	frame, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		return err
	}

	data, err := conn.Recv(ctx)
	if err != nil {
		return err
	}
	resp, err := wire.DecodeResponse(data)
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return &Error{Status: resp.Status, Reason: resp.Reason}
	}
	if out != nil && len(resp.Payload) > 0 {
		if err := wire.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", req.Cmd, err)
		}
	}
	return nil
}

// CallPing sends a ping and returns the echoed message.
func CallPing(ctx context.Context, conn Conn, msg string) (string, error) {
	req, err := wire.NewPingRequest(msg)
	if err != nil {
		return "", err
	}
	var pong wire.PingPayload
	if err := Call(ctx, conn, req, &pong); err != nil {
		return "", err
	}
	return pong.Ping, nil
}
