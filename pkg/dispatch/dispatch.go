// Package dispatch routes post-handshake command frames to handlers.
//
// Commands are registered explicitly at startup:
//
//	reg := dispatch.NewRegistry()
//	reg.Register("ping", dispatch.Ping)
//
// A handler returns a payload (encoded into the response) or an error.
// A *dispatch.Error controls the response status; any other error is
// reported as "error".
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// Handler serves one command. The returned payload may be nil.
type Handler func(ctx context.Context, req *wire.Request) (any, error)

// Error is a handler failure carrying the response status.
type Error struct {
	Status string
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Status
	}
	return e.Status + ": " + e.Reason
}

// Errorf returns an *Error with a formatted reason.
func Errorf(status, format string, args ...any) *Error {
	return &Error{Status: status, Reason: fmt.Sprintf(format, args...)}
}

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. It panics if cmd is empty, h is nil, or cmd is
// already registered.
func (r *Registry) Register(cmd string, h Handler) {
	if cmd == "" || h == nil {
		panic("dispatch: empty command or nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[cmd]; dup {
		panic("dispatch: duplicate command " + cmd)
	}
	r.handlers[cmd] = h
}

// Commands returns the registered command names, sorted.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]string, 0, len(r.handlers))
	for cmd := range r.handlers {
		cmds = append(cmds, cmd)
	}
	slices.Sort(cmds)
	return cmds
}

// Handle routes a decoded request and builds the response.
func (r *Registry) Handle(ctx context.Context, req *wire.Request) (resp *wire.Response) {
	r.mu.RLock()
	h, ok := r.handlers[req.Cmd]
	r.mu.RUnlock()

	if !ok {
		return &wire.Response{Status: wire.StatusUnknownCommand, Reason: fmt.Sprintf("unknown command %q", req.Cmd)}
	}

	defer func() {
		if p := recover(); p != nil {
			resp = &wire.Response{Status: wire.StatusError, Reason: fmt.Sprintf("handler panic: %v", p)}
		}
	}()

	payload, err := h(ctx, req)
	if err != nil {
		var dErr *Error
		if errors.As(err, &dErr) {
			return &wire.Response{Status: dErr.Status, Reason: dErr.Reason}
		}
		return &wire.Response{Status: wire.StatusError, Reason: err.Error()}
	}

	resp = &wire.Response{Status: wire.StatusOK}
	if payload != nil {
		raw, err := wire.Marshal(payload)
		if err != nil {
			return &wire.Response{Status: wire.StatusError, Reason: fmt.Sprintf("encode payload: %v", err)}
		}
		resp.Payload = raw
	}
	return resp
}

// Dispatch decodes a request frame, routes it and returns the encoded
// response. Undecodable frames get a bad_message response.
func (r *Registry) Dispatch(ctx context.Context, frame []byte) ([]byte, error) {
	req, err := wire.DecodeRequest(frame)
	if err != nil {
		return wire.EncodeResponse(&wire.Response{Status: wire.StatusBadMessage, Reason: err.Error()})
	}
	return wire.EncodeResponse(r.Handle(ctx, req))
}

// Ping echoes the ping payload back.
func Ping(_ context.Context, req *wire.Request) (any, error) {
	var p wire.PingPayload
	if err := wire.Unmarshal(req.Payload, &p); err != nil {
		return nil, Errorf(wire.StatusBadMessage, "invalid ping payload: %v", err)
	}
	return p, nil
}
