package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
)

const (
	// HeaderSize is the length of the big-endian payload length that
	// precedes every frame.
	HeaderSize = 4

	// DefaultMaxMessageSize caps frame payloads unless configured (64 KB).
	DefaultMaxMessageSize = 64 << 10

	// MaxCapturedFrameBytes bounds the payload copied into protocol events.
	MaxCapturedFrameBytes = 4 << 10
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")

	// ErrFrameTruncated means the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// Framer splits a byte stream into length-prefixed frames.
//
// WriteFrame is safe for concurrent use. ReadFrame is not; the transport
// serializes readers itself.
type Framer struct {
	rw      io.ReadWriter
	maxSize uint32
	header  [HeaderSize]byte

	wmu sync.Mutex

	capture log.Logger
	connID  string
	role    log.Role
}

// NewFramer returns a framer with the default size limit.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize returns a framer that rejects payloads above maxSize
// in both directions.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{rw: rw, maxSize: maxSize}
}

// SetLogger records every frame read or written as a transport-layer
// event for connID. A nil logger turns capture off.
func (f *Framer) SetLogger(logger log.Logger, connID string, role log.Role) {
	f.capture = logger
	f.connID = connID
	f.role = role
}

// WriteFrame sends payload as a single frame. Header and payload go out in
// one Write so concurrent writers never interleave.
func (f *Framer) WriteFrame(payload []byte) error {
	if err := f.checkSize(len(payload)); err != nil {
		return err
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	f.wmu.Lock()
	_, err := f.rw.Write(buf)
	f.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	f.record(log.DirectionOut, payload)
	return nil
}

// ReadFrame returns the next frame payload. A clean end of stream between
// frames is io.EOF; anything cut short is ErrFrameTruncated.
func (f *Framer) ReadFrame() ([]byte, error) {
	switch _, err := io.ReadFull(f.rw, f.header[:]); {
	case err == io.EOF:
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, ErrFrameTruncated
	case err != nil:
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	n := binary.BigEndian.Uint32(f.header[:])
	if err := f.checkSize(int(n)); err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	f.record(log.DirectionIn, payload)
	return payload, nil
}

func (f *Framer) checkSize(n int) error {
	switch {
	case n == 0:
		return ErrMessageEmpty
	case uint64(n) > uint64(f.maxSize):
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, n, f.maxSize)
	}
	return nil
}

func (f *Framer) record(dir log.Direction, payload []byte) {
	if f.capture == nil {
		return
	}
	ev := &log.FrameEvent{Size: HeaderSize + len(payload), Data: payload}
	if len(payload) > MaxCapturedFrameBytes {
		ev.Data = payload[:MaxCapturedFrameBytes]
		ev.Truncated = true
	}
	f.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: f.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    f.role,
		Frame:        ev,
	})
}
