package log

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a capture file as a stream of CBOR items.
// It is safe for concurrent use.
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *cbor.Encoder

	dropped atomic.Int64
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f, enc: eventEnc.NewEncoder(f)}, nil
}

// Log writes event. Events that fail to encode or arrive after Close are
// counted in Dropped.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil || l.enc.Encode(event) != nil {
		l.dropped.Add(1)
	}
}

// Dropped returns how many events were not written.
func (l *FileLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close closes the file. Further calls are no-ops.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var _ Logger = (*FileLogger)(nil)
