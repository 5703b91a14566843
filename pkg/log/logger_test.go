package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiLogger(t *testing.T) {
	var a, b []string
	m := NewMultiLogger(
		LoggerFunc(func(e Event) { a = append(a, e.ConnectionID) }),
		nil,
		NoopLogger{},
		LoggerFunc(func(e Event) { b = append(b, e.ConnectionID) }),
	)

	m.Log(Event{ConnectionID: "one"})
	m.Log(Event{ConnectionID: "two"})

	assert.Equal(t, []string{"one", "two"}, a)
	assert.Equal(t, []string{"one", "two"}, b)
	assert.Len(t, m.loggers, 3, "nil loggers are skipped")
}

func TestEmptyMultiLogger(t *testing.T) {
	NewMultiLogger().Log(Event{})
	var zero NoopLogger
	zero.Log(Event{})
}
