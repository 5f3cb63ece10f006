package dispatch_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	trusted  = "owner@example.org"
	stranger = "someone@example.net"
)

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

type record map[string]any

// records decodes every JSON log line written so far.
func (b *logBuffer) records(t *testing.T) []record {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []record
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var r record
		require.NoError(t, json.Unmarshal([]byte(line), &r), line)
		out = append(out, r)
	}
	return out
}

// find returns the records with the given message.
func (b *logBuffer) find(t *testing.T, msg string) []record {
	t.Helper()

	var out []record
	for _, r := range b.records(t) {
		if r["message"] == msg {
			out = append(out, r)
		}
	}
	return out
}

// receive waits for a value on ch or fails the test.
func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}
