package external

import (
	"sync"
)

// Stream identifies a task output stream
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LogSink receives task output. Append is fire-and-forget; the
// orchestrator never reads it back.
type LogSink interface {
	Append(taskID string, stream Stream, p []byte)
}

// NopSink discards everything
type NopSink struct{}

// Append implements LogSink
func (NopSink) Append(string, Stream, []byte) {}

// MemorySink buffers output per task. Used in tests and dev mode.
type MemorySink struct {
	mu   sync.Mutex
	logs map[string][]byte
}

// NewMemorySink creates an empty MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{logs: make(map[string][]byte)}
}

// Append implements LogSink
func (s *MemorySink) Append(taskID string, _ Stream, p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[taskID] = append(s.logs[taskID], p...)
}

// Bytes returns the buffered output for a task
func (s *MemorySink) Bytes(taskID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.logs[taskID]))
	copy(out, s.logs[taskID])
	return out
}
