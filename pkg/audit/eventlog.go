// Package audit provides the append-only pairing event log: one JSON
// line per pairing attempt, written for operators and never read back to
// make decisions.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// PairingEvent is one pairing attempt, success or failure.
type PairingEvent struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	TokenRef  string    `json:"token_reference"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// EventSink receives pairing events. Implementations must tolerate being
// called from concurrent pairing attempts.
type EventSink interface {
	Record(ev PairingEvent) error
}

// FileEventLog appends JSON lines to a file. The file is opened in
// append mode once so concurrent writers interleave whole lines.
type FileEventLog struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileEventLog opens (creating if needed) the event log at path.
func NewFileEventLog(path string) (*FileEventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("pairing event log: open: %w", err)
	}
	return &FileEventLog{f: f}, nil
}

// Record appends one event line.
func (l *FileEventLog) Record(ev PairingEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("pairing event log: marshal: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("pairing event log: append: %w", err)
	}
	return nil
}

// Close releases the log file.
func (l *FileEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// MemorySink collects events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []PairingEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(ev PairingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []PairingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PairingEvent, len(s.events))
	copy(out, s.events)
	return out
}
