// Package eventlog provides the bounded event log and ephemeral notification
// sink for the sync engine. Both are write-only from the engine's point of
// view: failures to record are swallowed and never affect session state.
package eventlog

import (
	"sync"
	"time"
)

// DefaultCapacity is the maximum number of retained log entries
const DefaultCapacity = 100

// Severity classifies a log entry
type Severity string

const (
	// SeverityInfo marks routine events
	SeverityInfo Severity = "info"

	// SeverityWarn marks recoverable problems, such as a failed poll that
	// the next tick will retry
	SeverityWarn Severity = "warn"

	// SeverityError marks failures surfaced to the user
	SeverityError Severity = "error"
)

// Entry is a single event log record
type Entry struct {
	Time     time.Time `json:"time"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// Log is an append-only, capped-length event log. The oldest entries are
// evicted first once the capacity is reached.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

// New creates a Log with the given capacity. A capacity of zero or less uses
// DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Info appends an info entry
func (l *Log) Info(message string) {
	l.append(SeverityInfo, message)
}

// Warn appends a warning entry
func (l *Log) Warn(message string) {
	l.append(SeverityWarn, message)
}

// Error appends an error entry
func (l *Log) Error(message string) {
	l.append(SeverityError, message)
}

func (l *Log) append(severity Severity, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{
		Time:     time.Now(),
		Severity: severity,
		Message:  message,
	})
	if len(l.entries) > l.capacity {
		// FIFO eviction; copy to avoid retaining the evicted backing slots
		trimmed := make([]Entry, l.capacity)
		copy(trimmed, l.entries[len(l.entries)-l.capacity:])
		l.entries = trimmed
	}
}

// Entries returns a snapshot of the retained entries, oldest first
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
