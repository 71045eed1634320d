// Package audit keeps a bounded, append-only, in-memory record of
// significant scheduler events. It is diagnostic only: nothing reads it
// back to reconstruct scheduling state. A short prefix is persisted
// periodically for crash inspection.
package audit

import (
	"sync"
	"time"

	logx "statusloop/pkg/logx"
)

const (
	// DefaultCapacity bounds the in-memory ring.
	DefaultCapacity = 500
	// PersistLimit is how many recent entries the persisted record keeps.
	PersistLimit = 100
)

// Entry is one audit event. IDs are unique and monotonic within the
// process lifetime.
type Entry struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Log is a fixed-capacity ring buffer of entries, newest first.
// Eviction is oldest-first once capacity is reached.
type Log struct {
	mu      sync.Mutex
	entries []Entry // index 0 = newest
	cap     int
	nextID  uint64

	now func() time.Time
	log logx.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithNow overrides the timestamp source (tests).
func WithNow(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger mirrors every entry to the process logger.
func WithLogger(log logx.Logger) Option {
	return func(l *Log) { l.log = log }
}

func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		entries: make([]Entry, 0, capacity),
		cap:     capacity,
		now:     time.Now,
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record appends one event and returns its id.
func (l *Log) Record(eventType, message string, data any) uint64 {
	l.mu.Lock()
	l.nextID++
	e := Entry{
		ID:        l.nextID,
		Timestamp: l.now(),
		Type:      eventType,
		Message:   message,
		Data:      data,
	}
	// Prepend; drop the oldest once full.
	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.cap {
		l.entries = l.entries[:l.cap]
	}
	l.mu.Unlock()

	l.log.Debug(message, logx.String("event", eventType))
	return e.ID
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, limit)
	copy(out, l.entries[:limit])
	return out
}

// PersistPrefix returns the bounded prefix written to durable storage.
func (l *Log) PersistPrefix() []Entry {
	return l.Recent(PersistLimit)
}

// Len reports the current number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Seed restores entries loaded from the persisted record. It is called
// once at startup, before any Record; ids continue above the highest
// restored id.
func (l *Log) Seed(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) > l.cap {
		entries = entries[:l.cap]
	}
	l.entries = append(l.entries[:0], entries...)
	for _, e := range entries {
		if e.ID > l.nextID {
			l.nextID = e.ID
		}
	}
}
