// Package errlog provides the bounded structured log of recovery-relevant
// events. Every update failure, rollback, recreation, and corruption
// finding lands here with enough context to reconstruct the failure
// offline.
package errlog

import (
	"runtime"
	"sync"
	"time"

	"github.com/wpperf/dashkeeper/internal/shared/id"
)

// Event types recorded by the engine.
const (
	EventUpdateFailed       = "UPDATE_FAILED"
	EventRollbackSuccess    = "ROLLBACK_SUCCESS"
	EventRollbackFailed     = "ROLLBACK_FAILED"
	EventContainerRecreated = "CONTAINER_RECREATED"
	EventRecreationFailed   = "RECREATION_FAILED"
	EventCorruptionDetected = "CORRUPTION_DETECTED"
	EventEmergencyCleanup   = "EMERGENCY_CLEANUP"
	EventEmergencyStop      = "EMERGENCY_STOP"
	EventOperationsResumed  = "OPERATIONS_RESUMED"
	EventSnapshotSkipped    = "SNAPSHOT_SKIPPED"
	EventLockQueued         = "LOCK_QUEUED"
	EventCoordinationFailed = "COORDINATION_FAILED"
)

// DefaultCap bounds the in-memory ring buffer.
const DefaultCap = 100

// Entry is one recorded event.
type Entry struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	ErrorID     id.ErrorID     `json:"error_id"`
	HeapBytes   uint64         `json:"heap_bytes"`
	ContainerID string         `json:"container_id,omitempty"`
}

// SessionStore mirrors entries into session-scoped storage that survives a
// reload of the engine, for cross-restart debugging.
type SessionStore interface {
	Append(e Entry)
	Entries() []Entry
	Clear()
}

// Log is an append-only bounded ring of entries, oldest evicted first.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	session SessionStore
	onAdd   []func(Entry)
}

// Option configures a Log.
type Option func(*Log)

// WithCap overrides the ring buffer capacity.
func WithCap(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.cap = n
		}
	}
}

// WithSessionStore mirrors recorded entries into the given store.
func WithSessionStore(s SessionStore) Option {
	return func(l *Log) { l.session = s }
}

// New creates a log with the default capacity.
func New(opts ...Option) *Log {
	l := &Log{cap: DefaultCap}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers a callback invoked for every recorded entry. Used by
// the WebSocket event stream. Callbacks run synchronously inside Record and
// must not block.
func (l *Log) Subscribe(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAdd = append(l.onAdd, fn)
}

// Record appends an entry, evicting the oldest when full.
func (l *Log) Record(eventType, containerID, message string, context map[string]any) Entry {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	e := Entry{
		Type:        eventType,
		Message:     message,
		Context:     context,
		Timestamp:   time.Now(),
		ErrorID:     id.NewErrorID(),
		HeapBytes:   mem.HeapAlloc,
		ContainerID: containerID,
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	subs := make([]func(Entry), len(l.onAdd))
	copy(subs, l.onAdd)
	session := l.session
	l.mu.Unlock()

	if session != nil {
		session.Append(e)
	}
	for _, fn := range subs {
		fn(e)
	}
	return e
}

// Entries returns a copy of all recorded entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter returns entries matching the event type and/or container ID.
// Empty arguments match everything.
func (l *Log) Filter(eventType, containerID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if containerID != "" && e.ContainerID != containerID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops all retained entries.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
