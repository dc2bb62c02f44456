package errlog

import (
	"os"
	"sync"

	"github.com/bytedance/sonic"
)

// DefaultSessionCap bounds the session-scoped mirror.
const DefaultSessionCap = 50

// MemorySessionStore is a size-capped in-memory mirror, the analogue of
// session storage when no persistence path is configured.
type MemorySessionStore struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewMemorySessionStore creates a store with the given cap (DefaultSessionCap
// when non-positive).
func NewMemorySessionStore(cap int) *MemorySessionStore {
	if cap <= 0 {
		cap = DefaultSessionCap
	}
	return &MemorySessionStore{cap: cap}
}

// Append adds an entry, evicting the oldest when full.
func (s *MemorySessionStore) Append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
}

// Entries returns a copy of all retained entries.
func (s *MemorySessionStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear drops all retained entries.
func (s *MemorySessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// FileSessionStore persists the capped mirror to a JSON file so recovery
// history survives daemon restarts.
type FileSessionStore struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	path    string
}

// NewFileSessionStore creates a file-backed store, loading any previously
// persisted entries. Load failures start the store empty; persistence is
// debugging aid, not durable state.
func NewFileSessionStore(path string, cap int) *FileSessionStore {
	if cap <= 0 {
		cap = DefaultSessionCap
	}
	s := &FileSessionStore{cap: cap, path: path}

	if data, err := os.ReadFile(path); err == nil {
		var loaded []Entry
		if err := sonic.Unmarshal(data, &loaded); err == nil {
			if len(loaded) > cap {
				loaded = loaded[len(loaded)-cap:]
			}
			s.entries = loaded
		}
	}
	return s
}

// Append adds an entry and rewrites the backing file.
func (s *FileSessionStore) Append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
	s.persistLocked()
}

// Entries returns a copy of all retained entries.
func (s *FileSessionStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear drops all entries and removes the backing file.
func (s *FileSessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	os.Remove(s.path)
}

func (s *FileSessionStore) persistLocked() {
	data, err := sonic.Marshal(s.entries)
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0o644)
}
