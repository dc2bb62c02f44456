// Package lockmgr serializes container updates. Each container has a single
// lock slot; acquisition is priority-aware and stale locks are reclaimed so
// a crashed update cannot wedge its container forever.
package lockmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStaleAfter is how old a lock may get before any acquirer may
// reclaim it.
const DefaultStaleAfter = 30 * time.Second

// Lock describes a held container lock.
type Lock struct {
	ID        string
	Priority  Priority
	Timestamp time.Time
}

// Age returns how long the lock has been held.
func (l Lock) Age() time.Duration {
	return time.Since(l.Timestamp)
}

// Coordinator manages one lock slot per container.
type Coordinator struct {
	mu         sync.Mutex
	locks      map[string]Lock
	staleAfter time.Duration
}

// NewCoordinator creates a coordinator with the given staleness threshold.
// A zero threshold uses DefaultStaleAfter.
func NewCoordinator(staleAfter time.Duration) *Coordinator {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Coordinator{
		locks:      make(map[string]Lock),
		staleAfter: staleAfter,
	}
}

// Acquire attempts to take the lock for a container. It succeeds when the
// slot is free, when the requested priority strictly exceeds the holder's,
// or when the existing lock has gone stale. On success the returned lock ID
// must be presented to Release. displaced reports whether a previous holder
// was preempted.
func (c *Coordinator) Acquire(containerID string, p Priority) (lockID string, ok bool, displaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, held := c.locks[containerID]
	if held {
		preempt := p > existing.Priority
		stale := existing.Age() > c.staleAfter
		if !preempt && !stale {
			return "", false, false
		}
		displaced = true
	}

	lock := Lock{
		ID:        uuid.NewString(),
		Priority:  p,
		Timestamp: time.Now(),
	}
	c.locks[containerID] = lock
	return lock.ID, true, displaced
}

// Release frees the container's lock slot if lockID still owns it. A
// mismatched ID means the holder was displaced; the release is a no-op.
func (c *Coordinator) Release(containerID, lockID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, held := c.locks[containerID]
	if !held || existing.ID != lockID {
		return false
	}
	delete(c.locks, containerID)
	return true
}

// Holder returns the current lock for a container, if any.
func (c *Coordinator) Holder(containerID string) (Lock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[containerID]
	return l, ok
}

// ReleaseAll clears every lock slot. Used by emergency stop.
func (c *Coordinator) ReleaseAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.locks)
	c.locks = make(map[string]Lock)
	return n
}

// Snapshot returns a copy of the lock table for status reporting.
func (c *Coordinator) Snapshot() map[string]Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Lock, len(c.locks))
	for id, l := range c.locks {
		out[id] = l
	}
	return out
}
