package lockmgr

import (
	"sync"
	"time"
)

// DefaultQueueCap bounds the number of deferred updates per container.
const DefaultQueueCap = 5

// Entry is a deferred update request held while a container's lock is
// unavailable.
type Entry struct {
	ContainerID string
	Priority    Priority
	EnqueuedAt  time.Time
	Run         func()

	// Drop is invoked when the entry is evicted, collapsed away, or
	// cleared without running, so a waiting caller is not left hanging.
	Drop func()
}

func (e *Entry) drop() {
	if e.Drop != nil {
		e.Drop()
	}
}

// Queue holds bounded per-container queues of deferred updates. Critical
// entries are never evicted while non-critical entries remain, and draining
// collapses non-critical entries to the single most recent one so the queue
// converges on the latest data instead of replaying stale intermediate
// states.
type Queue struct {
	mu    sync.Mutex
	cap   int
	items map[string][]*Entry
}

// NewQueue creates a queue with the given per-container cap. A
// non-positive cap uses DefaultQueueCap.
func NewQueue(cap int) *Queue {
	if cap <= 0 {
		cap = DefaultQueueCap
	}
	return &Queue{
		cap:   cap,
		items: make(map[string][]*Entry),
	}
}

// Enqueue adds an entry, evicting the oldest non-critical entry when the
// container's queue is full (or the oldest entry outright if every queued
// entry is critical). Critical entries are inserted at the front.
func (q *Queue) Enqueue(e *Entry) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.items[e.ContainerID]
	if len(entries) >= q.cap {
		evictIdx := -1
		for i, cur := range entries {
			if cur.Priority != PriorityCritical {
				evictIdx = i
				break
			}
		}
		if evictIdx == -1 {
			evictIdx = 0
		}
		entries[evictIdx].drop()
		entries = append(entries[:evictIdx], entries[evictIdx+1:]...)
	}

	if e.Priority == PriorityCritical {
		entries = append([]*Entry{e}, entries...)
	} else {
		entries = append(entries, e)
	}
	q.items[e.ContainerID] = entries
}

// Dequeue collapses the container's queue, then removes and returns the
// highest-priority (then oldest) entry. Returns nil when empty.
func (q *Queue) Dequeue(containerID string) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.collapseLocked(containerID)
	if len(entries) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].Priority > entries[best].Priority ||
			(entries[i].Priority == entries[best].Priority &&
				entries[i].EnqueuedAt.Before(entries[best].EnqueuedAt)) {
			best = i
		}
	}

	e := entries[best]
	entries = append(entries[:best], entries[best+1:]...)
	if len(entries) == 0 {
		delete(q.items, containerID)
	} else {
		q.items[containerID] = entries
	}
	return e
}

// collapseLocked keeps all critical entries plus only the most recent
// non-critical entry. Caller holds q.mu.
func (q *Queue) collapseLocked(containerID string) []*Entry {
	entries := q.items[containerID]
	if len(entries) <= 1 {
		return entries
	}

	var kept []*Entry
	var latest *Entry
	var dropped []*Entry
	for _, e := range entries {
		if e.Priority == PriorityCritical {
			kept = append(kept, e)
			continue
		}
		if latest == nil {
			latest = e
			continue
		}
		if e.EnqueuedAt.After(latest.EnqueuedAt) {
			dropped = append(dropped, latest)
			latest = e
		} else {
			dropped = append(dropped, e)
		}
	}
	if latest != nil {
		kept = append(kept, latest)
	}
	for _, e := range dropped {
		e.drop()
	}
	q.items[containerID] = kept
	return kept
}

// Depth returns the number of queued entries for a container.
func (q *Queue) Depth(containerID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[containerID])
}

// Depths returns the queue depth for every container with queued work.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.items))
	for id, entries := range q.items {
		out[id] = len(entries)
	}
	return out
}

// Clear drops every queued entry. Used by emergency stop.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, entries := range q.items {
		n += len(entries)
		for _, e := range entries {
			e.drop()
		}
	}
	q.items = make(map[string][]*Entry)
	return n
}
