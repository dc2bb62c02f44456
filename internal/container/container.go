// Package container models the addressable UI regions managed by the update
// engine. A Container is an opaque handle behind an interface so the
// orchestration logic is testable without a real browser DOM.
package container

import (
	"sort"
	"sync"
	"time"
)

// Container is an addressable region of the dashboard whose content the
// update engine manages. Implementations must be safe for concurrent use.
type Container interface {
	// ID returns the stable string key identifying this container.
	ID() string

	// Content returns the serialized markup currently rendered.
	Content() string

	// SetContent replaces the rendered markup.
	SetContent(markup string)

	// NodeCount returns the number of descendant nodes (element + text).
	NodeCount() int

	// ScrollOffset returns the current scroll position in pixels.
	ScrollOffset() int

	// SetScrollOffset moves the scroll position (engine-initiated).
	SetScrollOffset(px int)

	// ScrollExtent returns the total scrollable height in pixels.
	ScrollExtent() int

	// ViewportHeight returns the visible height in pixels.
	ViewportHeight() int

	// Attributes returns the container element attributes (class, style)
	// preserved across recreation.
	Attributes() map[string]string

	// LastUserScroll returns the time of the most recent user-initiated
	// scroll, zero if the user never scrolled.
	LastUserScroll() time.Time

	// Exists reports whether the underlying element is still attached.
	Exists() bool
}

// Registry maps container IDs to live handles. The engine resolves every
// update request through the registry so recreation can swap content in
// place without changing identity.
type Registry struct {
	mu         sync.RWMutex
	containers map[string]Container
}

// NewRegistry creates an empty container registry.
func NewRegistry() *Registry {
	return &Registry{containers: make(map[string]Container)}
}

// Register adds or replaces a container handle.
func (r *Registry) Register(c Container) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[c.ID()] = c
}

// Get resolves a container by ID.
func (r *Registry) Get(id string) (Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[id]
	return c, ok
}

// Remove drops a container from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

// IDs returns all registered container IDs, sorted for stable iteration.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered containers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.containers)
}
