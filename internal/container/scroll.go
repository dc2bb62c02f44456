package container

import (
	"sync"
	"time"
)

// userScrollWindow is how long after a user scroll the engine treats the
// user as actively scrolling and keeps its hands off the scroll position.
const userScrollWindow = 1500 * time.Millisecond

type savedScroll struct {
	ratio   float64
	offset  int
	extent  int
	savedAt time.Time
}

// ScrollPreserver records and restores relative scroll positions across
// content replacement. Positions are stored as a ratio of the maximum
// offset so restoration survives extent changes.
type ScrollPreserver struct {
	mu         sync.Mutex
	saved      map[string]savedScroll
	userWindow time.Duration
}

// NewScrollPreserver creates a preserver with the default user-activity
// window.
func NewScrollPreserver() *ScrollPreserver {
	return &ScrollPreserver{
		saved:      make(map[string]savedScroll),
		userWindow: userScrollWindow,
	}
}

// UserActive reports whether the user scrolled the container recently
// enough that the engine should not reposition it.
func (s *ScrollPreserver) UserActive(c Container) bool {
	last := c.LastUserScroll()
	return !last.IsZero() && time.Since(last) < s.userWindow
}

// Save captures the container's relative scroll position. Returns false
// when the user is actively scrolling and nothing was saved.
func (s *ScrollPreserver) Save(c Container) bool {
	if s.UserActive(c) {
		return false
	}

	offset := c.ScrollOffset()
	maxOffset := c.ScrollExtent() - c.ViewportHeight()
	ratio := 0.0
	if maxOffset > 0 {
		ratio = float64(offset) / float64(maxOffset)
		if ratio > 1 {
			ratio = 1
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[c.ID()] = savedScroll{
		ratio:   ratio,
		offset:  offset,
		extent:  c.ScrollExtent(),
		savedAt: time.Now(),
	}
	return true
}

// Restore repositions the container at the previously saved relative
// offset. Returns false if nothing was saved or the user took over.
func (s *ScrollPreserver) Restore(c Container) bool {
	if s.UserActive(c) {
		return false
	}

	s.mu.Lock()
	saved, ok := s.saved[c.ID()]
	delete(s.saved, c.ID())
	s.mu.Unlock()
	if !ok {
		return false
	}

	maxOffset := c.ScrollExtent() - c.ViewportHeight()
	if maxOffset < 0 {
		maxOffset = 0
	}
	target := int(saved.ratio * float64(maxOffset))
	c.SetScrollOffset(target)
	return true
}

// Clear discards any saved position for the container.
func (s *ScrollPreserver) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, id)
}
