package render

import (
	"sync/atomic"
)

// Chart is a live rendering handle bound to a canvas inside a panel. It
// satisfies cleanup.Renderable so the update engine can destroy it before
// the panel's content is replaced.
type Chart struct {
	containerID string
	series      []float64
	destroyed   atomic.Bool
}

// NewChart creates a chart handle bound to the container.
func NewChart(containerID string, series []float64) *Chart {
	return &Chart{containerID: containerID, series: series}
}

// Destroy releases the chart. Safe to call more than once.
func (c *Chart) Destroy() {
	c.destroyed.Store(true)
	c.series = nil
}

// AttachedTo reports whether the chart lives inside the container.
func (c *Chart) AttachedTo(containerID string) bool {
	return !c.destroyed.Load() && c.containerID == containerID
}

// Destroyed reports whether Destroy has been called.
func (c *Chart) Destroyed() bool {
	return c.destroyed.Load()
}
