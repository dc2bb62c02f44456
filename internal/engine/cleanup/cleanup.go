// Package cleanup reclaims resources held inside a container before its
// content is replaced: chart handles bound to canvases, accumulated
// duplicate items, and leak-prone inline attributes. It also owns the
// last-resort emergency wipe.
package cleanup

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/wpperf/dashkeeper/internal/container"
)

// itemSelector matches the item-like children panels accumulate:
// rendered list rows and anything carrying an *-item class.
const itemSelector = "li, tr, [class*=item]"

// textPrefixLen is how much leading text participates in duplicate
// identity.
const textPrefixLen = 50

// Renderable is a handle to a rendering-library instance (a chart bound to
// a canvas) that must be destroyed before its host content is replaced.
type Renderable interface {
	Destroy()
	AttachedTo(containerID string) bool
}

// ChartRegistry tracks live Renderable handles per container.
type ChartRegistry struct {
	mu     sync.Mutex
	charts []Renderable
}

// NewChartRegistry creates an empty registry.
func NewChartRegistry() *ChartRegistry {
	return &ChartRegistry{}
}

// Register tracks a handle.
func (r *ChartRegistry) Register(chart Renderable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charts = append(r.charts, chart)
}

// DestroyFor destroys and forgets every handle attached to the container,
// returning the number destroyed.
func (r *ChartRegistry) DestroyFor(containerID string) int {
	r.mu.Lock()
	var doomed, kept []Renderable
	for _, c := range r.charts {
		if c.AttachedTo(containerID) {
			doomed = append(doomed, c)
		} else {
			kept = append(kept, c)
		}
	}
	r.charts = kept
	r.mu.Unlock()

	for _, c := range doomed {
		c.Destroy()
	}
	return len(doomed)
}

// Count returns the number of handles attached to the container.
func (r *ChartRegistry) Count(containerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.charts {
		if c.AttachedTo(containerID) {
			n++
		}
	}
	return n
}

// Cleaner performs container content cleanup.
type Cleaner struct {
	charts    *ChartRegistry
	sanitizer *bluemonday.Policy
}

// NewCleaner creates a cleaner sharing the given chart registry. The
// sanitizer policy keeps structural markup and safe attributes while
// stripping inline event handlers and styles.
func NewCleaner(charts *ChartRegistry) *Cleaner {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class", "id").Globally()
	return &Cleaner{
		charts:    charts,
		sanitizer: policy,
	}
}

// DestroyCharts destroys chart handles bound to the container.
func (c *Cleaner) DestroyCharts(containerID string) int {
	return c.charts.DestroyFor(containerID)
}

// RemoveDuplicates drops repeated item-like children, keeping the first
// occurrence of each text-prefix identity. Returns the number removed.
func (c *Cleaner) RemoveDuplicates(cont container.Container) (int, error) {
	doc, err := container.LoadDocument(cont.Content())
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	removed := 0
	doc.Find(itemSelector).Each(func(_ int, sel *goquery.Selection) {
		key := TextPrefix(sel.Text())
		if key == "" {
			return
		}
		if seen[key] {
			sel.Remove()
			removed++
			return
		}
		seen[key] = true
	})

	if removed > 0 {
		markup, err := doc.Find("body").Html()
		if err != nil {
			return removed, err
		}
		cont.SetContent(markup)
	}
	return removed, nil
}

// Sanitize strips inline event handlers, inline styles, and other
// leak-prone attributes from the container's markup.
func (c *Cleaner) Sanitize(cont container.Container) {
	cont.SetContent(c.sanitizer.Sanitize(cont.Content()))
}

// Thorough runs duplicate removal followed by a sanitizer pass. Used when
// a container crosses its critical size threshold.
func (c *Cleaner) Thorough(cont container.Container) (int, error) {
	removed, err := c.RemoveDuplicates(cont)
	if err != nil {
		return removed, err
	}
	c.Sanitize(cont)
	return removed, nil
}

// EmergencyWipe is the last-resort cleanup: destroy chart handles, wipe
// the content down to a short notice, and reset scroll.
func (c *Cleaner) EmergencyWipe(cont container.Container) int {
	destroyed := c.DestroyCharts(cont.ID())
	cont.SetContent(`<div class="panel-notice">Content cleared to recover memory. Refreshing...</div>`)
	cont.SetScrollOffset(0)
	return destroyed
}

// TextPrefix normalizes text and truncates it to the duplicate-identity
// prefix length.
func TextPrefix(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > textPrefixLen {
		text = text[:textPrefixLen]
	}
	return text
}
