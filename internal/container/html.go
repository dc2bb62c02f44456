package container

import (
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// defaultItemHeight approximates the rendered height of one list item when
// deriving scroll extent from content.
const defaultItemHeight = 24

// Panel is the standard in-memory Container implementation backed by parsed
// HTML. The daemon uses it for every dashboard panel; tests use it as the
// fake DOM.
type Panel struct {
	mu             sync.RWMutex
	id             string
	content        string
	attrs          map[string]string
	scrollOffset   int
	scrollExtent   int
	extentPinned   bool
	viewport       int
	lastUserScroll time.Time
	detached       bool
}

// PanelOption configures a Panel at construction.
type PanelOption func(*Panel)

// WithViewportHeight sets the visible height in pixels.
func WithViewportHeight(px int) PanelOption {
	return func(p *Panel) { p.viewport = px }
}

// WithClass sets the container element class attribute.
func WithClass(class string) PanelOption {
	return func(p *Panel) { p.attrs["class"] = class }
}

// WithAttribute sets an arbitrary container element attribute.
func WithAttribute(key, value string) PanelOption {
	return func(p *Panel) { p.attrs[key] = value }
}

// NewPanel creates a panel with the given ID.
func NewPanel(id string, opts ...PanelOption) *Panel {
	p := &Panel{
		id:       id,
		attrs:    map[string]string{"class": "dashboard-panel"},
		viewport: 400,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.scrollExtent = p.viewport
	return p
}

// ID returns the container key.
func (p *Panel) ID() string { return p.id }

// Content returns the serialized markup.
func (p *Panel) Content() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.content
}

// SetContent replaces the markup and rederives the scroll extent unless it
// has been pinned by PinScrollExtent.
func (p *Panel) SetContent(markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = markup
	if !p.extentPinned {
		extent := CountDirectChildren(markup) * defaultItemHeight
		if extent < p.viewport {
			extent = p.viewport
		}
		p.scrollExtent = extent
	}
	max := p.scrollExtent - p.viewport
	if max < 0 {
		max = 0
	}
	if p.scrollOffset > max {
		p.scrollOffset = max
	}
}

// NodeCount counts element and text nodes in the current markup.
func (p *Panel) NodeCount() int {
	return CountNodes(p.Content())
}

// ScrollOffset returns the current scroll position.
func (p *Panel) ScrollOffset() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scrollOffset
}

// SetScrollOffset moves the scroll position without marking user activity.
func (p *Panel) SetScrollOffset(px int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollOffset = px
}

// UserScroll records a user-initiated scroll to the given offset.
func (p *Panel) UserScroll(px int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollOffset = px
	p.lastUserScroll = time.Now()
}

// ScrollExtent returns the total scrollable height.
func (p *Panel) ScrollExtent() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scrollExtent
}

// PinScrollExtent fixes the scroll extent, disabling derivation from
// content. Used to simulate layout anomalies.
func (p *Panel) PinScrollExtent(px int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollExtent = px
	p.extentPinned = true
}

// ViewportHeight returns the visible height.
func (p *Panel) ViewportHeight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.viewport
}

// Attributes returns a copy of the element attributes.
func (p *Panel) Attributes() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	attrs := make(map[string]string, len(p.attrs))
	for k, v := range p.attrs {
		attrs[k] = v
	}
	return attrs
}

// LastUserScroll returns the time of the most recent user scroll.
func (p *Panel) LastUserScroll() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUserScroll
}

// Exists reports whether the panel is still attached.
func (p *Panel) Exists() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.detached
}

// Detach simulates the underlying element vanishing from the document.
func (p *Panel) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
}

// LoadDocument parses markup into a goquery document for inspection.
func LoadDocument(markup string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(markup))
}

// CountNodes counts element nodes plus non-whitespace text nodes in the
// markup via full subtree traversal.
func CountNodes(markup string) int {
	if strings.TrimSpace(markup) == "" {
		return 0
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return 0
	}
	body := findBody(root)
	if body == nil {
		return 0
	}
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.ElementNode:
				count++
			case html.TextNode:
				if strings.TrimSpace(c.Data) != "" {
					count++
				}
			}
			walk(c)
		}
	}
	walk(body)
	return count
}

// CountDirectChildren counts the top-level element children of the markup.
func CountDirectChildren(markup string) int {
	if strings.TrimSpace(markup) == "" {
		return 0
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return 0
	}
	body := findBody(root)
	if body == nil {
		return 0
	}
	count := 0
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			count++
		}
	}
	return count
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if body := findBody(c); body != nil {
			return body
		}
	}
	return nil
}
