// Package corruption heuristically inspects containers for invalid or
// degraded state: runaway size, duplicated items, malformed markup, leak
// signatures, and scroll anomalies. Each heuristic is an independent Check
// so new ones can be added without touching the orchestrator.
package corruption

import (
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/cleanup"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
)

// Severity classifies a corruption report.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// Report is the ephemeral result of inspecting a container.
type Report struct {
	Corrupted bool     `json:"corrupted"`
	Reasons   []string `json:"reasons,omitempty"`
	Severity  Severity `json:"severity"`
}

// State is the container evidence handed to each check. The markup is
// parsed once and shared.
type State struct {
	ContainerID  string
	Content      string
	NodeCount    int
	NodeLimit    int
	ScrollOffset int
	ScrollExtent int
	Viewport     int

	root *html.Node
}

// Root returns the parsed markup, or nil when parsing failed.
func (s *State) Root() *html.Node { return s.root }

// Check is one heuristic: it inspects the state and reports whether it
// fired, with a human-readable reason.
type Check func(s *State, cfg config.CorruptionConfig) (reason string, fired bool)

// itemXPath selects the item-like children considered by the duplicate
// heuristic.
const itemXPath = `//li | //tr | //*[contains(@class, "item")]`

// Detector runs the configured checks over a container.
type Detector struct {
	mu      sync.RWMutex
	cfg     config.CorruptionConfig
	checks  []Check
	enabled bool
}

// NewDetector creates a detector with the default heuristic set.
func NewDetector(cfg config.CorruptionConfig) *Detector {
	return &Detector{
		cfg:     cfg,
		enabled: cfg.Enabled,
		checks: []Check{
			CheckOversize,
			CheckDuplicateContent,
			CheckMalformedMarkup,
			CheckLeakSignatures,
			CheckScrollAnomaly,
		},
	}
}

// AddCheck registers an additional heuristic.
func (d *Detector) AddCheck(c Check) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks = append(d.checks, c)
}

// SetEnabled toggles detection globally. While disabled, Detect reports
// everything clean.
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Enabled reports whether detection is active.
func (d *Detector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// Detect inspects the container against its node limit.
func (d *Detector) Detect(c container.Container, nodeLimit int) Report {
	d.mu.RLock()
	enabled := d.enabled
	cfg := d.cfg
	checks := make([]Check, len(d.checks))
	copy(checks, d.checks)
	d.mu.RUnlock()

	if !enabled {
		return Report{Severity: SeverityNone}
	}

	content := c.Content()
	state := &State{
		ContainerID:  c.ID(),
		Content:      content,
		NodeCount:    c.NodeCount(),
		NodeLimit:    nodeLimit,
		ScrollOffset: c.ScrollOffset(),
		ScrollExtent: c.ScrollExtent(),
		Viewport:     c.ViewportHeight(),
	}
	if root, err := htmlquery.Parse(strings.NewReader(content)); err == nil {
		state.root = root
	}

	var reasons []string
	for _, check := range checks {
		if reason, fired := check(state, cfg); fired {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) == 0 {
		return Report{Severity: SeverityNone}
	}
	severity := SeverityModerate
	if len(reasons) > cfg.CriticalReasons {
		severity = SeverityCritical
	}
	return Report{Corrupted: true, Reasons: reasons, Severity: severity}
}

// CheckOversize fires when the node count exceeds the configured multiple
// of the container's limit.
func CheckOversize(s *State, cfg config.CorruptionConfig) (string, bool) {
	if s.NodeLimit <= 0 {
		return "", false
	}
	threshold := int(cfg.OversizeFactor * float64(s.NodeLimit))
	if s.NodeCount > threshold {
		return fmt.Sprintf("excessive DOM size: %d nodes exceeds %d", s.NodeCount, threshold), true
	}
	return "", false
}

// CheckDuplicateContent fires when too many item-like children share an
// identical text-content prefix.
func CheckDuplicateContent(s *State, cfg config.CorruptionConfig) (string, bool) {
	if s.root == nil {
		return "", false
	}
	items := htmlquery.Find(s.root, itemXPath)
	if len(items) < cfg.MinItemsForDup {
		return "", false
	}

	seen := make(map[string]int)
	for _, item := range items {
		key := cleanup.TextPrefix(htmlquery.InnerText(item))
		if key != "" {
			seen[key]++
		}
	}
	// Every member of a repeated group counts, so "3 of 12 identical"
	// reads as 25% sharing content, not 17% extra copies.
	duplicates := 0
	for _, n := range seen {
		if n > 1 {
			duplicates += n
		}
	}

	ratio := float64(duplicates) / float64(len(items))
	if ratio > cfg.DuplicateRatio {
		return fmt.Sprintf("duplicate content: %.0f%% of %d items repeated", ratio*100, len(items)), true
	}
	return "", false
}

// CheckMalformedMarkup fires on a mismatched count of angle brackets in the
// serialized content, a cheap well-formedness heuristic.
func CheckMalformedMarkup(s *State, cfg config.CorruptionConfig) (string, bool) {
	open := strings.Count(s.Content, "<")
	close := strings.Count(s.Content, ">")
	if open != close {
		return fmt.Sprintf("malformed structure: %d '<' vs %d '>'", open, close), true
	}
	return "", false
}

// CheckLeakSignatures fires when too large a share of elements carry
// inline event handlers, inline styles, or tracking data-attributes.
func CheckLeakSignatures(s *State, cfg config.CorruptionConfig) (string, bool) {
	if s.root == nil {
		return "", false
	}

	total, leaky := 0, 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				total++
				if hasLeakAttrs(c) {
					leaky++
				}
			}
			walk(c)
		}
	}
	walk(s.root)

	if total < cfg.MinElemsForLeak {
		return "", false
	}
	ratio := float64(leaky) / float64(total)
	if ratio > cfg.LeakRatio {
		return fmt.Sprintf("leak signatures: %d of %d elements carry inline handlers/styles", leaky, total), true
	}
	return "", false
}

// CheckScrollAnomaly fires when the scroll offset overshoots its maximum
// or the extent is implausibly large relative to the viewport.
func CheckScrollAnomaly(s *State, cfg config.CorruptionConfig) (string, bool) {
	maxOffset := s.ScrollExtent - s.Viewport
	if maxOffset < 0 {
		maxOffset = 0
	}
	if s.ScrollOffset > maxOffset+cfg.ScrollOvershootPx {
		return fmt.Sprintf("scroll anomaly: offset %dpx exceeds max %dpx", s.ScrollOffset, maxOffset), true
	}
	if s.Viewport > 0 && float64(s.ScrollExtent) > cfg.ExtentFactor*float64(s.Viewport) {
		return fmt.Sprintf("scroll anomaly: extent %dpx exceeds %.0fx viewport", s.ScrollExtent, cfg.ExtentFactor), true
	}
	return "", false
}

func hasLeakAttrs(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch {
		case strings.HasPrefix(attr.Key, "on"):
			return true
		case attr.Key == "style":
			return true
		case strings.HasPrefix(attr.Key, "data-track"):
			return true
		}
	}
	return false
}
