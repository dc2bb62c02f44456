package corruption

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
)

func testCfg() config.CorruptionConfig {
	return config.Default().Corruption
}

func panelWith(t *testing.T, markup string) *container.Panel {
	t.Helper()
	p := container.NewPanel("panel")
	p.SetContent(markup)
	return p
}

func uniqueItems(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<li>query number %d took some time</li>", i)
	}
	return b.String()
}

func TestDetectCleanContainer(t *testing.T) {
	d := NewDetector(testCfg())
	p := panelWith(t, uniqueItems(5))

	report := d.Detect(p, 1000)
	assert.False(t, report.Corrupted)
	assert.Equal(t, SeverityNone, report.Severity)
	assert.Empty(t, report.Reasons)
}

func TestDetectDisabled(t *testing.T) {
	d := NewDetector(testCfg())
	d.SetEnabled(false)
	require.False(t, d.Enabled())

	// A blatantly corrupt container reports clean while disabled.
	p := panelWith(t, "<div>truncated<")
	report := d.Detect(p, 1000)
	assert.False(t, report.Corrupted)

	d.SetEnabled(true)
	report = d.Detect(p, 1000)
	assert.True(t, report.Corrupted)
}

func TestCheckOversize(t *testing.T) {
	cfg := testCfg() // factor 2.0
	p := panelWith(t, uniqueItems(30)) // 60 nodes

	s := &State{NodeCount: p.NodeCount(), NodeLimit: 20}
	reason, fired := CheckOversize(s, cfg)
	assert.True(t, fired)
	assert.Contains(t, reason, "excessive DOM size")

	// At or under 2x the limit it stays quiet.
	s = &State{NodeCount: 40, NodeLimit: 20}
	_, fired = CheckOversize(s, cfg)
	assert.False(t, fired)

	// No limit, no opinion.
	s = &State{NodeCount: 100000, NodeLimit: 0}
	_, fired = CheckOversize(s, cfg)
	assert.False(t, fired)
}

func TestCheckDuplicateContent(t *testing.T) {
	d := NewDetector(testCfg())

	// 12 items, 6 of them the same repeated row: 50% share content.
	var b strings.Builder
	b.WriteString(uniqueItems(6))
	for i := 0; i < 6; i++ {
		b.WriteString("<li>SELECT * FROM wp_options WHERE autoload</li>")
	}
	p := panelWith(t, b.String())

	report := d.Detect(p, 1000)
	require.True(t, report.Corrupted)
	joined := strings.Join(report.Reasons, "; ")
	assert.Contains(t, joined, "duplicate content")
}

func TestCheckDuplicateContentCountsGroupMembers(t *testing.T) {
	d := NewDetector(testCfg()) // ratio 0.2

	// 3 of 12 items identical: 25% of the items share content, which
	// clears the 20% threshold even though only 2 are extra copies.
	var b strings.Builder
	b.WriteString(uniqueItems(9))
	for i := 0; i < 3; i++ {
		b.WriteString("<li>SELECT option_value FROM wp_options</li>")
	}
	report := d.Detect(panelWith(t, b.String()), 1000)
	require.True(t, report.Corrupted)
	assert.Contains(t, strings.Join(report.Reasons, "; "), "duplicate content")

	// 2 of 12: under the threshold, still healthy.
	b.Reset()
	b.WriteString(uniqueItems(10))
	for i := 0; i < 2; i++ {
		b.WriteString("<li>SELECT option_value FROM wp_options</li>")
	}
	report = d.Detect(panelWith(t, b.String()), 1000)
	assert.False(t, report.Corrupted)
}

func TestCheckDuplicateContentBelowMinimum(t *testing.T) {
	d := NewDetector(testCfg()) // min 10 items

	// Heavy duplication but only 6 items total: too few to judge.
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteString("<li>the same row every time</li>")
	}
	report := d.Detect(panelWith(t, b.String()), 1000)
	assert.False(t, report.Corrupted)
}

func TestCheckMalformedMarkup(t *testing.T) {
	cfg := testCfg()

	_, fired := CheckMalformedMarkup(&State{Content: "<div>ok</div>"}, cfg)
	assert.False(t, fired)

	// Balanced brackets pass even when tags mismatch.
	_, fired = CheckMalformedMarkup(&State{Content: "<div><span>broken</div>"}, cfg)
	assert.False(t, fired)

	reason, fired := CheckMalformedMarkup(&State{Content: "<div>truncated<"}, cfg)
	assert.True(t, fired)
	assert.Contains(t, reason, "malformed structure")
}

func TestCheckLeakSignatures(t *testing.T) {
	d := NewDetector(testCfg()) // ratio 0.6, min 20 elements

	// 25 elements, every one carrying an inline handler.
	var b strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, `<div onclick="track(%d)">row %d</div>`, i, i)
	}
	report := d.Detect(panelWith(t, b.String()), 1000)
	require.True(t, report.Corrupted)
	assert.Contains(t, strings.Join(report.Reasons, "; "), "leak signatures")

	// Below the element minimum the heuristic withholds judgment.
	report = d.Detect(panelWith(t, `<div style="color:red">only</div>`), 1000)
	assert.False(t, report.Corrupted)
}

func TestCheckScrollAnomaly(t *testing.T) {
	cfg := testCfg() // overshoot 10px, extent factor 50

	// Offset past max plus tolerance.
	s := &State{ScrollOffset: 520, ScrollExtent: 500, Viewport: 100}
	reason, fired := CheckScrollAnomaly(s, cfg)
	require.True(t, fired)
	assert.Contains(t, reason, "exceeds max")

	// Within overshoot tolerance.
	s = &State{ScrollOffset: 405, ScrollExtent: 500, Viewport: 100}
	_, fired = CheckScrollAnomaly(s, cfg)
	assert.False(t, fired)

	// Implausible extent.
	s = &State{ScrollOffset: 0, ScrollExtent: 100 * 51, Viewport: 100}
	reason, fired = CheckScrollAnomaly(s, cfg)
	require.True(t, fired)
	assert.Contains(t, reason, "viewport")
}

func TestSeverityEscalatesWithReasonCount(t *testing.T) {
	d := NewDetector(testCfg()) // critical above 2 reasons

	// One reason: moderate.
	p := panelWith(t, "<div>truncated<")
	report := d.Detect(p, 1000)
	require.True(t, report.Corrupted)
	assert.Equal(t, SeverityModerate, report.Severity)

	// Three reasons: oversize + malformed + scroll overshoot.
	p = panelWith(t, uniqueItems(30)+"<")
	p.PinScrollExtent(200)
	p.SetScrollOffset(10_000)
	report = d.Detect(p, 10)
	require.True(t, report.Corrupted)
	assert.GreaterOrEqual(t, len(report.Reasons), 3)
	assert.Equal(t, SeverityCritical, report.Severity)
}

func TestAddCheck(t *testing.T) {
	d := NewDetector(testCfg())
	d.AddCheck(func(s *State, cfg config.CorruptionConfig) (string, bool) {
		if strings.Contains(s.Content, "FORBIDDEN") {
			return "forbidden marker present", true
		}
		return "", false
	})

	report := d.Detect(panelWith(t, "<div>FORBIDDEN</div>"), 1000)
	require.True(t, report.Corrupted)
	assert.Contains(t, report.Reasons, "forbidden marker present")
}
