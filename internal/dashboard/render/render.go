// Package render turns monitoring API payloads into panel markup. Each
// renderer is an update function for the engine: it receives the payload,
// writes the panel's content, and reports how many items it rendered.
package render

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/cleanup"
	"github.com/wpperf/dashkeeper/internal/fetch"
)

// Well-known panel container IDs.
const (
	PanelSlowQueries  = "slowQueries"
	PanelPlugins      = "pluginPerformance"
	PanelMetricsChart = "metricsChart"
	PanelAdminAjax    = "adminAjax"
	PanelSystemHealth = "systemHealth"
)

// PanelIDs lists every panel the dashboard renders, in display order.
func PanelIDs() []string {
	return []string{
		PanelMetricsChart,
		PanelSlowQueries,
		PanelPlugins,
		PanelAdminAjax,
		PanelSystemHealth,
	}
}

// Renderer builds panel markup and registers the chart handles it creates.
type Renderer struct {
	charts *cleanup.ChartRegistry
}

// New creates a renderer registering chart handles with the given
// registry.
func New(charts *cleanup.ChartRegistry) *Renderer {
	return &Renderer{charts: charts}
}

type wrongPayloadError struct {
	panel string
	got   any
}

func (e *wrongPayloadError) Error() string {
	return fmt.Sprintf("panel %s: unexpected payload type %T", e.panel, e.got)
}

// SlowQueries renders the slow-query table. An empty payload renders the
// quiet-state notice instead of an empty table.
func (r *Renderer) SlowQueries(_ context.Context, c container.Container, data any) (any, error) {
	queries, ok := data.([]fetch.SlowQuery)
	if !ok {
		return nil, &wrongPayloadError{panel: PanelSlowQueries, got: data}
	}

	if len(queries) == 0 {
		c.SetContent(`<div class="panel-empty">No slow queries detected</div>`)
		return 0, nil
	}

	var b strings.Builder
	b.WriteString(`<div class="panel-title">Slow Queries</div>`)
	b.WriteString(`<table class="query-table"><thead><tr>` +
		`<th>Query</th><th>Time</th><th>Rows</th><th>Source</th>` +
		`</tr></thead><tbody>`)
	for _, q := range queries {
		fmt.Fprintf(&b,
			`<tr class="query-item"><td><code>%s</code></td><td>%.1fms</td><td>%d</td><td>%s</td></tr>`,
			html.EscapeString(truncate(q.QueryText, 120)),
			q.ExecutionTime*1000,
			q.RowsExamined,
			html.EscapeString(q.SourceFile))
	}
	b.WriteString(`</tbody></table>`)
	c.SetContent(b.String())
	return len(queries), nil
}

// Plugins renders per-plugin performance impact, slowest first.
func (r *Renderer) Plugins(_ context.Context, c container.Container, data any) (any, error) {
	plugins, ok := data.([]fetch.PluginImpact)
	if !ok {
		return nil, &wrongPayloadError{panel: PanelPlugins, got: data}
	}

	if len(plugins) == 0 {
		c.SetContent(`<div class="panel-empty">No plugin data available</div>`)
		return 0, nil
	}

	var b strings.Builder
	b.WriteString(`<div class="panel-title">Plugin Performance</div><ul class="plugin-list">`)
	for _, p := range plugins {
		fmt.Fprintf(&b,
			`<li class="plugin-item"><span class="plugin-name">%s</span>`+
				`<span class="plugin-impact">score %.1f</span>`+
				`<span class="plugin-load">%.0fms</span>`+
				`<span class="plugin-queries">%d queries</span></li>`,
			html.EscapeString(p.PluginName),
			p.ImpactScore,
			p.LoadTime,
			p.QueryCount)
	}
	b.WriteString(`</ul>`)
	c.SetContent(b.String())
	return len(plugins), nil
}

// MetricsChart renders the latest headline metrics and a chart canvas fed
// by the response-time series, and registers the chart handle so cleanup
// can destroy it before the next update.
func (r *Renderer) MetricsChart(_ context.Context, c container.Container, data any) (any, error) {
	series, ok := data.([]fetch.MetricSample)
	if !ok {
		return nil, &wrongPayloadError{panel: PanelMetricsChart, got: data}
	}

	if len(series) == 0 {
		c.SetContent(`<div class="panel-empty">No metrics collected yet</div>`)
		return 0, nil
	}

	latest := series[len(series)-1]
	var b strings.Builder
	b.WriteString(`<div class="panel-title">Performance Metrics</div>`)
	fmt.Fprintf(&b, `<div class="metric-row"><span class="metric-label">Avg response time</span><span class="metric-value">%.0fms</span></div>`, latest.AvgResponseTime)
	fmt.Fprintf(&b, `<div class="metric-row"><span class="metric-label">Queries/sec</span><span class="metric-value">%.1f</span></div>`, latest.QueriesPerSecond)
	fmt.Fprintf(&b, `<div class="metric-row"><span class="metric-label">Memory</span><span class="metric-value">%.1f MB</span></div>`, latest.MemoryUsage)
	fmt.Fprintf(&b, `<div class="metric-row"><span class="metric-label">Cache hit ratio</span><span class="metric-value">%.0f%%</span></div>`, latest.CacheHitRatio*100)
	b.WriteString(`<canvas class="metrics-canvas" width="600" height="200"></canvas>`)
	c.SetContent(b.String())

	points := make([]float64, 0, len(series))
	for _, s := range series {
		points = append(points, s.AvgResponseTime)
	}
	chart := NewChart(c.ID(), points)
	r.charts.Register(chart)
	return chart, nil
}

// AdminAjax renders aggregated admin-ajax.php traffic.
func (r *Renderer) AdminAjax(_ context.Context, c container.Container, data any) (any, error) {
	actions, ok := data.([]fetch.AjaxAction)
	if !ok {
		return nil, &wrongPayloadError{panel: PanelAdminAjax, got: data}
	}

	if len(actions) == 0 {
		c.SetContent(`<div class="panel-empty">No admin-ajax activity</div>`)
		return 0, nil
	}

	var b strings.Builder
	b.WriteString(`<div class="panel-title">Admin AJAX Activity</div><ul class="ajax-list">`)
	for _, a := range actions {
		fmt.Fprintf(&b,
			`<li class="ajax-item"><span class="ajax-action">%s</span>`+
				`<span class="ajax-calls">%d calls</span></li>`,
			html.EscapeString(a.ActionName),
			a.CallCount)
	}
	b.WriteString(`</ul>`)
	c.SetContent(b.String())
	return len(actions), nil
}

// SystemHealth renders the health summary with an overall status badge.
func (r *Renderer) SystemHealth(_ context.Context, c container.Container, data any) (any, error) {
	h, ok := data.(*fetch.SystemHealth)
	if !ok {
		return nil, &wrongPayloadError{panel: PanelSystemHealth, got: data}
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<div class="panel-title">System Health <span class="health-badge %s">%s</span></div>`,
		html.EscapeString(h.Status), html.EscapeString(h.Status))
	fmt.Fprintf(&b, `<div class="health-versions">PHP %s · WordPress %s</div>`,
		html.EscapeString(h.PHPVersion), html.EscapeString(h.WordPress))
	b.WriteString(`<ul class="health-list">`)
	fmt.Fprintf(&b, `<li class="health-item"><span>Database</span><span>%s</span></li>`,
		html.EscapeString(h.DatabaseStatus))
	fmt.Fprintf(&b, `<li class="health-item"><span>Memory usage</span><span>%.0f%%</span></li>`, h.MemoryUsage)
	fmt.Fprintf(&b, `<li class="health-item"><span>Disk usage</span><span>%.0f%%</span></li>`, h.DiskUsage)
	b.WriteString(`</ul>`)
	c.SetContent(b.String())
	return 3, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back the cut up to a rune boundary so multibyte text stays valid.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
