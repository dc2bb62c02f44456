// Package dashboard composes the data source, the renderers, and the
// update engine into the running dashboard: it owns the panels, the poll
// loop, and the refresh path used after a panel is recreated.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/dashboard/render"
	"github.com/wpperf/dashkeeper/internal/engine/lockmgr"
	"github.com/wpperf/dashkeeper/internal/engine/manager"
	"github.com/wpperf/dashkeeper/internal/fetch"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
	"github.com/wpperf/dashkeeper/internal/infrastructure/logging"
)

// Dashboard drives periodic panel refreshes from the monitoring API.
type Dashboard struct {
	cfg      *config.Config
	source   *fetch.Client
	renderer *render.Renderer
	engine   *manager.Manager
	registry *container.Registry
	logger   *logging.Logger
}

// New wires a dashboard, registers its panels, and installs the refresh
// path for recreated panels.
func New(cfg *config.Config, source *fetch.Client, engine *manager.Manager, registry *container.Registry, logger *logging.Logger) *Dashboard {
	d := &Dashboard{
		cfg:      cfg,
		source:   source,
		renderer: render.New(engine.Charts()),
		engine:   engine,
		registry: registry,
		logger:   logger.Named("dashboard"),
	}
	d.registerPanels()
	engine.SetRefreshFunc(d.refreshAfterRecreation)
	return d
}

// registerPanels creates the panel containers and tunes per-panel throttle
// windows: list panels refresh slower than the numeric metrics panel.
func (d *Dashboard) registerPanels() {
	for _, pid := range render.PanelIDs() {
		d.registry.Register(container.NewPanel(pid))
	}

	eng := d.cfg.Engine
	d.engine.SetContainerThrottleDelay(render.PanelMetricsChart, eng.NumericThrottle)
	d.engine.SetContainerThrottleDelay(render.PanelSlowQueries, eng.ListThrottle)
	d.engine.SetContainerThrottleDelay(render.PanelPlugins, eng.ListThrottle)
	d.engine.SetContainerThrottleDelay(render.PanelAdminAjax, eng.ListThrottle)

	// Slow-query tables accumulate the fastest; give them headroom below
	// the global default before cleanup has to step in.
	d.engine.SetContainerLimit(render.PanelSlowQueries, eng.DefaultNodeLimit/2)
}

// updateFor returns the renderer for a panel ID.
func (d *Dashboard) updateFor(panelID string) (manager.UpdateFunc, bool) {
	switch panelID {
	case render.PanelSlowQueries:
		return d.renderer.SlowQueries, true
	case render.PanelPlugins:
		return d.renderer.Plugins, true
	case render.PanelMetricsChart:
		return d.renderer.MetricsChart, true
	case render.PanelAdminAjax:
		return d.renderer.AdminAjax, true
	case render.PanelSystemHealth:
		return d.renderer.SystemHealth, true
	}
	return nil, false
}

// fetchFor fetches the payload backing a panel.
func (d *Dashboard) fetchFor(ctx context.Context, panelID string) (any, error) {
	switch panelID {
	case render.PanelSlowQueries:
		return d.source.SlowQueries(ctx)
	case render.PanelPlugins:
		return d.source.Plugins(ctx)
	case render.PanelMetricsChart:
		return d.source.Metrics(ctx)
	case render.PanelAdminAjax:
		return d.source.AjaxCalls(ctx)
	case render.PanelSystemHealth:
		return d.source.SystemHealth(ctx)
	}
	return nil, fmt.Errorf("unknown panel %q", panelID)
}

// RefreshAll fetches every payload and pushes all panels through the
// engine as one coordinated batch. Individual panel failures are
// suppressed so one bad feed cannot abort the cycle.
func (d *Dashboard) RefreshAll(ctx context.Context) []manager.BatchResult {
	opts := manager.DefaultOptions()
	opts.SuppressErrors = true

	var reqs []manager.Request
	for _, pid := range render.PanelIDs() {
		update, _ := d.updateFor(pid)
		data, err := d.fetchFor(ctx, pid)
		if err != nil {
			d.logger.Warn("panel feed unavailable",
				zap.String("panel", pid), zap.Error(err))
			continue
		}
		reqs = append(reqs, manager.Request{
			ContainerID: pid,
			Update:      update,
			Data:        data,
			Options:     opts,
		})
	}

	results, err := d.engine.CoordinateUpdates(ctx, reqs, manager.CoordinateOptions{})
	if err != nil {
		d.logger.Warn("refresh cycle incomplete", zap.Error(err))
	}
	return results
}

// RefreshPanel fetches and re-renders a single panel at high priority,
// bypassing its throttle window.
func (d *Dashboard) RefreshPanel(ctx context.Context, panelID string) error {
	update, ok := d.updateFor(panelID)
	if !ok {
		return fmt.Errorf("unknown panel %q", panelID)
	}
	data, err := d.fetchFor(ctx, panelID)
	if err != nil {
		return err
	}

	opts := manager.DefaultOptions()
	opts.Priority = lockmgr.PriorityHigh
	opts.BypassThrottle = true
	_, err = d.engine.UpdateContainer(ctx, panelID, update, data, opts)
	return err
}

// refreshAfterRecreation repopulates a recreated panel. Runs off the
// engine's refresh timer, so it gets its own deadline.
func (d *Dashboard) refreshAfterRecreation(panelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Source.Timeout)
	defer cancel()
	if err := d.RefreshPanel(ctx, panelID); err != nil {
		d.logger.Warn("post-recreation refresh failed",
			zap.String("panel", panelID), zap.Error(err))
	}
}

// DemoStatus reports whether the source is serving synthetic data.
func (d *Dashboard) DemoStatus(ctx context.Context) (*fetch.DemoStatus, error) {
	return d.source.DemoStatus(ctx)
}

// TriggerDemoRefresh regenerates the source's demo dataset and then
// refreshes all panels.
func (d *Dashboard) TriggerDemoRefresh(ctx context.Context) error {
	if err := d.source.TriggerDemoRefresh(ctx); err != nil {
		return err
	}
	d.RefreshAll(ctx)
	return nil
}

// Run drives the poll loop until the context is cancelled. The size
// monitor's periodic sweep starts and stops with the loop.
func (d *Dashboard) Run(ctx context.Context) {
	d.engine.SizeMonitor().Start(ctx)
	defer d.engine.SizeMonitor().Stop()

	d.logger.Info("dashboard poll loop started",
		zap.Duration("interval", d.cfg.Source.PollInterval),
		zap.Int("panels", len(render.PanelIDs())))

	d.RefreshAll(ctx)
	ticker := time.NewTicker(d.cfg.Source.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dashboard poll loop stopped")
			return
		case <-ticker.C:
			d.RefreshAll(ctx)
		}
	}
}
