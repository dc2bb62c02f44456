// Package http exposes the dashboard's status and control API: engine
// state, health, the recovery event log, and manual recovery actions.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wpperf/dashkeeper/internal/dashboard"
	"github.com/wpperf/dashkeeper/internal/engine/manager"
)

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	engine *manager.Manager
	dash   *dashboard.Dashboard
}

// NewHandlers creates the handler set.
func NewHandlers(engine *manager.Manager, dash *dashboard.Dashboard) *Handlers {
	return &Handlers{engine: engine, dash: dash}
}

// Root returns service identification.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "dashkeeper",
		"status":  "running",
	})
}

// Health runs the engine health check. Degraded engines answer 503 so
// load balancer probes notice.
func (h *Handlers) Health(c *gin.Context) {
	report := h.engine.PerformHealthCheck()
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// Status returns the live state of every panel plus engine counters.
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetAllUpdateStatus())
}

// Errors returns the recovery event log, optionally filtered by event
// type and container.
func (h *Handlers) Errors(c *gin.Context) {
	entries := h.engine.GetErrorLog()
	eventType := c.Query("type")
	containerID := c.Query("container")
	if eventType != "" || containerID != "" {
		entries = h.engine.FilterErrorLog(eventType, containerID)
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// Recommendations returns suggested per-panel throttle adjustments based
// on observed update cadence.
func (h *Handlers) Recommendations(c *gin.Context) {
	recs := h.engine.RecommendedThrottles()
	out := make(map[string]string, len(recs))
	for id, d := range recs {
		out[id] = d.String()
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": out})
}

// RefreshAll forces a full refresh cycle immediately.
func (h *Handlers) RefreshAll(c *gin.Context) {
	results := h.dash.RefreshAll(c.Request.Context())
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"panels": len(results),
		"failed": failed,
	})
}

// RefreshPanel forces a single panel refresh at high priority.
func (h *Handlers) RefreshPanel(c *gin.Context) {
	panelID := c.Param("id")
	if err := h.dash.RefreshPanel(c.Request.Context(), panelID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"panel": panelID, "refreshed": true})
}

// RollbackPanel rolls a panel back to its live snapshot.
func (h *Handlers) RollbackPanel(c *gin.Context) {
	panelID := c.Param("id")
	recovered := h.engine.ForceRollback(panelID)
	c.JSON(http.StatusOK, gin.H{"panel": panelID, "recovered": recovered})
}

// RecreatePanel recreates a panel from scratch.
func (h *Handlers) RecreatePanel(c *gin.Context) {
	panelID := c.Param("id")
	if err := h.engine.ForceRecreation(panelID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"panel": panelID, "recreated": true})
}

// EmergencyStop engages the global emergency lock.
func (h *Handlers) EmergencyStop(c *gin.Context) {
	h.engine.EmergencyStop()
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// Resume lifts the emergency lock.
func (h *Handlers) Resume(c *gin.Context) {
	h.engine.ResumeOperations()
	c.JSON(http.StatusOK, gin.H{"stopped": false})
}

// DemoStatus reports whether the data source is in demo mode.
func (h *Handlers) DemoStatus(c *gin.Context) {
	status, err := h.dash.DemoStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// DemoRefresh regenerates the demo dataset and refreshes all panels.
func (h *Handlers) DemoRefresh(c *gin.Context) {
	if err := h.dash.TriggerDemoRefresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true})
}
