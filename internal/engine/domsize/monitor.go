// Package domsize tracks per-container node counts against configured
// limits and classifies growth, with a periodic sweep that triggers
// emergency cleanup before a runaway panel can exhaust memory.
package domsize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/errlog"
	"github.com/wpperf/dashkeeper/internal/infrastructure/logging"
)

// Status classifies a container's size relative to its limit.
type Status string

const (
	StatusNormal    Status = "normal"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
	StatusEmergency Status = "emergency"
)

const (
	// DefaultLimit is the node-count limit applied to untracked containers.
	DefaultLimit = 1000

	// DefaultSweepInterval is how often the periodic sweep runs.
	DefaultSweepInterval = 30 * time.Second
)

// Thresholds are the status boundaries as fractions of the limit. These
// are tunables with conventional defaults, not load-bearing constants.
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

// DefaultThresholds returns the conventional 80%/100%/120% boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.8, Critical: 1.0, Emergency: 1.2}
}

// Result is one size measurement.
type Result struct {
	ContainerID string    `json:"container_id"`
	NodeCount   int       `json:"node_count"`
	Limit       int       `json:"limit"`
	Percent     float64   `json:"percent_of_limit"`
	Status      Status    `json:"status"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Monitor measures container sizes and runs the periodic sweep.
type Monitor struct {
	mu           sync.Mutex
	limits       map[string]int
	defaultLimit int
	thresholds   Thresholds

	registry    *container.Registry
	log         *errlog.Log
	logger      *logging.Logger
	onEmergency func(container.Container)

	sweepInterval time.Duration
	cancel        context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDefaultLimit overrides the default node-count limit.
func WithDefaultLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.defaultLimit = n
		}
	}
}

// WithThresholds overrides the status boundaries.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithSweepInterval overrides the periodic sweep interval.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithEmergencyHandler sets the callback invoked when a sweep finds a
// container in emergency state.
func WithEmergencyHandler(fn func(container.Container)) Option {
	return func(m *Monitor) { m.onEmergency = fn }
}

// NewMonitor creates a size monitor over the registry.
func NewMonitor(registry *container.Registry, log *errlog.Log, logger *logging.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		limits:        make(map[string]int),
		defaultLimit:  DefaultLimit,
		thresholds:    DefaultThresholds(),
		registry:      registry,
		log:           log,
		logger:        logger,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLimit configures a container's node-count limit.
func (m *Monitor) SetLimit(containerID string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 {
		m.limits[containerID] = limit
	} else {
		delete(m.limits, containerID)
	}
}

// Limit returns the effective limit for a container.
func (m *Monitor) Limit(containerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit, ok := m.limits[containerID]; ok {
		return limit
	}
	return m.defaultLimit
}

// Check measures a single container.
func (m *Monitor) Check(containerID string) (Result, error) {
	c, ok := m.registry.Get(containerID)
	if !ok || !c.Exists() {
		return Result{}, fmt.Errorf("container %q not found", containerID)
	}
	return m.measure(c), nil
}

// CheckAll measures every registered container.
func (m *Monitor) CheckAll() []Result {
	ids := m.registry.IDs()
	results := make([]Result, 0, len(ids))
	for _, cid := range ids {
		if c, ok := m.registry.Get(cid); ok && c.Exists() {
			results = append(results, m.measure(c))
		}
	}
	return results
}

func (m *Monitor) measure(c container.Container) Result {
	limit := m.Limit(c.ID())
	count := c.NodeCount()
	pct := 0.0
	if limit > 0 {
		pct = float64(count) / float64(limit) * 100
	}
	return Result{
		ContainerID: c.ID(),
		NodeCount:   count,
		Limit:       limit,
		Percent:     pct,
		Status:      m.classify(count, limit),
		CheckedAt:   time.Now(),
	}
}

func (m *Monitor) classify(count, limit int) Status {
	if limit <= 0 {
		return StatusNormal
	}
	ratio := float64(count) / float64(limit)
	switch {
	case ratio > m.thresholds.Emergency:
		return StatusEmergency
	case ratio >= m.thresholds.Critical:
		return StatusCritical
	case ratio >= m.thresholds.Warning:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// Start launches the periodic sweep. Stop with Stop or by cancelling ctx.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancel = cancel
	interval := m.sweepInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop halts the periodic sweep.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Sweep measures all containers and fires the emergency handler for any in
// emergency state. Returns the measurements.
func (m *Monitor) Sweep() []Result {
	results := m.CheckAll()
	for _, r := range results {
		switch r.Status {
		case StatusEmergency:
			m.log.Record(errlog.EventEmergencyCleanup, r.ContainerID,
				"emergency DOM size reached", map[string]any{
					"nodes": r.NodeCount, "limit": r.Limit,
				})
			if c, ok := m.registry.Get(r.ContainerID); ok && m.onEmergency != nil {
				m.onEmergency(c)
			}
		case StatusCritical, StatusWarning:
			m.logger.Warn("container size elevated",
				zap.String("container", r.ContainerID),
				zap.Int("nodes", r.NodeCount),
				zap.Int("limit", r.Limit),
				zap.String("status", string(r.Status)))
		}
	}
	return results
}
