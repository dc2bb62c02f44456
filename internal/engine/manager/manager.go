// Package manager composes the update engine: throttling, locking,
// snapshots, corruption detection, size monitoring, cleanup, and the error
// log, behind a single UpdateContainer contract.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/cleanup"
	"github.com/wpperf/dashkeeper/internal/engine/corruption"
	"github.com/wpperf/dashkeeper/internal/engine/domsize"
	"github.com/wpperf/dashkeeper/internal/engine/errlog"
	"github.com/wpperf/dashkeeper/internal/engine/lockmgr"
	"github.com/wpperf/dashkeeper/internal/engine/snapshot"
	"github.com/wpperf/dashkeeper/internal/engine/throttle"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
	"github.com/wpperf/dashkeeper/internal/infrastructure/logging"
	"github.com/wpperf/dashkeeper/internal/infrastructure/monitoring"
)

// Manager is the content update orchestrator. Construct one per dashboard
// with New and share it by reference; it is safe for concurrent use.
type Manager struct {
	cfg config.EngineConfig

	registry  *container.Registry
	throttler *throttle.Throttler
	locks     *lockmgr.Coordinator
	queue     *lockmgr.Queue
	snapshots *snapshot.Engine
	detector  *corruption.Detector
	sizes     *domsize.Monitor
	charts    *cleanup.ChartRegistry
	cleaner   *cleanup.Cleaner
	preserver *container.ScrollPreserver
	log       *errlog.Log
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	perf      *monitoring.PerformanceMonitor

	emergency atomic.Bool

	mu             sync.Mutex
	throttleDelays map[string]time.Duration
	runMu          map[string]*sync.Mutex
	refreshFn      func(containerID string)
}

// New wires a complete update engine from configuration.
func New(cfg *config.Config, registry *container.Registry, log *errlog.Log, metrics *monitoring.Metrics, logger *logging.Logger) *Manager {
	m := &Manager{
		cfg:            cfg.Engine,
		registry:       registry,
		throttler:      throttle.New(),
		locks:          lockmgr.NewCoordinator(cfg.Engine.LockStaleAfter),
		queue:          lockmgr.NewQueue(cfg.Engine.QueueCap),
		detector:       corruption.NewDetector(cfg.Corruption),
		charts:         cleanup.NewChartRegistry(),
		preserver:      container.NewScrollPreserver(),
		log:            log,
		logger:         logger.Named("manager"),
		metrics:        metrics,
		perf:           monitoring.NewPerformanceMonitor(metrics),
		throttleDelays: make(map[string]time.Duration),
		runMu:          make(map[string]*sync.Mutex),
	}
	m.cleaner = cleanup.NewCleaner(m.charts)
	m.snapshots = snapshot.NewEngine(registry, m.cleaner, m.preserver, log, logger,
		snapshot.WithMaxAttempts(cfg.Engine.MaxRollbackAttempts),
		snapshot.WithTolerance(cfg.Engine.NodeCountTolerance),
		snapshot.WithRefreshDelay(cfg.Engine.RefreshDelay),
		snapshot.WithRefreshFunc(m.refreshContainer),
	)
	m.sizes = domsize.NewMonitor(registry, log, logger,
		domsize.WithDefaultLimit(cfg.Engine.DefaultNodeLimit),
		domsize.WithSweepInterval(cfg.Engine.SweepInterval),
		domsize.WithEmergencyHandler(func(c container.Container) {
			m.cleaner.EmergencyWipe(c)
		}),
	)
	return m
}

// Charts exposes the chart-handle registry so renderers can register the
// Renderables they create.
func (m *Manager) Charts() *cleanup.ChartRegistry { return m.charts }

// Detector exposes the corruption detector for custom checks and toggling.
func (m *Manager) Detector() *corruption.Detector { return m.detector }

// SizeMonitor exposes the DOM size monitor; call Start on it to enable the
// periodic sweep.
func (m *Manager) SizeMonitor() *domsize.Monitor { return m.sizes }

// Perf exposes the performance monitor.
func (m *Manager) Perf() *monitoring.PerformanceMonitor { return m.perf }

// SetRefreshFunc sets the callback used to re-fetch data for a recreated
// container.
func (m *Manager) SetRefreshFunc(fn func(containerID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshFn = fn
}

func (m *Manager) refreshContainer(containerID string) {
	m.mu.Lock()
	fn := m.refreshFn
	m.mu.Unlock()
	if fn != nil {
		fn(containerID)
	}
}

// SetContainerThrottleDelay overrides the throttle window for a container.
func (m *Manager) SetContainerThrottleDelay(containerID string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delay > 0 {
		m.throttleDelays[containerID] = delay
	} else {
		delete(m.throttleDelays, containerID)
	}
}

// ThrottleDelay returns the effective throttle window for a container.
func (m *Manager) ThrottleDelay(containerID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.throttleDelays[containerID]; ok {
		return d
	}
	return m.cfg.DefaultThrottle
}

// SetContainerLimit overrides the node-count limit for a container.
func (m *Manager) SetContainerLimit(containerID string, limit int) {
	m.sizes.SetLimit(containerID, limit)
}

// UpdateContainer runs an update through the full pipeline:
// throttle, lock, snapshot, corruption pre-check, size pre-check, scroll
// save, chart cleanup, execute, corruption post-check, scroll restore,
// metrics. Returns the update function's value, or nil when the error was
// suppressed or the pipeline short-circuited into recovery.
func (m *Manager) UpdateContainer(ctx context.Context, containerID string, fn UpdateFunc, data any, opts Options) (any, error) {
	if m.emergency.Load() && opts.Priority != lockmgr.PriorityCritical {
		err := fmt.Errorf("%w: update for %q rejected", ErrEmergencyStopped, containerID)
		return m.finish(opts, nil, err)
	}

	delay := m.ThrottleDelay(containerID)
	if opts.BypassThrottle || opts.Priority == lockmgr.PriorityCritical || delay <= 0 {
		v, err := m.executeLocked(ctx, containerID, fn, data, opts)
		return m.finish(opts, v, err)
	}

	v, err := m.throttler.Execute(ctx, containerID, delay, func() (any, error) {
		return m.executeLocked(ctx, containerID, fn, data, opts)
	})
	if errors.Is(err, throttle.ErrSuperseded) {
		m.metrics.ThrottledTotal.WithLabelValues(containerID).Inc()
	}
	return m.finish(opts, v, err)
}

// finish applies error suppression.
func (m *Manager) finish(opts Options, v any, err error) (any, error) {
	if err != nil && opts.SuppressErrors {
		return nil, nil
	}
	return v, err
}

type outcome struct {
	value any
	err   error
}

// executeLocked acquires the container's lock slot (queueing on failure)
// and runs the pipeline under the container's run mutex so no two update
// executions for one container ever overlap.
func (m *Manager) executeLocked(ctx context.Context, containerID string, fn UpdateFunc, data any, opts Options) (any, error) {
	lockID, ok, displaced := m.locks.Acquire(containerID, opts.Priority)
	if !ok {
		return m.enqueue(ctx, containerID, fn, data, opts)
	}
	if displaced {
		m.logger.Debug("displaced lower-priority lock holder",
			zap.String("container", containerID),
			zap.String("priority", opts.Priority.String()))
	}

	runMu := m.runMutex(containerID)
	runMu.Lock()
	v, err := m.runPipeline(ctx, containerID, fn, data, opts)
	runMu.Unlock()

	if m.locks.Release(containerID, lockID) {
		m.drainQueue(containerID)
	}
	return v, err
}

// enqueue defers the update until the container's lock frees up. The
// caller blocks until the deferred run completes or the entry is dropped.
func (m *Manager) enqueue(ctx context.Context, containerID string, fn UpdateFunc, data any, opts Options) (any, error) {
	ch := make(chan outcome, 1)
	entry := &lockmgr.Entry{
		ContainerID: containerID,
		Priority:    opts.Priority,
		Run: func() {
			v, err := m.executeLocked(ctx, containerID, fn, data, opts)
			ch <- outcome{value: v, err: err}
		},
		Drop: func() {
			ch <- outcome{err: fmt.Errorf("%w: container %q", ErrDropped, containerID)}
		},
	}
	m.queue.Enqueue(entry)
	m.metrics.QueueDepth.WithLabelValues(containerID).Set(float64(m.queue.Depth(containerID)))
	m.log.Record(errlog.EventLockQueued, containerID, "update deferred: lock unavailable",
		map[string]any{"priority": opts.Priority.String(), "depth": m.queue.Depth(containerID)})

	// The holder may release between the failed Acquire and the Enqueue
	// above; its drain then ran against a still-empty queue. Re-drain when
	// the slot is observed free so the entry is not stranded.
	if _, held := m.locks.Holder(containerID); !held {
		m.drainQueue(containerID)
	}

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainQueue executes the next deferred update for the container, if any.
// Queued entries already waited, so they run with throttling bypassed.
func (m *Manager) drainQueue(containerID string) {
	entry := m.queue.Dequeue(containerID)
	m.metrics.QueueDepth.WithLabelValues(containerID).Set(float64(m.queue.Depth(containerID)))
	if entry == nil {
		return
	}
	go entry.Run()
}

func (m *Manager) runMutex(containerID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.runMu[containerID]
	if !ok {
		mu = &sync.Mutex{}
		m.runMu[containerID] = mu
	}
	return mu
}

// EmergencyStop cancels all pending throttled updates, clears every lock
// and queue, and engages the global emergency lock: until
// ResumeOperations, only critical updates are accepted.
func (m *Manager) EmergencyStop() {
	m.emergency.Store(true)
	cancelled := m.throttler.CancelAll()
	released := m.locks.ReleaseAll()
	dropped := m.queue.Clear()
	m.metrics.EmergencyStops.Inc()

	m.log.Record(errlog.EventEmergencyStop, "", "emergency stop engaged", map[string]any{
		"cancelled_timers": cancelled,
		"released_locks":   released,
		"dropped_queued":   dropped,
	})
	m.logger.Warn("emergency stop engaged",
		zap.Int("cancelled_timers", cancelled),
		zap.Int("released_locks", released),
		zap.Int("dropped_queued", dropped))
}

// ResumeOperations lifts the emergency lock.
func (m *Manager) ResumeOperations() {
	m.emergency.Store(false)
	m.log.Record(errlog.EventOperationsResumed, "", "operations resumed", nil)
	m.logger.Info("operations resumed")
}

// Stopped reports whether the emergency lock is engaged.
func (m *Manager) Stopped() bool {
	return m.emergency.Load()
}

// ForceRollback rolls a container back to its live snapshot immediately.
// Returns true when the container ended in a recovered state.
func (m *Manager) ForceRollback(containerID string) bool {
	res := m.snapshots.Rollback(containerID, "forced rollback")
	m.observeRollback(containerID, res)
	return res.Restored()
}

// ForceRecreation recreates a container immediately.
func (m *Manager) ForceRecreation(containerID string) error {
	if err := m.snapshots.Recreate(containerID, "forced recreation"); err != nil {
		return fmt.Errorf("%w: %v", ErrRecreationFailed, err)
	}
	m.metrics.RecreationsTotal.WithLabelValues(containerID).Inc()
	return nil
}

func (m *Manager) observeRollback(containerID string, res snapshot.Result) {
	switch res {
	case snapshot.RollbackVerified:
		m.metrics.RollbacksTotal.WithLabelValues(containerID, "success").Inc()
	case snapshot.RollbackEscalated:
		m.metrics.RollbacksTotal.WithLabelValues(containerID, "escalated").Inc()
		m.metrics.RecreationsTotal.WithLabelValues(containerID).Inc()
	default:
		m.metrics.RollbacksTotal.WithLabelValues(containerID, "failure").Inc()
	}
}

// GetErrorLog returns all recorded recovery events, oldest first.
func (m *Manager) GetErrorLog() []errlog.Entry {
	return m.log.Entries()
}

// FilterErrorLog returns recovery events matching the event type and/or
// container ID; empty arguments match everything.
func (m *Manager) FilterErrorLog(eventType, containerID string) []errlog.Entry {
	return m.log.Filter(eventType, containerID)
}
