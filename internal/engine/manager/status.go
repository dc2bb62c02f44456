package manager

import (
	"time"

	"github.com/wpperf/dashkeeper/internal/engine/domsize"
)

// ContainerStatus is the live state of one managed container.
type ContainerStatus struct {
	ContainerID      string         `json:"container_id"`
	Exists           bool           `json:"exists"`
	NodeCount        int            `json:"node_count"`
	NodeLimit        int            `json:"node_limit"`
	SizeStatus       domsize.Status `json:"size_status"`
	Locked           bool           `json:"locked"`
	LockPriority     string         `json:"lock_priority,omitempty"`
	LockAge          string         `json:"lock_age,omitempty"`
	QueueDepth       int            `json:"queue_depth"`
	HasSnapshot      bool           `json:"has_snapshot"`
	RollbackAttempts int            `json:"rollback_attempts"`
	ThrottleDelay    string         `json:"throttle_delay"`
	ChartHandles     int            `json:"chart_handles"`
}

// EngineStatus is the aggregate state of the update engine.
type EngineStatus struct {
	EmergencyStopped bool              `json:"emergency_stopped"`
	PendingThrottled int               `json:"pending_throttled"`
	ErrorLogSize     int               `json:"error_log_size"`
	Containers       []ContainerStatus `json:"containers"`
	CheckedAt        time.Time         `json:"checked_at"`
}

// GetAllUpdateStatus reports the state of every registered container plus
// the engine-wide counters.
func (m *Manager) GetAllUpdateStatus() EngineStatus {
	locks := m.locks.Snapshot()
	depths := m.queue.Depths()

	status := EngineStatus{
		EmergencyStopped: m.emergency.Load(),
		PendingThrottled: m.throttler.PendingCount(),
		ErrorLogSize:     m.log.Len(),
		CheckedAt:        time.Now(),
	}

	for _, cid := range m.registry.IDs() {
		cs := ContainerStatus{
			ContainerID:      cid,
			NodeLimit:        m.sizes.Limit(cid),
			QueueDepth:       depths[cid],
			RollbackAttempts: m.snapshots.Attempts(cid),
			ThrottleDelay:    m.ThrottleDelay(cid).String(),
			ChartHandles:     m.charts.Count(cid),
		}
		if c, ok := m.registry.Get(cid); ok && c.Exists() {
			cs.Exists = true
			cs.NodeCount = c.NodeCount()
		}
		if res, err := m.sizes.Check(cid); err == nil {
			cs.SizeStatus = res.Status
		}
		if l, held := locks[cid]; held {
			cs.Locked = true
			cs.LockPriority = l.Priority.String()
			cs.LockAge = l.Age().Round(time.Millisecond).String()
		}
		if _, ok := m.snapshots.Get(cid); ok {
			cs.HasSnapshot = true
		}
		status.Containers = append(status.Containers, cs)
	}
	return status
}

// HealthReport summarizes engine health for liveness checks.
type HealthReport struct {
	Healthy           bool      `json:"healthy"`
	EmergencyStopped  bool      `json:"emergency_stopped"`
	MissingContainers []string  `json:"missing_containers,omitempty"`
	Oversized         []string  `json:"oversized_containers,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
}

// PerformHealthCheck verifies every registered container still exists and
// is within size bounds. The engine is healthy when nothing is missing,
// nothing has crossed the critical size threshold, and the emergency lock
// is off.
func (m *Manager) PerformHealthCheck() HealthReport {
	report := HealthReport{
		EmergencyStopped: m.emergency.Load(),
		CheckedAt:        time.Now(),
	}

	for _, cid := range m.registry.IDs() {
		c, ok := m.registry.Get(cid)
		if !ok || !c.Exists() {
			report.MissingContainers = append(report.MissingContainers, cid)
			continue
		}
		if res, err := m.sizes.Check(cid); err == nil {
			if res.Status == domsize.StatusCritical || res.Status == domsize.StatusEmergency {
				report.Oversized = append(report.Oversized, cid)
			}
		}
	}

	report.Healthy = !report.EmergencyStopped &&
		len(report.MissingContainers) == 0 &&
		len(report.Oversized) == 0
	return report
}

// RecommendedThrottles returns the performance monitor's suggested
// throttle window per container, computed from observed update cadence.
func (m *Manager) RecommendedThrottles() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, cid := range m.registry.IDs() {
		current := m.ThrottleDelay(cid)
		if d := m.perf.RecommendThrottle(cid, current); d != current {
			out[cid] = d
		}
	}
	return out
}
