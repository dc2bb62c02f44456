package monitoring

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// historyCap bounds the per-container sample windows.
const historyCap = 50

// Recommendation clamps.
const (
	minThrottle = 250 * time.Millisecond
	maxThrottle = 10 * time.Second
)

// UpdateStats summarizes observed update behavior for one container.
type UpdateStats struct {
	ContainerID      string        `json:"container_id"`
	Updates          int           `json:"updates"`
	Failures         int           `json:"failures"`
	MeanInterval     time.Duration `json:"mean_interval"`
	IntervalStdDev   time.Duration `json:"interval_stddev"`
	MeanDuration     time.Duration `json:"mean_duration"`
	P95Duration      time.Duration `json:"p95_duration"`
	LastUpdate       time.Time     `json:"last_update"`
	RecommendedDelay time.Duration `json:"recommended_delay,omitempty"`
}

type containerSamples struct {
	lastUpdate time.Time
	intervals  []float64 // seconds
	durations  []float64 // seconds
	updates    int
	failures   int
}

// PerformanceMonitor instruments updates with timing and memory data and
// aggregates update-frequency statistics into throttle recommendations.
type PerformanceMonitor struct {
	metrics *Metrics

	mu      sync.Mutex
	samples map[string]*containerSamples
}

// NewPerformanceMonitor creates a monitor emitting into metrics.
func NewPerformanceMonitor(metrics *Metrics) *PerformanceMonitor {
	return &PerformanceMonitor{
		metrics: metrics,
		samples: make(map[string]*containerSamples),
	}
}

// ObserveUpdate records one pipeline execution.
func (p *PerformanceMonitor) ObserveUpdate(containerID string, duration time.Duration, nodeCount int, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	p.metrics.UpdatesTotal.WithLabelValues(containerID, outcome).Inc()
	p.metrics.UpdateDuration.WithLabelValues(containerID).Observe(duration.Seconds())
	p.metrics.NodeCount.WithLabelValues(containerID).Set(float64(nodeCount))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	p.metrics.HeapBytes.Set(float64(mem.HeapAlloc))

	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.samples[containerID]
	if !ok {
		s = &containerSamples{}
		p.samples[containerID] = s
	}

	now := time.Now()
	if !s.lastUpdate.IsZero() {
		s.intervals = appendCapped(s.intervals, now.Sub(s.lastUpdate).Seconds())
	}
	s.lastUpdate = now
	s.durations = appendCapped(s.durations, duration.Seconds())
	s.updates++
	if failed {
		s.failures++
	}
}

// Stats returns aggregated statistics for a container.
func (p *PerformanceMonitor) Stats(containerID string) UpdateStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.samples[containerID]
	if !ok {
		return UpdateStats{ContainerID: containerID}
	}

	out := UpdateStats{
		ContainerID: containerID,
		Updates:     s.updates,
		Failures:    s.failures,
		LastUpdate:  s.lastUpdate,
	}
	if len(s.intervals) > 0 {
		mean, std := stat.MeanStdDev(s.intervals, nil)
		out.MeanInterval = secondsToDuration(mean)
		if len(s.intervals) > 1 {
			out.IntervalStdDev = secondsToDuration(std)
		}
	}
	if len(s.durations) > 0 {
		out.MeanDuration = secondsToDuration(stat.Mean(s.durations, nil))
		sorted := make([]float64, len(s.durations))
		copy(sorted, s.durations)
		sort.Float64s(sorted)
		out.P95Duration = secondsToDuration(stat.Quantile(0.95, stat.Empirical, sorted, nil))
	}
	return out
}

// AllStats returns statistics for every observed container.
func (p *PerformanceMonitor) AllStats() []UpdateStats {
	p.mu.Lock()
	ids := make([]string, 0, len(p.samples))
	for id := range p.samples {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	sort.Strings(ids)
	out := make([]UpdateStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.Stats(id))
	}
	return out
}

// RecommendThrottle compares the observed update cadence against the
// current throttle delay and suggests an adjustment. Containers refreshing
// much faster than their window should be throttled harder; containers
// refreshing far slower can afford a shorter window. Returns the current
// delay when there is too little data to judge.
func (p *PerformanceMonitor) RecommendThrottle(containerID string, current time.Duration) time.Duration {
	p.mu.Lock()
	s, ok := p.samples[containerID]
	if !ok || len(s.intervals) < 5 {
		p.mu.Unlock()
		return current
	}
	intervals := make([]float64, len(s.intervals))
	copy(intervals, s.intervals)
	p.mu.Unlock()

	mean := stat.Mean(intervals, nil)
	meanInterval := secondsToDuration(mean)

	recommended := current
	switch {
	case meanInterval < current/2:
		// Updates arrive much faster than the window; widen it.
		recommended = current * 2
	case meanInterval > 4*current:
		// Updates are rare; a tighter window costs nothing.
		recommended = current / 2
	}

	if recommended < minThrottle {
		recommended = minThrottle
	}
	if recommended > maxThrottle {
		recommended = maxThrottle
	}
	return recommended
}

func appendCapped(samples []float64, v float64) []float64 {
	samples = append(samples, v)
	if len(samples) > historyCap {
		samples = samples[len(samples)-historyCap:]
	}
	return samples
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
