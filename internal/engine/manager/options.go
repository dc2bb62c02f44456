package manager

import (
	"context"
	"time"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/lockmgr"
)

// UpdateFunc renders data into a container. It may be slow, may fail, and
// must mutate only the container it is handed; the pipeline decides
// whether, when, and under which safeguards it runs.
type UpdateFunc func(ctx context.Context, c container.Container, data any) (any, error)

// Options control one update request.
type Options struct {
	// Priority governs lock preemption and queue ordering. Critical
	// updates also bypass throttling and the emergency lock.
	Priority lockmgr.Priority

	// PreserveScroll saves and restores the container's relative scroll
	// position around the update.
	PreserveScroll bool

	// BypassThrottle skips the per-container throttle window.
	BypassThrottle bool

	// EnableRollback snapshots the container before the update so a
	// failure can be rolled back.
	EnableRollback bool

	// RetryAttempts is how many times a failed update function is retried
	// before the failure is declared.
	RetryAttempts int

	// SuppressErrors swallows the final error after recovery, so one flaky
	// panel does not abort a larger refresh cycle.
	SuppressErrors bool

	// AllowMissingContainer registers a fresh panel instead of failing
	// when the container ID is unknown.
	AllowMissingContainer bool
}

// DefaultOptions returns the standard per-update options: normal priority,
// scroll preservation and rollback enabled.
func DefaultOptions() Options {
	return Options{
		Priority:       lockmgr.PriorityNormal,
		PreserveScroll: true,
		EnableRollback: true,
	}
}

// Request is one unit of a coordinated batch.
type Request struct {
	ContainerID string
	Update      UpdateFunc
	Data        any
	Options     Options
}

// BatchResult is the per-request outcome of a coordinated batch.
type BatchResult struct {
	ContainerID string
	Value       any
	Err         error
}

// CoordinateOptions control a batch of updates.
type CoordinateOptions struct {
	// Sequential runs requests strictly one after another instead of with
	// bounded concurrency.
	Sequential bool

	// MaxConcurrent bounds parallel updates; zero uses the engine default.
	MaxConcurrent int

	// Timeout is the batch time budget; zero uses the engine default.
	Timeout time.Duration
}
