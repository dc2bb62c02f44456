// Package snapshot implements the recovery engine: pre-update snapshots,
// verified rollback with a bounded attempt budget, and full container
// recreation as the terminal recovery action.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/cleanup"
	"github.com/wpperf/dashkeeper/internal/engine/errlog"
	"github.com/wpperf/dashkeeper/internal/infrastructure/logging"
	"github.com/wpperf/dashkeeper/internal/shared/id"
)

// ErrContainerMissing reports that the container element vanished
// mid-recovery.
var ErrContainerMissing = errors.New("container element missing from document")

const (
	// DefaultMaxAttempts bounds consecutive rollback attempts before
	// escalating to recreation.
	DefaultMaxAttempts = 3

	// DefaultTolerance is the allowed node-count drift when verifying a
	// restored snapshot.
	DefaultTolerance = 5

	// DefaultRefreshDelay is how long after recreation the data refresh is
	// scheduled.
	DefaultRefreshDelay = 2 * time.Second
)

// Snapshot is an immutable capture of a container's serialized state.
// Content is stored gzip-compressed; panels can carry hundreds of rendered
// rows and one live snapshot exists per container at all times during
// updates.
type Snapshot struct {
	ID           id.SnapshotID
	ContainerID  string
	NodeCount    int
	ScrollOffset int
	ScrollExtent int
	CreatedAt    time.Time

	compressed []byte
}

// Content decompresses and returns the captured markup.
func (s *Snapshot) Content() (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(s.compressed))
	if err != nil {
		return "", fmt.Errorf("snapshot decompress: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("snapshot decompress: %w", err)
	}
	return string(data), nil
}

// Engine owns snapshots and drives rollback and recreation.
type Engine struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	attempts  map[string]int

	maxAttempts  int
	tolerance    int
	refreshDelay time.Duration

	registry  *container.Registry
	cleaner   *cleanup.Cleaner
	preserver *container.ScrollPreserver
	log       *errlog.Log
	logger    *logging.Logger
	refreshFn func(containerID string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAttempts overrides the rollback attempt budget.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithTolerance overrides the node-count verification tolerance.
func WithTolerance(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.tolerance = n
		}
	}
}

// WithRefreshDelay overrides the post-recreation refresh delay.
func WithRefreshDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.refreshDelay = d
		}
	}
}

// WithRefreshFunc sets the callback invoked (after a delay) to refetch data
// for a recreated container.
func WithRefreshFunc(fn func(containerID string)) Option {
	return func(e *Engine) { e.refreshFn = fn }
}

// NewEngine creates a recovery engine.
func NewEngine(registry *container.Registry, cleaner *cleanup.Cleaner, preserver *container.ScrollPreserver, log *errlog.Log, logger *logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		snapshots:    make(map[string]*Snapshot),
		attempts:     make(map[string]int),
		maxAttempts:  DefaultMaxAttempts,
		tolerance:    DefaultTolerance,
		refreshDelay: DefaultRefreshDelay,
		registry:     registry,
		cleaner:      cleaner,
		preserver:    preserver,
		log:          log,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create captures the container's state, replacing any prior snapshot for
// it. Returns nil (and logs) when the container is absent.
func (e *Engine) Create(containerID string) *Snapshot {
	c, ok := e.registry.Get(containerID)
	if !ok || !c.Exists() {
		e.log.Record(errlog.EventSnapshotSkipped, containerID,
			"cannot snapshot: container not found", nil)
		return nil
	}

	content := c.Content()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(content)); err != nil {
		e.logger.Warn("snapshot compression failed",
			zap.String("container", containerID), zap.Error(err))
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}

	snap := &Snapshot{
		ID:           id.NewSnapshotID(),
		ContainerID:  containerID,
		NodeCount:    c.NodeCount(),
		ScrollOffset: c.ScrollOffset(),
		ScrollExtent: c.ScrollExtent(),
		CreatedAt:    time.Now(),
		compressed:   buf.Bytes(),
	}

	e.mu.Lock()
	e.snapshots[containerID] = snap
	e.mu.Unlock()

	e.logger.Debug("snapshot created",
		zap.String("container", containerID),
		zap.String("snapshot", string(snap.ID)),
		zap.Int("nodes", snap.NodeCount))
	return snap
}

// Get returns the live snapshot for a container, if any.
func (e *Engine) Get(containerID string) (*Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.snapshots[containerID]
	return s, ok
}

// Discard drops the snapshot for a container after a successful update.
func (e *Engine) Discard(containerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.snapshots, containerID)
	delete(e.attempts, containerID)
}

// Attempts returns the consecutive failed rollback count for a container.
func (e *Engine) Attempts(containerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[containerID]
}

// Result reports how a rollback attempt ended.
type Result int

const (
	// RollbackVerified means the snapshot was restored and verified.
	RollbackVerified Result = iota
	// RollbackEscalated means rollback gave way to a successful recreation.
	RollbackEscalated
	// RollbackUnavailable means no snapshot existed; nothing was changed.
	RollbackUnavailable
	// RollbackFailed means neither rollback nor escalation recovered the
	// container.
	RollbackFailed
)

// Restored reports whether the container ended in a recovered state.
func (r Result) Restored() bool {
	return r == RollbackVerified || r == RollbackEscalated
}

// Rollback restores the container from its snapshot and verifies the
// restoration by node count. Verification failures consume the attempt
// budget; once it is exhausted the next rollback escalates directly to
// recreation instead of rolling back again.
func (e *Engine) Rollback(containerID, reason string) Result {
	e.mu.Lock()
	snap, hasSnap := e.snapshots[containerID]
	attempts := e.attempts[containerID]
	if !hasSnap {
		e.mu.Unlock()
		e.log.Record(errlog.EventRollbackFailed, containerID,
			"rollback unavailable: no snapshot", map[string]any{"reason": reason})
		return RollbackUnavailable
	}
	if attempts >= e.maxAttempts {
		e.mu.Unlock()
		e.logger.Warn("rollback attempt budget exhausted, escalating to recreation",
			zap.String("container", containerID), zap.Int("attempts", attempts))
		return e.escalate(containerID, "rollback attempts exhausted: "+reason)
	}
	e.attempts[containerID] = attempts + 1
	e.mu.Unlock()

	c, ok := e.registry.Get(containerID)
	if !ok || !c.Exists() {
		e.log.Record(errlog.EventRollbackFailed, containerID,
			"rollback failed: container not found", map[string]any{"reason": reason})
		return RollbackFailed
	}

	content, err := snap.Content()
	if err != nil {
		e.log.Record(errlog.EventRollbackFailed, containerID,
			"rollback failed: snapshot unreadable", map[string]any{
				"reason": reason, "error": err.Error(),
			})
		return e.escalate(containerID, "snapshot unreadable: "+reason)
	}

	e.cleaner.DestroyCharts(containerID)
	c.SetContent(content)
	c.SetScrollOffset(snap.ScrollOffset)

	restored := c.NodeCount()
	drift := restored - snap.NodeCount
	if drift < 0 {
		drift = -drift
	}
	if drift > e.tolerance {
		// The attempt stays counted; once the budget is spent the next
		// rollback escalates to recreation instead of trying again.
		e.log.Record(errlog.EventRollbackFailed, containerID,
			"rollback verification failed", map[string]any{
				"reason":   reason,
				"expected": snap.NodeCount,
				"actual":   restored,
			})
		return RollbackFailed
	}

	e.mu.Lock()
	delete(e.attempts, containerID)
	delete(e.snapshots, containerID)
	e.mu.Unlock()

	e.log.Record(errlog.EventRollbackSuccess, containerID,
		"container restored from snapshot", map[string]any{
			"reason":   reason,
			"snapshot": string(snap.ID),
			"nodes":    restored,
		})
	return RollbackVerified
}

func (e *Engine) escalate(containerID, reason string) Result {
	if err := e.Recreate(containerID, reason); err != nil {
		return RollbackFailed
	}
	return RollbackEscalated
}

// Recreate wipes and rebuilds the container in place: chart handles are
// destroyed, content is replaced with a neutral notice, scroll resets to
// zero, all recovery state for the container is cleared, and a data refresh
// is scheduled. This always succeeds unless the element itself is gone.
func (e *Engine) Recreate(containerID, reason string) error {
	c, ok := e.registry.Get(containerID)
	if !ok || !c.Exists() {
		e.log.Record(errlog.EventRecreationFailed, containerID,
			"recreation failed: container element missing", map[string]any{"reason": reason})
		return fmt.Errorf("recreate %s: %w", containerID, ErrContainerMissing)
	}

	e.cleaner.DestroyCharts(containerID)
	c.SetContent(`<div class="panel-recreated">Panel recreated after an update failure. Refreshing...</div>`)
	c.SetScrollOffset(0)

	e.mu.Lock()
	delete(e.snapshots, containerID)
	delete(e.attempts, containerID)
	e.mu.Unlock()
	e.preserver.Clear(containerID)

	if e.refreshFn != nil {
		refresh := e.refreshFn
		time.AfterFunc(e.refreshDelay, func() { refresh(containerID) })
	}

	e.log.Record(errlog.EventContainerRecreated, containerID,
		"container recreated", map[string]any{"reason": reason})
	e.logger.Info("container recreated",
		zap.String("container", containerID), zap.String("reason", reason))
	return nil
}
