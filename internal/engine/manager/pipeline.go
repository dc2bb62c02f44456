package manager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/corruption"
	"github.com/wpperf/dashkeeper/internal/engine/domsize"
	"github.com/wpperf/dashkeeper/internal/engine/errlog"
	"github.com/wpperf/dashkeeper/internal/shared/id"
)

// updateContext is the shared state threaded through the pipeline stages.
type updateContext struct {
	ctx  context.Context
	cid  string
	c    container.Container
	fn   UpdateFunc
	data any
	opts Options

	updateID id.UpdateID
	result   any

	// done short-circuits the remaining stages: the pipeline already
	// resolved the request (emergency cleanup or recreation took over).
	done bool
}

// stage is one ordered step of the update pipeline. The explicit list
// keeps the sequence auditable and lets options skip steps without nested
// conditionals.
type stage struct {
	name string
	skip func(*updateContext) bool
	run  func(*updateContext) error
}

func (m *Manager) stages() []stage {
	return []stage{
		{name: "resolve", run: m.stageResolve},
		{
			name: "snapshot",
			skip: func(uc *updateContext) bool { return !uc.opts.EnableRollback },
			run:  m.stageSnapshot,
		},
		{name: "corruption-precheck", run: m.stageCorruptionPre},
		{name: "size-precheck", run: m.stageSizePre},
		{
			name: "scroll-save",
			skip: func(uc *updateContext) bool { return !uc.opts.PreserveScroll },
			run:  m.stageScrollSave,
		},
		{name: "chart-cleanup", run: m.stageChartCleanup},
		{name: "execute", run: m.stageExecute},
		{name: "corruption-postcheck", run: m.stageCorruptionPost},
		{
			name: "scroll-restore",
			skip: func(uc *updateContext) bool { return !uc.opts.PreserveScroll },
			run:  m.stageScrollRestore,
		},
		{name: "size-postcheck", run: m.stageSizePost},
	}
}

// runPipeline executes the stage list and handles recovery on failure.
// Caller holds the container's run mutex.
func (m *Manager) runPipeline(ctx context.Context, containerID string, fn UpdateFunc, data any, opts Options) (any, error) {
	uc := &updateContext{
		ctx:      ctx,
		cid:      containerID,
		fn:       fn,
		data:     data,
		opts:     opts,
		updateID: id.NewUpdateID(),
	}

	start := time.Now()
	var failedStage string
	var err error
	for _, st := range m.stages() {
		if uc.done {
			break
		}
		if st.skip != nil && st.skip(uc) {
			continue
		}
		if err = st.run(uc); err != nil {
			failedStage = st.name
			break
		}
	}

	nodes := 0
	if uc.c != nil {
		nodes = uc.c.NodeCount()
	}
	m.perf.ObserveUpdate(containerID, time.Since(start), nodes, err != nil)

	if err != nil {
		return nil, m.recoverFrom(uc, failedStage, err)
	}
	if uc.c != nil && !uc.done {
		m.snapshots.Discard(containerID)
	}
	return uc.result, nil
}

func (m *Manager) stageResolve(uc *updateContext) error {
	c, ok := m.registry.Get(uc.cid)
	if ok && c.Exists() {
		uc.c = c
		return nil
	}
	if !uc.opts.AllowMissingContainer {
		return fmt.Errorf("%w: %q", ErrContainerNotFound, uc.cid)
	}

	panel := container.NewPanel(uc.cid)
	m.registry.Register(panel)
	uc.c = panel
	m.logger.Info("registered missing container", zap.String("container", uc.cid))
	return nil
}

func (m *Manager) stageSnapshot(uc *updateContext) error {
	m.snapshots.Create(uc.cid)
	return nil
}

// stageCorruptionPre inspects the container before touching it. Critical
// corruption means the current content is beyond saving: recreate and let
// the scheduled refresh repopulate, skipping this update entirely.
func (m *Manager) stageCorruptionPre(uc *updateContext) error {
	report := m.detector.Detect(uc.c, m.sizes.Limit(uc.cid))
	if !report.Corrupted {
		return nil
	}

	m.metrics.CorruptionDetected.WithLabelValues(uc.cid, string(report.Severity)).Inc()
	m.log.Record(errlog.EventCorruptionDetected, uc.cid, "corruption detected before update",
		map[string]any{"reasons": report.Reasons, "severity": string(report.Severity)})

	if report.Severity == corruption.SeverityCritical {
		if err := m.snapshots.Recreate(uc.cid, "critical corruption"); err != nil {
			return fmt.Errorf("%w: %v", ErrRecreationFailed, err)
		}
		m.metrics.RecreationsTotal.WithLabelValues(uc.cid).Inc()
		uc.done = true
	}
	return nil
}

// stageSizePre reacts to runaway growth before adding more content. An
// emergency-sized container is wiped and the update abandoned; a critical
// one gets a thorough cleanup first.
func (m *Manager) stageSizePre(uc *updateContext) error {
	res, err := m.sizes.Check(uc.cid)
	if err != nil {
		return nil
	}

	switch res.Status {
	case domsize.StatusEmergency:
		m.log.Record(errlog.EventEmergencyCleanup, uc.cid, "emergency cleanup before update",
			map[string]any{"nodes": res.NodeCount, "limit": res.Limit})
		m.cleaner.EmergencyWipe(uc.c)
		uc.done = true
	case domsize.StatusCritical:
		if _, err := m.cleaner.Thorough(uc.c); err != nil {
			m.logger.Warn("thorough cleanup failed",
				zap.String("container", uc.cid), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) stageScrollSave(uc *updateContext) error {
	m.preserver.Save(uc.c)
	return nil
}

func (m *Manager) stageChartCleanup(uc *updateContext) error {
	m.cleaner.DestroyCharts(uc.cid)
	return nil
}

func (m *Manager) stageExecute(uc *updateContext) error {
	attempts := uc.opts.RetryAttempts + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-uc.ctx.Done():
				return uc.ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		v, err := uc.fn(uc.ctx, uc.c, uc.data)
		if err == nil {
			uc.result = v
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %w", ErrUpdateFailed, lastErr)
}

// stageCorruptionPost treats corruption introduced by the update itself as
// an update failure so the normal recovery path handles it.
func (m *Manager) stageCorruptionPost(uc *updateContext) error {
	report := m.detector.Detect(uc.c, m.sizes.Limit(uc.cid))
	if !report.Corrupted {
		return nil
	}
	m.metrics.CorruptionDetected.WithLabelValues(uc.cid, string(report.Severity)).Inc()
	return fmt.Errorf("%w: update introduced corruption: %v", ErrUpdateFailed, report.Reasons)
}

func (m *Manager) stageScrollRestore(uc *updateContext) error {
	m.preserver.Restore(uc.c)
	return nil
}

// stageSizePost flags updates that pushed the container over its limit.
// The periodic sweep reacts on its next pass; this only surfaces it early.
func (m *Manager) stageSizePost(uc *updateContext) error {
	res, err := m.sizes.Check(uc.cid)
	if err != nil || res.Status == domsize.StatusNormal {
		return nil
	}
	m.logger.Warn("container over size threshold after update",
		zap.String("container", uc.cid),
		zap.String("status", string(res.Status)),
		zap.Int("nodes", res.NodeCount),
		zap.Int("limit", res.Limit))
	return nil
}

// recoverFrom logs the failure and attempts local recovery: rollback when
// enabled and a snapshot exists, recreation otherwise. The original error
// is propagated only if neither recovers the container.
func (m *Manager) recoverFrom(uc *updateContext, failedStage string, cause error) error {
	m.log.Record(errlog.EventUpdateFailed, uc.cid, "update pipeline failed", map[string]any{
		"stage":     failedStage,
		"error":     cause.Error(),
		"update_id": string(uc.updateID),
	})
	m.logger.Error("update pipeline failed",
		zap.String("container", uc.cid),
		zap.String("stage", failedStage),
		zap.Error(cause))

	if uc.c == nil {
		// Never resolved; nothing to recover.
		return cause
	}

	reason := fmt.Sprintf("update failed in stage %s", failedStage)
	if uc.opts.EnableRollback {
		res := m.snapshots.Rollback(uc.cid, reason)
		m.observeRollback(uc.cid, res)
		if res.Restored() {
			return cause
		}
	}

	if err := m.snapshots.Recreate(uc.cid, reason); err != nil {
		m.logger.Error("recreation failed after update failure",
			zap.String("container", uc.cid), zap.Error(err))
		return cause
	}
	m.metrics.RecreationsTotal.WithLabelValues(uc.cid).Inc()
	return cause
}
