package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/errlog"
	"github.com/wpperf/dashkeeper/internal/engine/lockmgr"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
	"github.com/wpperf/dashkeeper/internal/infrastructure/logging"
	"github.com/wpperf/dashkeeper/internal/infrastructure/monitoring"
)

func newTestManager(t *testing.T, mutate func(*config.Config)) (*Manager, *container.Registry, *errlog.Log) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.DefaultThrottle = 0 // most tests want immediate execution
	cfg.Engine.RefreshDelay = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	registry := container.NewRegistry()
	log := errlog.New()
	m := New(cfg, registry, log, monitoring.NewMetrics(), logging.NewNop())
	return m, registry, log
}

func registerPanel(registry *container.Registry, id, markup string) *container.Panel {
	p := container.NewPanel(id)
	p.SetContent(markup)
	registry.Register(p)
	return p
}

func listMarkup(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("<li>row</li>")
	}
	return b.String()
}

func setContentUpdate(markup string) UpdateFunc {
	return func(_ context.Context, c container.Container, _ any) (any, error) {
		c.SetContent(markup)
		return markup, nil
	}
}

func failingUpdate(err error) UpdateFunc {
	return func(_ context.Context, c container.Container, _ any) (any, error) {
		c.SetContent("<div>partial")
		return nil, err
	}
}

func TestUpdateContainerHappyPath(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	p := registerPanel(registry, "panel", listMarkup(3))

	v, err := m.UpdateContainer(context.Background(), "panel",
		setContentUpdate(listMarkup(5)), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, listMarkup(5), v)
	assert.Equal(t, listMarkup(5), p.Content())

	// Snapshot consumed on success, no lock left behind.
	_, hasSnap := m.snapshots.Get("panel")
	assert.False(t, hasSnap)
	_, held := m.locks.Holder("panel")
	assert.False(t, held)
}

func TestUpdateContainerEmptyState(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	p := registerPanel(registry, "slowQueries", listMarkup(8))

	// An empty result replaces the rows with the quiet-state notice; it is
	// a normal update, not a failure.
	empty := `<div class="panel-empty">No slow queries detected</div>`
	_, err := m.UpdateContainer(context.Background(), "slowQueries",
		setContentUpdate(empty), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, empty, p.Content())
	assert.Empty(t, m.GetErrorLog())
}

func TestUpdateContainerUnknownContainer(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	_, err := m.UpdateContainer(context.Background(), "ghost",
		setContentUpdate("<div>x</div>"), nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestUpdateContainerAllowMissingRegisters(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)

	opts := DefaultOptions()
	opts.AllowMissingContainer = true
	_, err := m.UpdateContainer(context.Background(), "fresh",
		setContentUpdate("<div>born</div>"), nil, opts)
	require.NoError(t, err)

	c, ok := registry.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, "<div>born</div>", c.Content())
}

func TestFailedUpdateRollsBack(t *testing.T) {
	m, registry, log := newTestManager(t, nil)
	p := registerPanel(registry, "panel", listMarkup(10))

	boom := errors.New("render exploded")
	_, err := m.UpdateContainer(context.Background(), "panel",
		failingUpdate(boom), nil, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)

	// Content restored from the pre-update snapshot.
	assert.Equal(t, listMarkup(10), p.Content())
	assert.Len(t, log.Filter(errlog.EventUpdateFailed, "panel"), 1)
	assert.Len(t, log.Filter(errlog.EventRollbackSuccess, "panel"), 1)
}

func TestFailedUpdateWithoutRollbackRecreates(t *testing.T) {
	m, registry, log := newTestManager(t, nil)
	p := registerPanel(registry, "panel", listMarkup(10))

	opts := DefaultOptions()
	opts.EnableRollback = false
	_, err := m.UpdateContainer(context.Background(), "panel",
		failingUpdate(errors.New("boom")), nil, opts)
	require.Error(t, err)

	assert.Contains(t, p.Content(), "panel-recreated")
	assert.Len(t, log.Filter(errlog.EventContainerRecreated, "panel"), 1)
}

func TestSuppressErrors(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "panel", listMarkup(5))

	opts := DefaultOptions()
	opts.SuppressErrors = true
	v, err := m.UpdateContainer(context.Background(), "panel",
		failingUpdate(errors.New("boom")), nil, opts)
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestRetryAttempts(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "panel", listMarkup(3))

	var calls atomic.Int32
	flaky := func(_ context.Context, c container.Container, _ any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		c.SetContent("<div>finally</div>")
		return nil, nil
	}

	opts := DefaultOptions()
	opts.RetryAttempts = 2
	_, err := m.UpdateContainer(context.Background(), "panel", flaky, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestThrottleCoalescesBurst(t *testing.T) {
	m, registry, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Engine.DefaultThrottle = 60 * time.Millisecond
	})
	p := registerPanel(registry, "panel", listMarkup(2))

	// Prime the window.
	_, err := m.UpdateContainer(context.Background(), "panel",
		setContentUpdate("<div>v0</div>"), nil, DefaultOptions())
	require.NoError(t, err)

	var executed atomic.Int32
	results := make([]error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			markup := []string{"<div>v1</div>", "<div>v2</div>", "<div>v3</div>"}[i]
			_, err := m.UpdateContainer(context.Background(), "panel",
				func(_ context.Context, c container.Container, _ any) (any, error) {
					executed.Add(1)
					c.SetContent(markup)
					return nil, nil
				}, nil, DefaultOptions())
			results[i] = err
		}(i)
	}
	wg.Wait()

	// Only the newest of the burst ran; the panel shows the latest data.
	assert.Equal(t, int32(1), executed.Load())
	assert.NoError(t, results[2])
	assert.Equal(t, "<div>v3</div>", p.Content())
}

func TestCriticalBypassesThrottle(t *testing.T) {
	m, registry, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Engine.DefaultThrottle = time.Hour
	})
	p := registerPanel(registry, "panel", listMarkup(2))

	// Prime, then a critical update goes straight through.
	_, err := m.UpdateContainer(context.Background(), "panel",
		setContentUpdate("<div>first</div>"), nil, DefaultOptions())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Priority = lockmgr.PriorityCritical
	_, err = m.UpdateContainer(context.Background(), "panel",
		setContentUpdate("<div>critical</div>"), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "<div>critical</div>", p.Content())
}

func TestAtMostOneInFlight(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "panel", listMarkup(2))

	var inFlight, maxInFlight atomic.Int32
	slow := func(_ context.Context, c container.Container, _ any) (any, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opts := DefaultOptions()
			if i%2 == 0 {
				opts.Priority = lockmgr.PriorityHigh
			}
			_, _ = m.UpdateContainer(context.Background(), "panel", slow, nil, opts)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestQueuedUpdateRunsAfterMissedDrain(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	p := registerPanel(registry, "panel", listMarkup(2))

	// A holder owns the slot, then releases and drains before the losing
	// caller has enqueued: that drain runs against an empty queue.
	lockID, ok, _ := m.locks.Acquire("panel", lockmgr.PriorityNormal)
	require.True(t, ok)
	require.True(t, m.locks.Release("panel", lockID))
	m.drainQueue("panel")

	// The late enqueue must notice the free slot and run on its own
	// instead of waiting for a drain that already happened.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := m.enqueue(ctx, "panel", setContentUpdate(listMarkup(4)), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, listMarkup(4), v)
	assert.Equal(t, listMarkup(4), p.Content())

	assert.Zero(t, m.queue.Depth("panel"))
	_, held := m.locks.Holder("panel")
	assert.False(t, held)
}

func TestEmergencyStop(t *testing.T) {
	m, registry, log := newTestManager(t, nil)
	p := registerPanel(registry, "panel", listMarkup(2))

	m.EmergencyStop()
	require.True(t, m.Stopped())

	// Non-critical updates are rejected outright.
	_, err := m.UpdateContainer(context.Background(), "panel",
		setContentUpdate("<div>no</div>"), nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmergencyStopped)
	assert.NotEqual(t, "<div>no</div>", p.Content())

	// Critical updates still pass.
	opts := DefaultOptions()
	opts.Priority = lockmgr.PriorityCritical
	_, err = m.UpdateContainer(context.Background(), "panel",
		setContentUpdate("<div>critical</div>"), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "<div>critical</div>", p.Content())

	m.ResumeOperations()
	require.False(t, m.Stopped())
	_, err = m.UpdateContainer(context.Background(), "panel",
		setContentUpdate("<div>back</div>"), nil, DefaultOptions())
	assert.NoError(t, err)

	assert.Len(t, log.Filter(errlog.EventEmergencyStop, ""), 1)
	assert.Len(t, log.Filter(errlog.EventOperationsResumed, ""), 1)
}

func TestForceRollback(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	p := registerPanel(registry, "panel", listMarkup(6))

	m.snapshots.Create("panel")
	p.SetContent("<div>garbage")

	assert.True(t, m.ForceRollback("panel"))
	assert.Equal(t, listMarkup(6), p.Content())

	// Without a snapshot there is nothing to restore.
	assert.False(t, m.ForceRollback("panel"))
}

func TestForceRecreation(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	p := registerPanel(registry, "panel", listMarkup(6))

	require.NoError(t, m.ForceRecreation("panel"))
	assert.Contains(t, p.Content(), "panel-recreated")

	assert.ErrorIs(t, m.ForceRecreation("ghost"), ErrRecreationFailed)
}

func TestThrottleDelayOverrides(t *testing.T) {
	m, _, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Engine.DefaultThrottle = time.Second
	})

	assert.Equal(t, time.Second, m.ThrottleDelay("panel"))
	m.SetContainerThrottleDelay("panel", 2*time.Second)
	assert.Equal(t, 2*time.Second, m.ThrottleDelay("panel"))
	m.SetContainerThrottleDelay("panel", 0)
	assert.Equal(t, time.Second, m.ThrottleDelay("panel"))
}
