package manager

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/engine/lockmgr"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
)

func TestGetAllUpdateStatus(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "alpha", listMarkup(4))
	registerPanel(registry, "beta", listMarkup(2))
	m.snapshots.Create("alpha")

	status := m.GetAllUpdateStatus()
	assert.False(t, status.EmergencyStopped)
	assert.Zero(t, status.PendingThrottled)
	require.Len(t, status.Containers, 2)

	byID := map[string]ContainerStatus{}
	for _, cs := range status.Containers {
		byID[cs.ContainerID] = cs
	}

	alpha := byID["alpha"]
	assert.True(t, alpha.Exists)
	assert.True(t, alpha.HasSnapshot)
	assert.Positive(t, alpha.NodeCount)
	assert.Equal(t, "0s", alpha.ThrottleDelay)

	beta := byID["beta"]
	assert.False(t, beta.HasSnapshot)
	assert.False(t, beta.Locked)
	assert.Zero(t, beta.QueueDepth)
}

func TestGetAllUpdateStatusReflectsLock(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "panel", listMarkup(2))

	_, ok, _ := m.locks.Acquire("panel", lockmgr.PriorityNormal)
	require.True(t, ok)

	status := m.GetAllUpdateStatus()
	require.Len(t, status.Containers, 1)
	assert.True(t, status.Containers[0].Locked)
	assert.NotEmpty(t, status.Containers[0].LockPriority)
}

func TestPerformHealthCheck(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "healthy", listMarkup(3))

	report := m.PerformHealthCheck()
	assert.True(t, report.Healthy)
	assert.Empty(t, report.MissingContainers)
	assert.Empty(t, report.Oversized)
}

func TestPerformHealthCheckDetachedContainer(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	p := registerPanel(registry, "gone", listMarkup(3))
	p.Detach()

	report := m.PerformHealthCheck()
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"gone"}, report.MissingContainers)
}

func TestPerformHealthCheckOversized(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "bloated", listMarkup(40))
	m.SetContainerLimit("bloated", 10)

	report := m.PerformHealthCheck()
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Oversized, "bloated")
}

func TestPerformHealthCheckEmergency(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	m.EmergencyStop()
	defer m.ResumeOperations()

	report := m.PerformHealthCheck()
	assert.False(t, report.Healthy)
	assert.True(t, report.EmergencyStopped)
}

func TestRecommendedThrottles(t *testing.T) {
	m, registry, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Engine.DefaultThrottle = 500 * time.Millisecond
	})
	registerPanel(registry, "quiet", listMarkup(2))

	// No observations yet: the monitor has nothing to recommend.
	assert.Empty(t, m.RecommendedThrottles())

	// Back-to-back updates arrive far faster than the 500ms window, so the
	// monitor recommends widening it.
	for i := 0; i < 20; i++ {
		_, err := m.UpdateContainer(context.Background(), "quiet",
			func(_ context.Context, c container.Container, _ any) (any, error) {
				c.SetContent("<div>" + strings.Repeat("<span>x</span>", 3) + "</div>")
				return nil, nil
			}, nil, Options{Priority: lockmgr.PriorityCritical, EnableRollback: true})
		require.NoError(t, err)
	}

	recs := m.RecommendedThrottles()
	assert.Equal(t, time.Second, recs["quiet"])
}
