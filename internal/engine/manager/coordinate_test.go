package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpperf/dashkeeper/internal/container"
	"github.com/wpperf/dashkeeper/internal/infrastructure/config"
)

func batchRequests(ids ...string) []Request {
	reqs := make([]Request, 0, len(ids))
	for _, id := range ids {
		id := id
		reqs = append(reqs, Request{
			ContainerID: id,
			Update: func(_ context.Context, c container.Container, _ any) (any, error) {
				c.SetContent("<div>" + id + "</div>")
				return id, nil
			},
			Options: DefaultOptions(),
		})
	}
	return reqs
}

func TestCoordinateSequential(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	var order []string
	reqs := make([]Request, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		registerPanel(registry, id, "<div>old</div>")
		reqs = append(reqs, Request{
			ContainerID: id,
			Update: func(_ context.Context, c container.Container, _ any) (any, error) {
				order = append(order, id) // safe: sequential mode runs one at a time
				c.SetContent("<div>new</div>")
				return nil, nil
			},
			Options: DefaultOptions(),
		})
	}

	results, err := m.CoordinateUpdates(context.Background(), reqs, CoordinateOptions{Sequential: true})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestCoordinateParallelBounded(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	ids := []string{"a", "b", "c", "d", "e"}

	var inFlight, peak atomic.Int32
	reqs := make([]Request, 0, len(ids))
	for _, id := range ids {
		registerPanel(registry, id, "<div>old</div>")
		reqs = append(reqs, Request{
			ContainerID: id,
			Update: func(_ context.Context, _ container.Container, _ any) (any, error) {
				cur := inFlight.Add(1)
				for {
					prev := peak.Load()
					if cur <= prev || peak.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return nil, nil
			},
			Options: DefaultOptions(),
		})
	}

	results, err := m.CoordinateUpdates(context.Background(), reqs, CoordinateOptions{MaxConcurrent: 2})
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCoordinatePartialFailure(t *testing.T) {
	m, registry, _ := newTestManager(t, nil)
	registerPanel(registry, "good", "<div>old</div>")
	registerPanel(registry, "bad", "<div>old</div>")

	reqs := []Request{
		batchRequests("good")[0],
		{
			ContainerID: "bad",
			Update: func(_ context.Context, _ container.Container, _ any) (any, error) {
				return nil, errors.New("boom")
			},
			Options: DefaultOptions(),
		},
	}

	results, err := m.CoordinateUpdates(context.Background(), reqs, CoordinateOptions{Sequential: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]BatchResult{}
	for _, r := range results {
		byID[r.ContainerID] = r
	}
	assert.NoError(t, byID["good"].Err)
	assert.ErrorIs(t, byID["bad"].Err, ErrUpdateFailed)
}

func TestCoordinateTimeout(t *testing.T) {
	m, registry, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Engine.BatchTimeout = 30 * time.Millisecond
	})
	registerPanel(registry, "slow", "<div>old</div>")

	reqs := []Request{{
		ContainerID: "slow",
		Update: func(ctx context.Context, _ container.Container, _ any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return nil, nil
			}
		},
		Options: DefaultOptions(),
	}}

	results, err := m.CoordinateUpdates(context.Background(), reqs, CoordinateOptions{})
	require.ErrorIs(t, err, ErrCoordinationTimeout)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrCoordinationTimeout)
}

func TestCoordinateEmptyBatch(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	results, err := m.CoordinateUpdates(context.Background(), nil, CoordinateOptions{})
	assert.NoError(t, err)
	assert.Empty(t, results)
}
