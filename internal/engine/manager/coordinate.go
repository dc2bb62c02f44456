package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wpperf/dashkeeper/internal/engine/errlog"
)

// CoordinateUpdates runs a batch of update requests, sequentially or with
// bounded concurrency, under a single time budget. Every request gets a
// BatchResult; requests still unstarted when the budget expires fail with
// ErrCoordinationTimeout. The returned error is non-nil only when the
// batch as a whole timed out.
func (m *Manager) CoordinateUpdates(ctx context.Context, reqs []Request, copts CoordinateOptions) ([]BatchResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	timeout := copts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.BatchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]BatchResult, len(reqs))
	if copts.Sequential {
		m.coordinateSequential(ctx, reqs, results)
	} else {
		m.coordinateParallel(ctx, reqs, results, copts.MaxConcurrent)
	}

	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return results, nil
	}

	timedOut := 0
	for i := range results {
		if errors.Is(results[i].Err, context.DeadlineExceeded) {
			results[i].Err = fmt.Errorf("%w: %q", ErrCoordinationTimeout, results[i].ContainerID)
			timedOut++
		}
	}
	m.log.Record(errlog.EventCoordinationFailed, "", "batch update exceeded its time budget",
		map[string]any{"requests": len(reqs), "timed_out": timedOut, "timeout": timeout.String()})
	m.logger.Warn("batch update exceeded its time budget",
		zap.Int("requests", len(reqs)),
		zap.Int("timed_out", timedOut),
		zap.Duration("timeout", timeout))
	return results, fmt.Errorf("%w: %d of %d requests unfinished", ErrCoordinationTimeout, timedOut, len(reqs))
}

func (m *Manager) coordinateSequential(ctx context.Context, reqs []Request, results []BatchResult) {
	for i, req := range reqs {
		results[i].ContainerID = req.ContainerID
		if ctx.Err() != nil {
			results[i].Err = ctx.Err()
			continue
		}
		results[i].Value, results[i].Err = m.UpdateContainer(ctx, req.ContainerID, req.Update, req.Data, req.Options)
	}
}

func (m *Manager) coordinateParallel(ctx context.Context, reqs []Request, results []BatchResult, maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = m.cfg.MaxConcurrent
	}
	limit := m.resolveConcurrency(len(reqs), maxConcurrent)
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, req := range reqs {
		results[i].ContainerID = req.ContainerID

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].Err = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i].Value, results[i].Err = m.UpdateContainer(ctx, req.ContainerID, req.Update, req.Data, req.Options)
		}(i, req)
	}
	wg.Wait()
}

func (m *Manager) resolveConcurrency(requests, configured int) int {
	limit := configured
	if limit <= 0 {
		limit = 1
	}
	if limit > requests {
		limit = requests
	}
	return limit
}
