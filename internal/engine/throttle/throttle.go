// Package throttle provides a per-key trailing-edge rate limiter. Within a
// throttle window only the most recently submitted call survives; earlier
// pending calls are superseded, so a burst of requests coalesces into a
// single execution carrying the latest data.
package throttle

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSuperseded is returned to a waiter whose pending call was replaced
	// by a newer request for the same key.
	ErrSuperseded = errors.New("throttled call superseded by newer request")

	// ErrCancelled is returned when pending calls are cancelled wholesale.
	ErrCancelled = errors.New("throttled call cancelled")
)

type outcome struct {
	value any
	err   error
}

type pendingCall struct {
	fn   func() (any, error)
	done chan outcome
}

type keyState struct {
	lastRun time.Time
	timer   *time.Timer
	pending *pendingCall
}

// Throttler rate-limits calls per key.
type Throttler struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

// New creates an empty throttler.
func New() *Throttler {
	return &Throttler{keys: make(map[string]*keyState)}
}

// Execute runs fn immediately if at least delay has elapsed since the last
// execution for key, otherwise schedules it for the remainder of the window,
// replacing any previously scheduled call for the same key. Blocks until the
// call executes, is superseded, or ctx is done.
func (t *Throttler) Execute(ctx context.Context, key string, delay time.Duration, fn func() (any, error)) (any, error) {
	t.mu.Lock()
	st, ok := t.keys[key]
	if !ok {
		st = &keyState{}
		t.keys[key] = st
	}

	now := time.Now()
	elapsed := now.Sub(st.lastRun)
	if delay <= 0 || st.lastRun.IsZero() || elapsed >= delay {
		st.lastRun = now
		t.mu.Unlock()
		return fn()
	}

	// Inside the window: the newest request wins the trailing slot.
	if st.pending != nil {
		st.timer.Stop()
		st.pending.done <- outcome{err: ErrSuperseded}
		st.pending = nil
	}

	call := &pendingCall{fn: fn, done: make(chan outcome, 1)}
	st.pending = call
	st.timer = time.AfterFunc(delay-elapsed, func() {
		t.fire(key, call)
	})
	t.mu.Unlock()

	select {
	case out := <-call.done:
		return out.value, out.err
	case <-ctx.Done():
		t.abandon(key, call)
		return nil, ctx.Err()
	}
}

// fire executes a scheduled call if it is still the live pending call.
func (t *Throttler) fire(key string, call *pendingCall) {
	t.mu.Lock()
	st, ok := t.keys[key]
	if !ok || st.pending != call {
		t.mu.Unlock()
		return
	}
	st.pending = nil
	st.timer = nil
	st.lastRun = time.Now()
	t.mu.Unlock()

	v, err := call.fn()
	call.done <- outcome{value: v, err: err}
}

// abandon drops a pending call whose waiter gave up.
func (t *Throttler) abandon(key string, call *pendingCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.keys[key]
	if ok && st.pending == call {
		st.timer.Stop()
		st.pending = nil
		st.timer = nil
	}
}

// CancelAll drops every pending call, notifying waiters with ErrCancelled.
// Used by emergency stop.
func (t *Throttler) CancelAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cancelled := 0
	for _, st := range t.keys {
		if st.pending != nil {
			st.timer.Stop()
			st.pending.done <- outcome{err: ErrCancelled}
			st.pending = nil
			st.timer = nil
			cancelled++
		}
	}
	return cancelled
}

// FlushAll forces every pending call to execute immediately.
func (t *Throttler) FlushAll() int {
	t.mu.Lock()
	flushed := 0
	var calls []*pendingCall
	for _, st := range t.keys {
		if st.pending != nil {
			st.timer.Stop()
			calls = append(calls, st.pending)
			st.pending = nil
			st.timer = nil
			st.lastRun = time.Now()
			flushed++
		}
	}
	t.mu.Unlock()

	for _, call := range calls {
		v, err := call.fn()
		call.done <- outcome{value: v, err: err}
	}
	return flushed
}

// PendingCount returns the number of keys with a scheduled call.
func (t *Throttler) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.keys {
		if st.pending != nil {
			n++
		}
	}
	return n
}

// Reset clears all throttle bookkeeping for a key.
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.keys[key]
	if ok && st.pending != nil {
		st.timer.Stop()
		st.pending.done <- outcome{err: ErrCancelled}
	}
	delete(t.keys, key)
}
