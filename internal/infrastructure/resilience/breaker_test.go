package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("downstream failure")

func failingCall() error { return errFail }
func okCall() error      { return nil }

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("test", Settings{})
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Execute(okCall))
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(10), b.Counts().TotalSuccesses)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 3, CooldownPeriod: time.Hour})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(failingCall), errFail)
	}
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Execute(failingCall), errFail)
	assert.Equal(t, StateOpen, b.State())

	// Open circuit fails fast without invoking the call.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 3})
	assert.Error(t, b.Execute(failingCall))
	assert.Error(t, b.Execute(failingCall))
	require.NoError(t, b.Execute(okCall))
	assert.Error(t, b.Execute(failingCall))
	assert.Error(t, b.Execute(failingCall))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, CooldownPeriod: 10 * time.Millisecond})
	assert.Error(t, b.Execute(failingCall))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(okCall))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, CooldownPeriod: 10 * time.Millisecond})
	assert.Error(t, b.Execute(failingCall))

	time.Sleep(15 * time.Millisecond)
	assert.ErrorIs(t, b.Execute(failingCall), errFail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	b := New("test", Settings{FailureThreshold: 1, CooldownPeriod: 10 * time.Millisecond, ProbeRequests: 1})
	assert.Error(t, b.Execute(failingCall))
	time.Sleep(15 * time.Millisecond)

	// A probe slot is taken but unresolved; a second concurrent probe is
	// rejected.
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error { <-release; return nil })
	}()
	assert.Eventually(t, func() bool {
		return b.Counts().Requests == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, b.Execute(okCall), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("api", Settings{
		FailureThreshold: 1,
		CooldownPeriod:   5 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	assert.Error(t, b.Execute(failingCall))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Execute(okCall))

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
