package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstreamDown = errors.New("upstream returned 503")

// trip drives cb to the open state by recording n consecutive failures.
func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("llm")

	assert.Equal(t, "llm", cb.Name())
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
	assert.True(t, cb.Allow())

	// Five defaults failures open the circuit, four do not.
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_AllowFollowsRecordedOutcomes(t *testing.T) {
	// This is the lifecycle the LLM gateway drives: Allow before each
	// call, RecordFailure/RecordSuccess after.
	cb := NewCircuitBreaker("llm", WithMaxFailures(3), WithResetTimeout(time.Minute))

	// Given: two failed chat completions
	cb.RecordFailure()
	cb.RecordFailure()

	// Then: the endpoint is still probed
	assert.True(t, cb.Allow())
	assert.Equal(t, 2, cb.Failures())

	// When: the third consecutive failure lands
	cb.RecordFailure()

	// Then: calls are rejected before reaching the endpoint
	assert.False(t, cb.Allow())
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessClearsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(3), WithResetTimeout(time.Minute))

	// Given: a failure streak one short of the threshold
	cb.RecordFailure()
	cb.RecordFailure()

	// When: one chat completion succeeds
	cb.RecordSuccess()

	// Then: the streak restarts from zero
	assert.Zero(t, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterResetWindow(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(2), WithResetTimeout(30*time.Millisecond))
	trip(t, cb, 2)
	require.False(t, cb.Allow())

	// When: the reset window elapses
	time.Sleep(40 * time.Millisecond)

	// Then: one test request may go through
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Execute_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(2), WithResetTimeout(time.Minute))
	trip(t, cb, 2)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, "circuit breaker is open", ErrCircuitOpen.Error())
}

func TestCircuitBreaker_Execute_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(2), WithResetTimeout(30*time.Millisecond))
	trip(t, cb, 2)
	time.Sleep(40 * time.Millisecond)

	// When: the recovered endpoint answers the test request
	err := cb.Execute(func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_Execute_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(2), WithResetTimeout(30*time.Millisecond))
	trip(t, cb, 2)
	time.Sleep(40 * time.Millisecond)

	// When: the test request still hits the outage
	err := cb.Execute(func() error { return errUpstreamDown })

	require.ErrorIs(t, err, errUpstreamDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitExecuteWithResult_FallbackWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(1), WithResetTimeout(time.Minute))
	trip(t, cb, 1)

	// When: a verification call finds the circuit open
	answer, err := CircuitExecuteWithResult(cb,
		func() (string, error) {
			t.Fatal("primary must not run while the circuit is open")
			return "", nil
		},
		func() (string, error) {
			return "根据检索结果，上限为600元。", nil
		},
	)

	// Then: the degraded path serves the answer
	require.NoError(t, err)
	assert.Equal(t, "根据检索结果，上限为600元。", answer)
}

func TestCircuitExecuteWithResult_PrimaryWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker("llm")

	answer, err := CircuitExecuteWithResult(cb,
		func() (string, error) { return "上限为600元。", nil },
		func() (string, error) {
			t.Fatal("fallback must not run while the circuit is closed")
			return "", nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, "上限为600元。", answer)
}

func TestCircuitExecuteWithResult_CountsPrimaryFailures(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(2), WithResetTimeout(time.Minute))

	for i := 0; i < 2; i++ {
		_, err := CircuitExecuteWithResult(cb,
			func() (int, error) { return 0, errUpstreamDown },
			func() (int, error) { return -1, nil },
		)
		require.ErrorIs(t, err, errUpstreamDown)
	}

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ConcurrentMixedOutcomes(t *testing.T) {
	cb := NewCircuitBreaker("llm", WithMaxFailures(50), WithResetTimeout(time.Minute))

	var wg sync.WaitGroup
	var completed atomic.Int32

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%3 == 0 {
					return errUpstreamDown
				}
				return nil
			})
			completed.Add(1)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 40, completed.Load())
	assert.Equal(t, StateClosed, cb.State())
}
