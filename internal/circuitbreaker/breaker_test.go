package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failing(calls *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		calls.Add(1)
		return errUpstream
	}
}

func succeeding(calls *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		calls.Add(1)
		return nil
	}
}

func TestNewBreakerIsClosed(t *testing.T) {
	cb := New(3, time.Second)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
	assert.False(t, cb.IsOpen())
	assert.Equal(t, 0, cb.Failures())
}

func TestOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	cb := New(3, time.Minute)
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		err := cb.Call(ctx, failing(&calls))
		var callErr *CallFailedError
		require.ErrorAs(t, err, &callErr)
		assert.ErrorIs(t, err, errUpstream)
	}

	assert.True(t, cb.IsOpen())
	assert.Equal(t, "open", cb.State().String())

	err := cb.Call(ctx, failing(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load(), "wrapped function must not run while open")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	cb := New(3, time.Minute)
	var calls atomic.Int32

	_ = cb.Call(ctx, failing(&calls))
	_ = cb.Call(ctx, failing(&calls))
	require.Equal(t, 2, cb.Failures())

	require.NoError(t, cb.Call(ctx, succeeding(&calls)))
	assert.Equal(t, 0, cb.Failures())

	_ = cb.Call(ctx, failing(&calls))
	_ = cb.Call(ctx, failing(&calls))
	assert.False(t, cb.IsOpen())
}

func TestHalfOpenRecovery(t *testing.T) {
	ctx := context.Background()
	cb := New(2, 100*time.Millisecond)
	var calls atomic.Int32

	_ = cb.Call(ctx, failing(&calls))
	_ = cb.Call(ctx, failing(&calls))
	require.True(t, cb.IsOpen())

	time.Sleep(150 * time.Millisecond)

	require.NoError(t, cb.Call(ctx, succeeding(&calls)))
	assert.False(t, cb.IsOpen())
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	cb := New(1, 100*time.Millisecond)
	var calls atomic.Int32

	_ = cb.Call(ctx, failing(&calls))
	require.True(t, cb.IsOpen())

	time.Sleep(150 * time.Millisecond)

	err := cb.Call(ctx, failing(&calls))
	var callErr *CallFailedError
	require.ErrorAs(t, err, &callErr)
	assert.True(t, cb.IsOpen())

	err = cb.Call(ctx, succeeding(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestShouldAttemptTransitionsToHalfOpen(t *testing.T) {
	cb := New(1, 50*time.Millisecond)
	cb.RecordFailure()
	require.False(t, cb.ShouldAttempt())

	time.Sleep(80 * time.Millisecond)

	assert.True(t, cb.ShouldAttempt())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, "half_open", cb.State().String())
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	ctx := context.Background()
	cb := New(1, 20*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(40 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var trialCalls atomic.Int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Call(ctx, func(context.Context) error {
			trialCalls.Add(1)
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := cb.Call(ctx, func(context.Context) error {
		trialCalls.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), trialCalls.Load())
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteReturnsValue(t *testing.T) {
	cb := New(2, time.Second)

	v, err := Execute(context.Background(), cb, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestReset(t *testing.T) {
	cb := New(1, time.Hour)
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	cb.Reset()

	assert.False(t, cb.IsOpen())
	assert.Equal(t, 0, cb.Failures())
	assert.True(t, cb.ShouldAttempt())
}

func TestStateListener(t *testing.T) {
	cb := New(1, 10*time.Millisecond)

	var mu sync.Mutex
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.ShouldAttempt())
	cb.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func cancelledBy(ctx context.Context) func(context.Context) error {
	return func(context.Context) error {
		return ctx.Err()
	}
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	cb := New(2, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		err := cb.Call(ctx, cancelledBy(ctx))
		var callErr *CallFailedError
		require.ErrorAs(t, err, &callErr)
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestDeadlineStillCountsAsFailure(t *testing.T) {
	cb := New(1, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_ = cb.Call(ctx, cancelledBy(ctx))
	assert.True(t, cb.IsOpen())
}

func TestCancelledTrialFreesHalfOpenSlot(t *testing.T) {
	cb := New(1, 20*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(40 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = cb.Call(ctx, cancelledBy(ctx))
	require.Equal(t, StateHalfOpen, cb.State())

	var calls atomic.Int32
	require.NoError(t, cb.Call(context.Background(), succeeding(&calls)))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateClosed, cb.State())
}

func TestReleaseTrialOutsideHalfOpen(t *testing.T) {
	cb := New(1, time.Hour)
	cb.ReleaseTrial()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	cb.ReleaseTrial()
	assert.True(t, cb.IsOpen())
	assert.False(t, cb.ShouldAttempt())
}
