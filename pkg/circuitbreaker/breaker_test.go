package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func trip(t *testing.T, b *Breaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		_ = b.Execute(context.Background(), func() error { return errBoom })
	}
}

func TestStartsClosed(t *testing.T) {
	b := New("test", Config{})
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3})

	trip(t, b, 3)
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3})

	trip(t, b, 2)
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	trip(t, b, 2)

	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond})

	trip(t, b, 1)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestClosesAfterHalfOpenSuccesses(t *testing.T) {
	b := New("test", Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      time.Millisecond,
		MaxProbes:        2,
	})

	trip(t, b, 1)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))

	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, OpenTimeout: time.Millisecond})

	trip(t, b, 1)
	time.Sleep(5 * time.Millisecond)

	_ = b.Execute(context.Background(), func() error { return errBoom })
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	b := New("test", Config{
		FailureThreshold: 1,
		SuccessThreshold: 5,
		OpenTimeout:      time.Millisecond,
		MaxProbes:        1,
	})

	trip(t, b, 1)
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := b.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestContextCancelledBeforeCall(t *testing.T) {
	b := New("test", Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := b.Execute(ctx, func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, StateClosed, b.State())
}

func TestContextCancellationDoesNotTrip(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, func() error { return nil })
		require.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), func() error { return nil }))
}
