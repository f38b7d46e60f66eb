package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	cb := New("test-start", Config{FailureThreshold: 3, RecoveryTimeout: time.Second})

	assert.Equal(t, StateClosed, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := New("test-threshold", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	calls := 0
	fail := func() error {
		calls++
		return fmt.Errorf("failure %d", calls)
	}

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), fail)
		assert.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	// A fourth call fails fast without invoking the wrapped function
	err := cb.Execute(context.Background(), fail)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls)
}

func TestBreakerFailureCountNotResetByClosedSuccess(t *testing.T) {
	cb := New("test-count", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	boom := errors.New("boom")
	_ = cb.Execute(context.Background(), func() error { return boom })
	_ = cb.Execute(context.Background(), func() error { return boom })
	_ = cb.Execute(context.Background(), func() error { return nil })

	// Two prior failures still count; one more reaches the threshold
	_ = cb.Execute(context.Background(), func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerRecovery(t *testing.T) {
	t.Run("trial success closes the circuit", func(t *testing.T) {
		cb := New("test-recover", Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

		_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(30 * time.Millisecond)

		invoked := false
		err := cb.Execute(context.Background(), func() error {
			invoked = true
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, invoked, "trial call must actually be attempted")
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, 0, cb.Stats().Failures)
	})

	t.Run("trial failure reopens the circuit", func(t *testing.T) {
		cb := New("test-reopen", Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

		_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
		time.Sleep(30 * time.Millisecond)

		err := cb.Execute(context.Background(), func() error { return errors.New("still down") })
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, StateOpen, cb.State())

		// Failure timestamp was refreshed, so the next call fails fast
		err = cb.Execute(context.Background(), func() error {
			t.Fatal("wrapped function must not run while open")
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	cb := New("test-single-trial", Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- cb.Execute(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.Equal(t, StateHalfOpen, cb.State())

	// A concurrent caller is rejected while the trial is in flight
	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerExcludedErrors(t *testing.T) {
	notFound := errors.New("resource not found")

	cb := New("test-excluded", Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		IsExcluded:       ExcludeErrors(notFound),
	})

	// Any number of excluded failures never counts or transitions
	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func() error {
			return fmt.Errorf("lookup: %w", notFound)
		})
		assert.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().Failures)

	// Non-excluded failures still open the circuit
	_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
	_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerStateChangeHook(t *testing.T) {
	cb := New("test-hook", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	changes := make(chan string, 4)
	cb.OnStateChange(func(name string, from, to State) {
		changes <- fmt.Sprintf("%s:%s->%s", name, from, to)
	})

	_ = cb.Execute(context.Background(), func() error { return errors.New("down") })

	select {
	case change := <-changes:
		assert.Equal(t, "test-hook:closed->open", change)
	case <-time.After(time.Second):
		t.Fatal("expected state change notification")
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{FailureThreshold: 0, RecoveryTimeout: time.Second}.Validate())
	assert.Error(t, Config{FailureThreshold: 3, RecoveryTimeout: 0}.Validate())
}
