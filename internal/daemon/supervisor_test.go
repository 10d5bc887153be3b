package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorRestartsFailingTask(t *testing.T) {
	s := NewSupervisor(time.Millisecond, 5, testLogger())

	var runs atomic.Int32
	done := make(chan struct{})
	require.NoError(t, s.Register("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("boom")
		}
		close(done)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, "flaky"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not restarted")
	}
	assert.Equal(t, int32(3), runs.Load(), "two failures then a healthy run")
	assert.True(t, s.Running("flaky"))

	cancel()
	s.Wait()
	assert.False(t, s.Running("flaky"))
}

func TestSupervisorAbandonsAfterBudget(t *testing.T) {
	s := NewSupervisor(time.Millisecond, 2, testLogger())

	var runs atomic.Int32
	require.NoError(t, s.Register("hopeless", func(context.Context) error {
		runs.Add(1)
		return errors.New("always fails")
	}))

	require.NoError(t, s.Start(context.Background(), "hopeless"))
	s.Wait()
	// Initial run plus two restarts.
	assert.Equal(t, int32(3), runs.Load())
	assert.False(t, s.Running("hopeless"))
}

func TestSupervisorCleanExitStops(t *testing.T) {
	s := NewSupervisor(time.Millisecond, 5, testLogger())

	var runs atomic.Int32
	require.NoError(t, s.Register("oneshot", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.Start(context.Background(), "oneshot"))
	s.Wait()
	assert.Equal(t, int32(1), runs.Load(), "a nil return is terminal, not restarted")
}

func TestSupervisorStopCancelsTask(t *testing.T) {
	s := NewSupervisor(time.Millisecond, 5, testLogger())

	started := make(chan struct{})
	require.NoError(t, s.Register("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, s.Start(context.Background(), "loop"))
	<-started
	s.Stop("loop")
	assert.False(t, s.Running("loop"))
	s.Wait()
}

func TestSupervisorDoubleStartIsNoop(t *testing.T) {
	s := NewSupervisor(time.Millisecond, 5, testLogger())

	var runs atomic.Int32
	started := make(chan struct{}, 2)
	require.NoError(t, s.Register("loop", func(ctx context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, "loop"))
	<-started
	require.NoError(t, s.Start(ctx, "loop"))
	cancel()
	s.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

func TestSupervisorRegisterRunningTaskFails(t *testing.T) {
	s := NewSupervisor(time.Millisecond, 5, testLogger())

	started := make(chan struct{})
	require.NoError(t, s.Register("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, "loop"))
	<-started

	assert.Error(t, s.Register("loop", func(context.Context) error { return nil }))
	cancel()
	s.Wait()
}

func TestSupervisorUnknownTask(t *testing.T) {
	s := NewSupervisor(time.Millisecond, 5, testLogger())
	assert.Error(t, s.Start(context.Background(), "missing"))
}
