package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRunsAndForgetsFinishedTasks(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})

	require.NoError(t, r.Go("one", func(ctx context.Context) { close(done) }))
	<-done
	require.Eventually(t, func() bool { return !r.Running("one") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.Len())
}

func TestGoRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, r.Go("dup", func(ctx context.Context) { <-release }))
	assert.ErrorIs(t, r.Go("dup", func(ctx context.Context) {}), ErrTaskExists)
}

func TestCancelStopsTask(t *testing.T) {
	r := NewRegistry()
	stopped := make(chan struct{})

	require.NoError(t, r.Go("poller", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	}))
	assert.True(t, r.Cancel("poller"))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
	require.NoError(t, r.Wait(context.Background(), "poller"))
	assert.False(t, r.Cancel("missing"))
}

func TestShutdownCancelsAndDrains(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Go(name, func(ctx context.Context) { <-ctx.Done() }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, r.Go("late", func(ctx context.Context) {}), ErrClosed)
}

func TestShutdownTimesOutOnStuckTask(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, r.Go("stuck", func(ctx context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)
}

func TestPanicIsContained(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Go("boom", func(ctx context.Context) { panic("bad") }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
}

func TestDrainWaitsWithoutCancelling(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	var cancelled bool

	require.NoError(t, r.Go("terminate", func(ctx context.Context) {
		select {
		case <-release:
		case <-ctx.Done():
			cancelled = true
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Drain(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.Drain(context.Background()))
	assert.False(t, cancelled)
}
