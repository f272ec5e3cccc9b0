package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/observability"
)

func quietContext() context.Context {
	return observability.WithLogger(context.Background(), observability.NopLogger())
}

func TestSafeGo_Success(t *testing.T) {
	var executed atomic.Bool

	SafeGo(quietContext(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGo_ErrorIsSwallowed(t *testing.T) {
	var executed atomic.Bool

	SafeGo(quietContext(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return errors.New("test error")
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	var reached atomic.Bool

	SafeGo(quietContext(), time.Second, "panicking task", func(ctx context.Context) error {
		reached.Store(true)
		panic("boom")
	})

	assert.Eventually(t, reached.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGo_OutlivesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(quietContext())
	started := make(chan struct{})
	var finished atomic.Bool

	SafeGo(parent, time.Second, "detached task", func(ctx context.Context) error {
		close(started)
		select {
		case <-time.After(50 * time.Millisecond):
			finished.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	<-started
	cancel()
	assert.Eventually(t, finished.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGo_Timeout(t *testing.T) {
	var timedOut atomic.Bool

	SafeGo(quietContext(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	})

	assert.Eventually(t, timedOut.Load, time.Second, 10*time.Millisecond)
}

func TestWorkerPool_Basic(t *testing.T) {
	pool := NewWorkerPool(quietContext(), 3, "test", time.Second)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(2*time.Second))
	assert.Equal(t, int32(10), count.Load())
}

func TestWorkerPool_Errors(t *testing.T) {
	pool := NewWorkerPool(quietContext(), 2, "test", time.Second)

	require.NoError(t, pool.Submit(func(ctx context.Context) error { return errors.New("first") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error { panic("second") }))
	require.NoError(t, pool.Shutdown(2*time.Second))

	var errs []error
	for len(errs) < 2 {
		select {
		case err := <-pool.Errors():
			errs = append(errs, err)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 errors, got %d", len(errs))
		}
	}
	assert.Len(t, errs, 2)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(quietContext(), 1, "test", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))

	err := pool.Submit(func(ctx context.Context) error { return nil })
	assert.Error(t, err)
	// second shutdown is a no-op
	assert.NoError(t, pool.Shutdown(time.Second))
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	pool := NewWorkerPool(quietContext(), 1, "test", 20*time.Millisecond)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, pool.Shutdown(time.Second))

	select {
	case err := <-pool.Errors():
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(time.Second):
		t.Fatal("expected a timeout error")
	}
}

func TestBatch(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	var seen atomic.Int32

	errs := Batch(quietContext(), items, 2, "test", time.Second, func(ctx context.Context, item string) error {
		seen.Add(1)
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int32(len(items)), seen.Load())
}

func TestBatch_CollectsErrors(t *testing.T) {
	items := []int{1, 2, 3, 4}

	errs := Batch(quietContext(), items, 2, "test", time.Second, func(ctx context.Context, item int) error {
		if item%2 == 0 {
			return errors.New("even")
		}
		return nil
	})

	assert.Len(t, errs, 2)
}
