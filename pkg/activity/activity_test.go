package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []*storage.ActivityEntry
	err     error
}

func (f *fakeStore) Record(ctx context.Context, entry *storage.ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStore) List(ctx context.Context, filter storage.ActivityFilter) ([]*storage.ActivityEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, nil
}

func quietContext() context.Context {
	return observability.WithLogger(context.Background(), observability.NopLogger())
}

func TestBestEffort(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(context.Context) error
		failures float64
	}{
		{"success", func(context.Context) error { return nil }, 0},
		{"error swallowed", func(context.Context) error { return errors.New("smtp down") }, 1},
		{"panic swallowed", func(context.Context) error { panic("nil map") }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewUnregisteredMetrics()
			assert.NotPanics(t, func() {
				BestEffort(quietContext(), metrics, KindBroadcast, tt.fn)
			})
			assert.Equal(t, tt.failures, testutil.ToFloat64(metrics.SideEffectFailuresTotal.WithLabelValues(KindBroadcast)))
		})
	}
}

func TestBestEffort_NilMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		BestEffort(quietContext(), nil, KindActivity, func(context.Context) error { return errors.New("x") })
	})
}

func TestRecorder_Record(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil)
	actor := uuid.New()

	rec.Record(quietContext(), actor.String(), ActionProjectCreated, "project", "p-1", storage.JSONObject{"name": "Atlas"})

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, actor, *entry.ActorID)
	assert.Equal(t, ActionProjectCreated, entry.Action)
	assert.Equal(t, "project", entry.EntityType)
	assert.Equal(t, "p-1", entry.EntityID)
}

func TestRecorder_RecordNonUUIDActor(t *testing.T) {
	store := &fakeStore{}
	NewRecorder(store, nil).Record(quietContext(), "system", ActionContactCreated, "contact", "c-1", nil)

	require.Len(t, store.entries, 1)
	assert.Nil(t, store.entries[0].ActorID)
}

func TestRecorder_RecordFailureIsCounted(t *testing.T) {
	metrics := observability.NewUnregisteredMetrics()
	rec := NewRecorder(&fakeStore{err: errors.New("db down")}, metrics)

	rec.Record(quietContext(), "", ActionTaskDeleted, "task", "t-1", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SideEffectFailuresTotal.WithLabelValues(KindActivity)))
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.Record(quietContext(), "", ActionTaskDeleted, "task", "t-1", nil)
		rec.Do(quietContext(), KindActivity, func(context.Context) error { return nil })
	})
}

func TestRecorder_Detach(t *testing.T) {
	metrics := observability.NewUnregisteredMetrics()
	rec := NewRecorder(nil, metrics)
	ctx, cancel := context.WithCancel(quietContext())

	done := make(chan struct{})
	rec.Detach(ctx, KindObjectCleanup, func(ctx context.Context) error {
		defer close(done)
		return errors.New("bucket unavailable")
	})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detached side effect did not run")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.SideEffectFailuresTotal.WithLabelValues(KindObjectCleanup)) == 1
	}, time.Second, 10*time.Millisecond)
}
