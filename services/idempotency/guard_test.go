package idempotency

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sqliteRepo "slotkeeper/database/repository/sqlite"
	"slotkeeper/models"
	"slotkeeper/utils"
)

func newTestGuard(t *testing.T) (*StoreGuard, *sqliteRepo.Store, *utils.FakeClock) {
	t.Helper()
	store, err := sqliteRepo.Open(filepath.Join(t.TempDir(), "guard.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	g := NewStoreGuard(store, nil, clock, zap.NewNop(), 2*time.Second, 72*time.Hour, utils.RetryPolicy{Attempts: 1})
	g.PollInterval = 5 * time.Millisecond
	return g, store, clock
}

func TestProcess_ReplayReturnsRecordedOutcome(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	var calls int32
	h := func(ctx context.Context) (models.EventOutcome, error) {
		n := atomic.AddInt32(&calls, 1)
		return models.EventOutcome{Message: "done", Data: map[string]string{"call": string(rune('0' + n))}}, nil
	}

	first, err := g.Process(ctx, "t1", "evt-42", "verification.succeeded", h)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, models.EventResultSucceeded, first.Outcome.Result)

	for i := 0; i < 3; i++ {
		again, err := g.Process(ctx, "t1", "evt-42", "verification.succeeded", h)
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, first.Outcome, again.Outcome)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProcess_ConcurrentDuplicates(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	h := func(ctx context.Context) (models.EventOutcome, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return models.EventOutcome{Message: "booked"}, nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Process(ctx, "t1", "evt-42", "verification.succeeded", h)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, results[0].Outcome, results[1].Outcome)
	assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate, "exactly one delivery runs the handler")
}

func TestProcess_FailureIsRecorded(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	var calls int32
	h := func(ctx context.Context) (models.EventOutcome, error) {
		atomic.AddInt32(&calls, 1)
		return models.EventOutcome{}, utils.Infrastructure("store down", errors.New("dial tcp 10.0.0.1:27017"))
	}

	first, err := g.Process(ctx, "t1", "evt-1", "appointment.cancel", h)
	require.NoError(t, err)
	assert.Equal(t, models.EventResultFailed, first.Outcome.Result)
	assert.NotContains(t, first.Outcome.Message, "10.0.0.1")

	again, err := g.Process(ctx, "t1", "evt-1", "appointment.cancel", h)
	require.NoError(t, err)
	assert.Equal(t, first.Outcome, again.Outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProcess_PanicIsRecorded(t *testing.T) {
	g, _, _ := newTestGuard(t)

	res, err := g.Process(context.Background(), "t1", "evt-1", "x", func(ctx context.Context) (models.EventOutcome, error) {
		panic("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventResultFailed, res.Outcome.Result)
}

func TestProcess_TenantsAreIsolated(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	var calls int32
	h := func(ctx context.Context) (models.EventOutcome, error) {
		atomic.AddInt32(&calls, 1)
		return models.EventOutcome{}, nil
	}
	for _, tenant := range []string{"t1", "t2"} {
		res, err := g.Process(ctx, tenant, "evt-42", "x", h)
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestProcess_PendingDuplicateTimesOut(t *testing.T) {
	g, store, clock := newTestGuard(t)
	g.WaitTimeout = 30 * time.Millisecond
	ctx := context.Background()

	_, err := store.InsertProcessedEvent(ctx, models.ProcessedEvent{
		TenantID:  "t1",
		EventID:   "evt-stuck",
		EventType: "x",
		Status:    models.EventPending,
		Outcome:   models.EventOutcome{Result: models.EventResultPending},
		CreatedAt: clock.Now(),
	})
	require.NoError(t, err)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
				clock.Advance(10 * time.Millisecond)
			}
		}
	}()

	res, err := g.Process(ctx, "t1", "evt-stuck", "x", func(ctx context.Context) (models.EventOutcome, error) {
		t.Fatal("handler must not run for a pending duplicate")
		return models.EventOutcome{}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, models.EventResultPending, res.Outcome.Result)
}

// lostReplyRepo commits the first insert and then reports a failure, as
// when the connection drops before the acknowledgement arrives.
type lostReplyRepo struct {
	*sqliteRepo.Store
	mu      sync.Mutex
	dropped bool
}

func (r *lostReplyRepo) InsertProcessedEvent(ctx context.Context, ev models.ProcessedEvent) (bool, error) {
	inserted, err := r.Store.InsertProcessedEvent(ctx, ev)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil && !r.dropped {
		r.dropped = true
		return false, utils.Infrastructure("reply lost", errors.New("connection reset"))
	}
	return inserted, err
}

func TestProcess_InsertRetryAfterLostReplyRunsHandlerOnce(t *testing.T) {
	g, store, _ := newTestGuard(t)
	g.Repo = &lostReplyRepo{Store: store}
	g.Retry = utils.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
	ctx := context.Background()

	var calls int32
	h := func(ctx context.Context) (models.EventOutcome, error) {
		atomic.AddInt32(&calls, 1)
		return models.EventOutcome{Message: "sent"}, nil
	}

	first, err := g.Process(ctx, "t1", "evt-lost", "verification.succeeded", h)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, models.EventResultSucceeded, first.Outcome.Result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	again, err := g.Process(ctx, "t1", "evt-lost", "verification.succeeded", h)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Outcome, again.Outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	ev, err := store.GetProcessedEvent(ctx, "t1", "evt-lost")
	require.NoError(t, err)
	assert.Equal(t, models.EventCompleted, ev.Status)
}

func TestProcess_RequiresIDs(t *testing.T) {
	g, _, _ := newTestGuard(t)
	_, err := g.Process(context.Background(), "t1", "", "x", nil)
	assert.True(t, utils.IsValidation(err))
}

func TestPrune(t *testing.T) {
	g, _, clock := newTestGuard(t)
	ctx := context.Background()
	h := func(ctx context.Context) (models.EventOutcome, error) { return models.EventOutcome{}, nil }

	_, err := g.Process(ctx, "t1", "old", "x", h)
	require.NoError(t, err)
	clock.Advance(73 * time.Hour)
	_, err = g.Process(ctx, "t1", "new", "x", h)
	require.NoError(t, err)

	n, err := g.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A pruned event id is processed again as new.
	res, err := g.Process(ctx, "t1", "old", "x", h)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}
