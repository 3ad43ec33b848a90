package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*MemJobLedger, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewMemJobLedger(LedgerOptions{
		LeaseTTL:     time.Minute,
		MaxAttempts:  2,
		RetryBackoff: 10 * time.Second,
		Clock:        clock,
	})
	return l, clock
}

func enqueue(t *testing.T, l domain.JobLedger, id string) {
	t.Helper()
	require.NoError(t, l.Enqueue(context.Background(), domain.Job{ID: id, Identity: "did:plc:" + id}))
}

func TestMemJobLedger_ClaimIsFIFO(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	enqueue(t, l, "a")
	enqueue(t, l, "b")
	enqueue(t, l, "c")

	for _, want := range []string{"a", "b", "c"} {
		job, err := l.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, domain.JobStateProcessing, job.State)
		assert.Equal(t, 1, job.Attempts)
	}

	job, err := l.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemJobLedger_ConcurrentClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemJobLedger(DefaultLedgerOptions())

	const jobs = 200
	for i := 0; i < jobs; i++ {
		enqueue(t, l, fmt.Sprintf("job-%d", i))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := l.ClaimNext(ctx)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestMemJobLedger_MarkDoneWhilePending(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	enqueue(t, l, "a")
	require.NoError(t, l.MarkDone(ctx, "a"))

	state, ok, err := l.Status(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.JobStateDone, state)

	job, err := l.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "done job must not be claimable")
}

func TestMemJobLedger_MarkDoneUnknownRecordsDone(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	require.NoError(t, l.MarkDone(ctx, "ghost"))
	state, ok, err := l.Status(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.JobStateDone, state)
}

func TestMemJobLedger_StatusUnknown(t *testing.T) {
	l, _ := newTestLedger(t)
	_, ok, err := l.Status(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemJobLedger_EnqueueOverwrites(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	enqueue(t, l, "a")
	require.NoError(t, l.MarkDone(ctx, "a"))
	enqueue(t, l, "a")

	state, _, _ := l.Status(ctx, "a")
	assert.Equal(t, domain.JobStatePending, state)

	job, err := l.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "a", job.ID)

	job, err = l.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "re-enqueue must not duplicate queue entries")
}

func TestMemJobLedger_FailRequeuesWithBackoff(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)

	enqueue(t, l, "a")
	job, err := l.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, l.Fail(ctx, "a", job.Attempts, "upstream down"))

	got, err := l.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, got.State)
	assert.Equal(t, "upstream down", got.LastError)
	require.NotNil(t, got.NotBefore)

	job, err = l.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "job is still backing off")

	clock.Advance(10 * time.Second)
	job, err = l.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)

	require.NoError(t, l.Fail(ctx, "a", job.Attempts, "still down"))
	state, _, _ := l.Status(ctx, "a")
	assert.Equal(t, domain.JobStateFailed, state)
}

func TestMemJobLedger_FailIgnoresNonProcessing(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	enqueue(t, l, "a")
	require.NoError(t, l.MarkDone(ctx, "a"))
	require.NoError(t, l.Fail(ctx, "a", domain.AnyAttempt, "late failure"))

	state, _, _ := l.Status(ctx, "a")
	assert.Equal(t, domain.JobStateDone, state)

	assert.ErrorIs(t, l.Fail(ctx, "missing", domain.AnyAttempt, "x"), ErrNotFound)
}

func TestMemJobLedger_ReclaimExpired(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)

	enqueue(t, l, "a")
	_, err := l.ClaimNext(ctx)
	require.NoError(t, err)

	n, err := l.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Minute + time.Second)
	n, err = l.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := l.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, got.State)
	assert.Equal(t, "lease expired", got.LastError)
}

func TestMemJobLedger_PruneFinished(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)

	enqueue(t, l, "old")
	require.NoError(t, l.MarkDone(ctx, "old"))
	clock.Advance(time.Hour)
	enqueue(t, l, "new")
	require.NoError(t, l.MarkDone(ctx, "new"))
	enqueue(t, l, "pending")

	n, err := l.PruneFinished(ctx, clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := l.Status(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = l.Status(ctx, "new")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestMemJobLedger_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	enqueue(t, l, "a")
	job, err := l.ClaimNext(ctx)
	require.NoError(t, err)
	job.State = domain.JobStateDone

	state, _, _ := l.Status(ctx, "a")
	assert.Equal(t, domain.JobStateProcessing, state)
}
