package service

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReaperService_ReclaimsAndPrunes(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ledger := store.NewMemJobLedger(store.LedgerOptions{
		LeaseTTL:     time.Minute,
		MaxAttempts:  3,
		RetryBackoff: time.Second,
		Clock:        clock,
	})

	require.NoError(t, ledger.Enqueue(ctx, domain.Job{ID: "stuck", Identity: "did:plc:a"}))
	require.NoError(t, ledger.Enqueue(ctx, domain.Job{ID: "old", Identity: "did:plc:b"}))
	_, err := ledger.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, ledger.MarkDone(ctx, "old"))

	clock.Advance(2 * time.Hour)

	reaper := NewReaperService(ledger, time.Hour, zap.NewNop())
	reaper.SetClock(clock)
	reaper.run(ctx)

	stuck, err := ledger.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, stuck.State)
	assert.Equal(t, "lease expired", stuck.LastError)

	_, err = ledger.Get(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReaperService_StartStop(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	ledger := store.NewMemJobLedger(store.LedgerOptions{LeaseTTL: time.Minute, Clock: clock})
	require.NoError(t, ledger.Enqueue(ctx, domain.Job{ID: "stuck", Identity: "did:plc:a"}))
	_, err := ledger.ClaimNext(ctx)
	require.NoError(t, err)

	reaper := NewReaperService(ledger, time.Hour, zap.NewNop())
	reaper.SetClock(clock)
	reaper.SetInterval(10 * time.Second)
	reaper.Start()
	defer reaper.Stop()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Minute)

	require.Eventually(t, func() bool {
		state, _, err := ledger.Status(ctx, "stuck")
		return err == nil && state == domain.JobStatePending
	}, time.Second, time.Millisecond)
}
