package transactions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/inventory"
)

func newTestSweeper(f *fixture, now time.Time) *Sweeper {
	s := NewSweeper(f.service, f.repo, f.ledger, nil, SweeperConfig{
		Schedule:       "@every 1m",
		CheckoutWindow: 30 * time.Minute,
	}, nil, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestSweeperExpiresStalePendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.order(t, 20, "card")
	settled := f.order(t, 10, "card")
	_, err := f.service.Complete(ctx, seller, settled.ID)
	require.NoError(t, err)
	require.Equal(t, int64(70), f.available(t))

	fresh := newTestSweeper(f, time.Now().Add(time.Minute))
	result, err := fresh.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Expired)

	late := newTestSweeper(f, time.Now().Add(time.Hour))
	result, err = late.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 0, result.Reconciled)
	assert.Equal(t, int64(90), f.available(t))

	expired, err := f.repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, expired.Status)
	assert.Equal(t, "Checkout window expired", expired.StatusHistory[len(expired.StatusHistory)-1].Note)

	reservation, err := f.ledger.GetReservation(ctx, stale.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationReleased, reservation.Status)
	assert.Equal(t, inventory.ReasonExpired, reservation.ReleaseReason)

	// a second pass finds nothing left to do
	result, err = late.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, int64(90), f.available(t))
}

func TestSweeperReconcilesHeldReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.order(t, 25, "card")

	// status committed but the release never ran
	require.NoError(t, f.db.Model(&Transaction{}).Where("id = ?", txn.ID).
		Update("status", StatusFailed).Error)
	require.Equal(t, int64(75), f.available(t))

	result, err := newTestSweeper(f, time.Now()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Expired)
	assert.Equal(t, 1, result.Reconciled)
	assert.Equal(t, int64(100), f.available(t))

	result, err = newTestSweeper(f, time.Now()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Reconciled)
	assert.Equal(t, int64(100), f.available(t))
}

func TestSweeperStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	s := NewSweeper(f.service, f.repo, f.ledger, nil, SweeperConfig{Schedule: "not a schedule"}, nil, zap.NewNop())
	assert.Error(t, s.Start())

	s = NewSweeper(f.service, f.repo, f.ledger, nil, SweeperConfig{Schedule: "@every 1h"}, nil, zap.NewNop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()
	s.Stop()
}
