package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/database"
	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
	"carbon-scribe/marketplace/marketplace-backend/pkg/cache"
)

var admin = auth.Actor{UserID: "admin-1", Role: auth.RoleAdmin}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(Models()...))

	svc := NewService(
		NewRepository(db.Gorm),
		cache.New(nil, "availability:", 0),
		metrics.New(prometheus.NewRegistry()),
		zap.NewNop(),
	)
	return svc, db.Gorm
}

func approvedProject(t *testing.T, svc *Service, total int64) *Project {
	t.Helper()
	ctx := context.Background()
	project, err := svc.RegisterProject(ctx, admin, RegisterProjectRequest{
		SellerID:     "seller-1",
		Name:         "Mangrove Restoration",
		TotalCredits: total,
		PriceAED:     decimal.RequireFromString("36.725"),
		PriceUSD:     decimal.NewFromInt(10),
		PriceUSDT:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), project.AvailableCredits)

	project, err = svc.ApproveProject(ctx, admin, project.ID)
	require.NoError(t, err)
	require.Equal(t, total, project.AvailableCredits)
	return project
}

func heldTotal(t *testing.T, db *gorm.DB, projectID uuid.UUID) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&CreditReservation{}).
		Where("project_id = ? AND status = ?", projectID, ReservationHeld).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error)
	return total
}

func TestReserveAndRelease(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 100)

	token, err := svc.Reserve(ctx, project.ID, 30)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, token)

	available, err := svc.AvailableCredits(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), available)
	assert.Equal(t, int64(30), heldTotal(t, db, project.ID))

	restored, err := svc.ReleaseReservation(ctx, token, ReasonRefunded)
	require.NoError(t, err)
	assert.Equal(t, int64(30), restored)

	available, err = svc.AvailableCredits(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), available)
}

func TestReserveInsufficient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 100)

	_, err := svc.Reserve(ctx, project.ID, 30)
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, project.ID, 80)
	var insufficient *apperr.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(80), insufficient.Requested)
	assert.Equal(t, int64(70), insufficient.Available)

	available, err := svc.AvailableCredits(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), available)
}

func TestReserveRejectsUnapprovedAndUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	project, err := svc.RegisterProject(ctx, admin, RegisterProjectRequest{
		SellerID: "seller-1", Name: "Ghaf Belt", TotalCredits: 10,
	})
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, project.ID, 1)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Reserve(ctx, uuid.New(), 1)
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.Reserve(ctx, project.ID, 0)
	assert.ErrorAs(t, err, &verr)
}

func TestReleaseReservationIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 50)

	token, err := svc.Reserve(ctx, project.ID, 20)
	require.NoError(t, err)

	first, err := svc.ReleaseReservation(ctx, token, ReasonFailed)
	require.NoError(t, err)
	second, err := svc.ReleaseReservation(ctx, token, ReasonFailed)
	require.NoError(t, err)

	assert.Equal(t, int64(20), first)
	assert.Equal(t, int64(0), second)

	available, err := svc.AvailableCredits(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), available)
	assert.Equal(t, int64(0), heldTotal(t, db, project.ID))

	reservation, err := svc.GetReservation(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, ReservationReleased, reservation.Status)
	assert.Equal(t, ReasonFailed, reservation.ReleaseReason)
	assert.NotNil(t, reservation.ReleasedAt)
}

func TestConcurrentReleaseRestoresOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 40)

	token, err := svc.Reserve(ctx, project.ID, 25)
	require.NoError(t, err)

	var restored atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := svc.ReleaseReservation(ctx, token, ReasonRefunded)
			assert.NoError(t, err)
			restored.Add(n)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), restored.Load())
	available, err := svc.AvailableCredits(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), available)
}

func TestManualReleaseKeepsHeldCredits(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 100)

	_, err := svc.Reserve(ctx, project.ID, 30)
	require.NoError(t, err)

	restored, err := svc.Release(ctx, project.ID, 30)
	require.NoError(t, err)
	assert.Zero(t, restored)

	got, err := svc.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), got.AvailableCredits)
	assert.Equal(t, got.TotalCredits, got.AvailableCredits+heldTotal(t, db, project.ID))

	_, err = svc.Reserve(ctx, project.ID, 100)
	var insufficient *apperr.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(70), insufficient.Available)

	// credits lost outside any reservation are the only thing a manual release restores
	require.NoError(t, db.Model(&Project{}).Where("id = ?", project.ID).Update("available_credits", 60).Error)
	restored, err = svc.Release(ctx, project.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(10), restored)

	got, err = svc.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), got.AvailableCredits)
	assert.Equal(t, got.TotalCredits, got.AvailableCredits+heldTotal(t, db, project.ID))

	_, err = svc.Release(ctx, project.ID, 0)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNoOversellUnderConcurrency(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 100)

	var succeeded, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, project.ID, 3)
			switch {
			case err == nil:
				succeeded.Add(1)
			case apperr.IsInsufficientCredits(err):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(33), succeeded.Load())
	assert.Equal(t, int64(17), denied.Load())

	got, err := svc.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AvailableCredits)
	assert.Equal(t, got.TotalCredits, got.AvailableCredits+heldTotal(t, db, project.ID))
}

func TestConservationAcrossOperations(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 200)

	var tokens []uuid.UUID
	for _, amount := range []int64{15, 40, 5, 90, 60} {
		token, err := svc.Reserve(ctx, project.ID, amount)
		if err != nil {
			require.True(t, apperr.IsInsufficientCredits(err))
			continue
		}
		tokens = append(tokens, token)
	}
	_, err := svc.ReleaseReservation(ctx, tokens[1], ReasonExpired)
	require.NoError(t, err)
	_, err = svc.ReleaseReservation(ctx, tokens[1], ReasonExpired)
	require.NoError(t, err)

	got, err := svc.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.AvailableCredits, int64(0))
	assert.LessOrEqual(t, got.AvailableCredits, got.TotalCredits)
	assert.Equal(t, got.TotalCredits, got.AvailableCredits+heldTotal(t, db, project.ID))
}

func TestProjectStatusTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 10)

	_, err := svc.ApproveProject(ctx, admin, project.ID)
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ProjectApproved, terr.Current)

	suspended, err := svc.UpdateProjectStatus(ctx, admin, project.ID, ProjectSuspended)
	require.NoError(t, err)
	assert.Equal(t, ProjectSuspended, suspended.Status)

	_, err = svc.Reserve(ctx, project.ID, 1)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.UpdateProjectStatus(ctx, admin, project.ID, ProjectPendingApproval)
	assert.ErrorAs(t, err, &terr)

	reinstated, err := svc.UpdateProjectStatus(ctx, admin, project.ID, ProjectApproved)
	require.NoError(t, err)
	assert.Equal(t, int64(10), reinstated.AvailableCredits)
}

func TestProjectAdminGate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	buyer := auth.Actor{UserID: "b1", Role: auth.RoleBuyer, KYCVerified: true}

	_, err := svc.RegisterProject(ctx, buyer, RegisterProjectRequest{SellerID: "s", Name: "n", TotalCredits: 1})
	var ferr *apperr.ForbiddenError
	assert.ErrorAs(t, err, &ferr)
}

func TestCanWatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	project := approvedProject(t, svc, 10)

	assert.True(t, svc.CanWatch(ctx, auth.Actor{UserID: "seller-1", Role: auth.RoleSeller}, project.ID.String()))
	assert.True(t, svc.CanWatch(ctx, admin, project.ID.String()))
	assert.False(t, svc.CanWatch(ctx, auth.Actor{UserID: "buyer-1", Role: auth.RoleBuyer, KYCVerified: true}, project.ID.String()))
	assert.False(t, svc.CanWatch(ctx, auth.Actor{UserID: "seller-2", Role: auth.RoleSeller}, project.ID.String()))
	assert.False(t, svc.CanWatch(ctx, auth.Actor{UserID: "seller-1", Role: auth.RoleSeller}, uuid.NewString()))
	assert.False(t, svc.CanWatch(ctx, auth.Actor{UserID: "seller-1", Role: auth.RoleSeller}, "not-a-uuid"))
}
