package transactions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/database"
	"carbon-scribe/marketplace/marketplace-backend/internal/inventory"
	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
	"carbon-scribe/marketplace/marketplace-backend/internal/notifications"
	"carbon-scribe/marketplace/marketplace-backend/internal/pricing"
	"carbon-scribe/marketplace/marketplace-backend/pkg/cache"
)

var (
	admin  = auth.Actor{UserID: "admin-1", Role: auth.RoleAdmin}
	buyer  = auth.Actor{UserID: "buyer-1", Role: auth.RoleBuyer, KYCVerified: true}
	seller = auth.Actor{UserID: "seller-1", Role: auth.RoleSeller}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notifications.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	repo      Repository
	ledger    *inventory.Service
	service   *Service
	publisher *recordingPublisher
	project   *inventory.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(append(inventory.Models(), Models()...)...))

	m := metrics.New(prometheus.NewRegistry())
	ledger := inventory.NewService(inventory.NewRepository(db.Gorm), cache.New(nil, "", 0), m, zap.NewNop())
	repo := NewRepository(db.Gorm)
	publisher := &recordingPublisher{}
	svc := NewService(repo, ledger, pricing.NewDefaultEngine(), publisher, m, zap.NewNop(), 3)

	ctx := context.Background()
	project, err := ledger.RegisterProject(ctx, admin, inventory.RegisterProjectRequest{
		SellerID:     seller.UserID,
		Name:         "Mangrove Coast",
		TotalCredits: 100,
		PriceAED:     decimal.RequireFromString("36.725"),
		PriceUSD:     decimal.NewFromInt(10),
		PriceUSDT:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	project, err = ledger.ApproveProject(ctx, admin, project.ID)
	require.NoError(t, err)

	return &fixture{db: db.Gorm, repo: repo, ledger: ledger, service: svc, publisher: publisher, project: project}
}

func (f *fixture) order(t *testing.T, amount int64, method string) *Transaction {
	t.Helper()
	txn, err := f.service.CreateOrder(context.Background(), buyer, f.request(amount, method))
	require.NoError(t, err)
	return txn
}

func (f *fixture) request(amount int64, method string) CreateOrderRequest {
	return CreateOrderRequest{
		ProjectID:     f.project.ID,
		LineItems:     []OrderItemRequest{{CreditID: f.project.ID.String(), Amount: amount}},
		Currency:      "USD",
		PaymentMethod: method,
	}
}

func (f *fixture) available(t *testing.T) int64 {
	t.Helper()
	project, err := f.ledger.GetProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	return project.AvailableCredits
}

func statuses(txn *Transaction) []string {
	out := make([]string, len(txn.StatusHistory))
	for i, e := range txn.StatusHistory {
		out[i] = e.Status
	}
	return out
}

func TestHappyPathCardOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.order(t, 30, "card")
	assert.Equal(t, StatusPending, txn.Status)
	assert.True(t, txn.Subtotal.Equal(decimal.NewFromInt(300)))
	assert.True(t, txn.Fee.Equal(decimal.NewFromInt(6)))
	assert.True(t, txn.Discount.IsZero())
	assert.Equal(t, "306.00", txn.Total.StringFixed(2))
	assert.Equal(t, seller.UserID, txn.SellerID)
	require.Len(t, txn.StatusHistory, 1)
	assert.Equal(t, "Transaction initiated", txn.StatusHistory[0].Note)
	assert.Equal(t, int64(70), f.available(t))

	completed, err := f.service.Complete(ctx, seller, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, []string{StatusPending, StatusProcessing, StatusCompleted}, statuses(completed))
	assert.Equal(t, []int{1, 2, 3}, []int{completed.StatusHistory[0].Seq, completed.StatusHistory[1].Seq, completed.StatusHistory[2].Seq})
	assert.Equal(t, int64(70), f.available(t))

	reloaded, err := f.service.Get(ctx, buyer, txn.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.LineItems, 1)
	assert.True(t, reloaded.LineItems[0].UnitPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, reloaded.Total.Equal(decimal.NewFromInt(306)))

	assert.Contains(t, f.publisher.types(), notifications.EventOrderCreated)
	assert.Contains(t, f.publisher.types(), notifications.EventOrderStatusChanged)
}

func TestOversellRejected(t *testing.T) {
	f := newFixture(t)
	f.order(t, 30, "card")

	_, err := f.service.CreateOrder(context.Background(), buyer, f.request(80, "card"))
	var insufficient *apperr.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(80), insufficient.Requested)
	assert.Equal(t, int64(70), insufficient.Available)
	assert.Equal(t, int64(70), f.available(t))

	var count int64
	require.NoError(t, f.db.Model(&Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRefundRestoresCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.order(t, 30, "card")
	_, err := f.service.Complete(ctx, admin, txn.ID)
	require.NoError(t, err)

	refunded, err := f.service.Transition(ctx, seller, txn.ID, StatusRefunded, "Buyer cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)
	assert.Equal(t, int64(100), f.available(t))

	_, err = f.service.Transition(ctx, admin, txn.ID, StatusRefunded, "again")
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusRefunded, terr.Current)
	assert.Equal(t, int64(100), f.available(t))
}

func TestTokenPaymentDiscount(t *testing.T) {
	f := newFixture(t)

	txn := f.order(t, 10, "izra-token")
	assert.True(t, txn.Subtotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, txn.Fee.IsZero())
	assert.True(t, txn.Discount.Equal(decimal.NewFromInt(10)))
	assert.True(t, txn.Total.Equal(decimal.NewFromInt(90)))
}

func TestIllegalTransitionLeavesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.order(t, 5, "card")

	_, err := f.service.Transition(ctx, admin, txn.ID, StatusCompleted, "skip ahead")
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusPending, terr.Current)
	assert.Equal(t, StatusCompleted, terr.Target)
	assert.ElementsMatch(t, []string{StatusProcessing, StatusFailed, StatusDisputed}, terr.Allowed)

	reloaded, err := f.repo.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reloaded.Status)
	assert.Len(t, reloaded.StatusHistory, 1)
	assert.Equal(t, int64(1), reloaded.Version)
}

func TestTransitionLegalityGrid(t *testing.T) {
	all := []string{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded, StatusDisputed}
	legal := map[[2]string]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusPending, StatusFailed}:       true,
		{StatusPending, StatusDisputed}:     true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusProcessing, StatusDisputed}:  true,
		{StatusCompleted, StatusRefunded}:   true,
		{StatusCompleted, StatusDisputed}:   true,
		{StatusDisputed, StatusCompleted}:   true,
		{StatusDisputed, StatusRefunded}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]string{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.Equal(t, []string{StatusFailed, StatusRefunded}, ReleasingStatuses())
	assert.False(t, releasesCredits(StatusCompleted))
}

func TestFailReleasesOnceUnderRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.order(t, 40, "card")
	require.Equal(t, int64(60), f.available(t))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Transition(ctx, admin, txn.ID, StatusFailed, "Payment declined")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			var terr *apperr.InvalidTransitionError
			if !errors.As(err, &terr) && !apperr.IsConcurrentModification(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(100), f.available(t))

	reloaded, err := f.repo.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusPending, StatusFailed}, statuses(reloaded))
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.order(t, 10, "card")

	first, err := f.service.Complete(ctx, seller, txn.ID)
	require.NoError(t, err)
	second, err := f.service.Complete(ctx, seller, txn.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.Len(t, second.StatusHistory, 3)
}

func TestPaymentConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.order(t, 10, "card")

	confirmed, err := f.service.PaymentConfirmed(ctx, txn.ID, "card", "pi_123")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, confirmed.Status)
	require.NotNil(t, confirmed.PaymentReference)
	assert.Equal(t, "pi_123", *confirmed.PaymentReference)
	assert.Equal(t, "system", confirmed.StatusHistory[2].ActorID)

	again, err := f.service.PaymentConfirmed(ctx, txn.ID, "card", "pi_123")
	require.NoError(t, err)
	assert.Equal(t, confirmed.Version, again.Version)

	_, err = f.service.PaymentConfirmed(ctx, txn.ID, "card", "")
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDisputeAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.order(t, 10, "card")
	_, err := f.service.Dispute(ctx, buyer, pending.ID, "never delivered")
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	txn := f.order(t, 20, "card")
	_, err = f.service.Complete(ctx, seller, txn.ID)
	require.NoError(t, err)

	_, err = f.service.Dispute(ctx, seller, txn.ID, "seller cannot dispute")
	var ferr *apperr.ForbiddenError
	require.ErrorAs(t, err, &ferr)

	disputed, err := f.service.Dispute(ctx, buyer, txn.ID, "credits not retired")
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, disputed.Status)
	require.NotNil(t, disputed.Dispute)
	assert.Equal(t, DisputeRaised, disputed.Dispute.Status)
	assert.Equal(t, "credits not retired", disputed.Dispute.Reason)
	assert.Equal(t, buyer.UserID, disputed.Dispute.RaisedBy)

	_, err = f.service.Resolve(ctx, seller, txn.ID, ResolutionDismissed, "")
	require.ErrorAs(t, err, &ferr)

	dismissed, err := f.service.Resolve(ctx, admin, txn.ID, ResolutionDismissed, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, dismissed.Status)
	assert.Equal(t, DisputeResolved, dismissed.Dispute.Status)
	assert.Equal(t, ResolutionDismissed, dismissed.Dispute.Resolution)
	assert.Equal(t, int64(70), f.available(t))

	_, err = f.service.Dispute(ctx, buyer, txn.ID, "still not retired")
	require.NoError(t, err)
	upheld, err := f.service.Resolve(ctx, admin, txn.ID, ResolutionUpheld, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, upheld.Status)
	assert.Equal(t, ResolutionUpheld, upheld.Dispute.Resolution)
	assert.Equal(t, int64(90), f.available(t))

	assert.Contains(t, f.publisher.types(), notifications.EventOrderDisputed)
	assert.Contains(t, f.publisher.types(), notifications.EventOrderDisputeResolved)
}

func TestResolveRequiresOpenDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.order(t, 10, "card")
	processing := f.order(t, 10, "card")
	_, err := f.service.Transition(ctx, seller, processing.ID, StatusProcessing, "")
	require.NoError(t, err)
	completed := f.order(t, 10, "card")
	_, err = f.service.Complete(ctx, seller, completed.ID)
	require.NoError(t, err)
	require.Equal(t, int64(70), f.available(t))

	for _, id := range []uuid.UUID{pending.ID, processing.ID, completed.ID} {
		before, err := f.repo.Get(ctx, id)
		require.NoError(t, err)

		for _, resolution := range []string{ResolutionDismissed, ResolutionUpheld} {
			_, err = f.service.Resolve(ctx, admin, id, resolution, "")
			var terr *apperr.InvalidTransitionError
			require.ErrorAs(t, err, &terr, "%s %s", before.Status, resolution)
			assert.Equal(t, before.Status, terr.Current)
		}

		after, err := f.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, statuses(before), statuses(after))
		assert.Nil(t, after.Dispute)
	}
	assert.Equal(t, int64(70), f.available(t))
}

func TestDisputedOrderIgnoresSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.order(t, 10, "card")
	disputed, err := f.service.Transition(ctx, buyer, txn.ID, StatusDisputed, "charged twice")
	require.NoError(t, err)
	require.NotNil(t, disputed.Dispute)

	_, err = f.service.PaymentConfirmed(ctx, txn.ID, "card", "pi_late")
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusDisputed, terr.Current)
	assert.Empty(t, terr.Allowed)

	_, err = f.service.Complete(ctx, admin, txn.ID)
	require.ErrorAs(t, err, &terr)

	_, err = f.service.Transition(ctx, admin, txn.ID, StatusRefunded, "bypass")
	require.ErrorAs(t, err, &terr)

	reloaded, err := f.repo.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, reloaded.Status)
	assert.Equal(t, DisputeRaised, reloaded.Dispute.Status)
	assert.Empty(t, reloaded.Dispute.Resolution)
	assert.Nil(t, reloaded.PaymentReference)
	assert.Equal(t, []string{StatusPending, StatusDisputed}, statuses(reloaded))
	assert.Equal(t, int64(90), f.available(t))

	resolved, err := f.service.Resolve(ctx, admin, txn.ID, ResolutionUpheld, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, resolved.Status)
	assert.Equal(t, admin.UserID, resolved.Dispute.ResolvedBy)
	assert.Equal(t, int64(100), f.available(t))
}

func TestCreateOrderAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ferr *apperr.ForbiddenError

	unverified := auth.Actor{UserID: "buyer-2", Role: auth.RoleBuyer}
	_, err := f.service.CreateOrder(ctx, unverified, f.request(1, "card"))
	assert.ErrorAs(t, err, &ferr)

	_, err = f.service.CreateOrder(ctx, seller, f.request(1, "card"))
	assert.ErrorAs(t, err, &ferr)

	txn := f.order(t, 1, "card")
	_, err = f.service.Complete(ctx, buyer, txn.ID)
	assert.ErrorAs(t, err, &ferr)

	stranger := auth.Actor{UserID: "buyer-3", Role: auth.RoleBuyer, KYCVerified: true}
	_, err = f.service.Get(ctx, stranger, txn.ID)
	assert.ErrorAs(t, err, &ferr)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(1, "card")
	req.Currency = "IZRA"
	_, err := f.service.CreateOrder(ctx, buyer, req)
	var cerr *apperr.UnsupportedCurrencyError
	assert.ErrorAs(t, err, &cerr)

	req = f.request(1, "card")
	req.LineItems[0].CreditID = uuid.NewString()
	_, err = f.service.CreateOrder(ctx, buyer, req)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)

	req = f.request(1, "cheque")
	_, err = f.service.CreateOrder(ctx, buyer, req)
	assert.ErrorAs(t, err, &verr)

	assert.Equal(t, int64(100), f.available(t))
}

func TestCreateOrderAED(t *testing.T) {
	f := newFixture(t)
	req := f.request(3, "bank_transfer")
	req.Currency = "aed"

	txn, err := f.service.CreateOrder(context.Background(), buyer, req)
	require.NoError(t, err)
	assert.Equal(t, "AED", txn.Currency)
	// 3 x 36.725 = 110.175; fee 2.2035; total 112.3785
	assert.Equal(t, "112.38", txn.Total.StringFixed(2))
}

type MockRepository struct {
	mock.Mock
	Repository
}

func (m *MockRepository) Create(ctx context.Context, txn *Transaction, actor auth.Actor) error {
	args := m.Called(ctx, txn, actor)
	return args.Error(0)
}

func TestPersistFailureCompensatesReservation(t *testing.T) {
	f := newFixture(t)
	repo := new(MockRepository)
	repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))

	svc := NewService(repo, f.ledger, pricing.NewDefaultEngine(), nil, nil, zap.NewNop(), 3)
	_, err := svc.CreateOrder(context.Background(), buyer, f.request(25, "card"))

	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, int64(100), f.available(t))

	var held int64
	require.NoError(t, f.db.Model(&inventory.CreditReservation{}).
		Where("status = ?", inventory.ReservationHeld).Count(&held).Error)
	assert.Equal(t, int64(0), held)
	repo.AssertExpectations(t)
}
