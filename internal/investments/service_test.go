package investments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/database"
	"carbon-scribe/marketplace/marketplace-backend/internal/inventory"
	"carbon-scribe/marketplace/marketplace-backend/pkg/cache"
)

var (
	admin    = auth.Actor{UserID: "admin-1", Role: auth.RoleAdmin}
	investor = auth.Actor{UserID: "investor-1", Role: auth.RoleInvestor, KYCVerified: true}
)

var maturityDay = time.Date(2028, 6, 30, 12, 0, 0, 0, time.UTC)

type fixture struct {
	service *Service
	project *inventory.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(append(inventory.Models(), Models()...)...))

	ledger := inventory.NewService(inventory.NewRepository(db.Gorm), cache.New(nil, "", 0), nil, zap.NewNop())
	ctx := context.Background()
	project, err := ledger.RegisterProject(ctx, admin, inventory.RegisterProjectRequest{
		SellerID:     "seller-1",
		Name:         "Ghaf Forest",
		TotalCredits: 500,
		PriceUSD:     decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	project, err = ledger.ApproveProject(ctx, admin, project.ID)
	require.NoError(t, err)

	svc := NewService(NewRepository(db.Gorm), ledger, nil, zap.NewNop())
	svc.now = func() time.Time { return maturityDay }
	return &fixture{service: svc, project: project}
}

func (f *fixture) debt(t *testing.T, amount string, currency string) *Investment {
	t.Helper()
	inv, err := f.service.Create(context.Background(), investor, CreateInvestmentRequest{
		ProjectID:      f.project.ID,
		InvestmentType: TypeDebt,
		Amount:         decimal.RequireFromString(amount),
		Currency:       currency,
		AnnualRate:     decimal.NewFromInt(8),
		TermMonths:     24,
		Details:        json.RawMessage(`{"paymentSchedule":"quarterly","secured":true}`),
	})
	require.NoError(t, err)
	return inv
}

func TestCreateProjectsReturnsAndPersistsDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.debt(t, "10000", "usd")

	assert.Equal(t, StatusPending, inv.Status)
	assert.Equal(t, "USD", inv.Currency)
	assert.Equal(t, "11600.00", inv.ExpectedReturns.TotalExpectedReturn.StringFixed(2))
	assert.Equal(t, int64(150), inv.ExpectedReturns.PaybackPeriodMonths)

	loaded, err := f.service.Get(ctx, investor, inv.ID)
	require.NoError(t, err)
	debt, ok := loaded.Details.(DebtDetails)
	require.True(t, ok)
	assert.Equal(t, "quarterly", debt.PaymentSchedule)
	assert.True(t, debt.Secured)
	assert.True(t, loaded.ExpectedReturns.AnnualRate.Equal(decimal.NewFromInt(8)))
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateInvestmentRequest{
		ProjectID:      f.project.ID,
		InvestmentType: TypeEquity,
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
		AnnualRate:     decimal.NewFromInt(5),
		TermMonths:     12,
		Details:        json.RawMessage(`{"sharePercentage":"150"}`),
	}
	var verr *apperr.ValidationError
	var ferr *apperr.ForbiddenError

	_, err := f.service.Create(ctx, investor, base)
	assert.ErrorAs(t, err, &verr)

	req := base
	req.Details = json.RawMessage(`{"sharePercentage":"2.5","valuation":"400000"}`)
	req.Currency = "IZRA"
	_, err = f.service.Create(ctx, investor, req)
	var cerr *apperr.UnsupportedCurrencyError
	assert.ErrorAs(t, err, &cerr)

	req.Currency = "USD"
	_, err = f.service.Create(ctx, auth.Actor{UserID: "investor-2", Role: auth.RoleInvestor}, req)
	assert.ErrorAs(t, err, &ferr)

	_, err = f.service.Create(ctx, auth.Actor{UserID: "buyer-1", Role: auth.RoleBuyer, KYCVerified: true}, req)
	assert.ErrorAs(t, err, &ferr)

	inv, err := f.service.Create(ctx, investor, req)
	require.NoError(t, err)
	assert.Equal(t, TypeEquity, inv.Details.InvestmentType())
}

func TestStatusStampsMaturity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.debt(t, "1000", "USD")

	_, err := f.service.UpdateStatus(ctx, investor, inv.ID, StatusActive)
	var ferr *apperr.ForbiddenError
	require.ErrorAs(t, err, &ferr)

	_, err = f.service.UpdateStatus(ctx, admin, inv.ID, StatusCompleted)
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []string{StatusActive}, terr.Allowed)

	active, err := f.service.UpdateStatus(ctx, admin, inv.ID, StatusActive)
	require.NoError(t, err)
	assert.Nil(t, active.MaturityDate)

	completed, err := f.service.UpdateStatus(ctx, admin, inv.ID, StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, completed.MaturityDate)
	assert.True(t, completed.MaturityDate.Equal(maturityDay))

	defaulted := f.debt(t, "1000", "USD")
	_, err = f.service.UpdateStatus(ctx, admin, defaulted.ID, StatusActive)
	require.NoError(t, err)
	defaultedNow, err := f.service.UpdateStatus(ctx, admin, defaulted.ID, StatusDefaulted)
	require.NoError(t, err)
	assert.Nil(t, defaultedNow.MaturityDate)
}

func TestReturnsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.debt(t, "1000", "USD")

	_, err := f.service.AddReturn(ctx, admin, inv.ID, AddReturnRequest{Amount: decimal.NewFromInt(10), ReturnType: ReturnInterest})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.service.UpdateStatus(ctx, admin, inv.ID, StatusActive)
	require.NoError(t, err)

	withOne, err := f.service.AddReturn(ctx, admin, inv.ID, AddReturnRequest{Amount: decimal.NewFromInt(40), ReturnType: ReturnInterest})
	require.NoError(t, err)
	withTwo, err := f.service.AddReturn(ctx, admin, inv.ID, AddReturnRequest{Amount: decimal.NewFromInt(40), ReturnType: ReturnInterest})
	require.NoError(t, err)
	require.Len(t, withTwo.Returns, 2)
	assert.Equal(t, ReturnPending, withOne.Returns[0].Status)
	assert.True(t, withTwo.TotalReturnsReceived().IsZero())

	first := withTwo.Returns[0].ID
	second := withTwo.Returns[1].ID

	paid, err := f.service.ConfirmReturn(ctx, admin, inv.ID, first, ReturnPaid)
	require.NoError(t, err)
	assert.Equal(t, "40.00", paid.TotalReturnsReceived().StringFixed(2))
	assert.Equal(t, "4.00", paid.ROIPercentage().StringFixed(2))

	_, err = f.service.ConfirmReturn(ctx, admin, inv.ID, first, ReturnReinvested)
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReturnPaid, terr.Current)

	reinvested, err := f.service.ConfirmReturn(ctx, admin, inv.ID, second, ReturnReinvested)
	require.NoError(t, err)
	assert.Equal(t, "40.00", reinvested.TotalReturnsReceived().StringFixed(2))

	_, err = f.service.ConfirmReturn(ctx, admin, inv.ID, inv.ProjectID, ReturnPaid)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.service.AddReturn(ctx, admin, inv.ID, AddReturnRequest{Amount: decimal.NewFromInt(1), ReturnType: "bonus"})
	require.ErrorAs(t, err, &verr)
}

func TestPortfolioSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	usd := f.debt(t, "1000", "USD")
	aed := f.debt(t, "3672.50", "AED")
	_ = f.debt(t, "500", "USDT")

	_, err := f.service.UpdateStatus(ctx, admin, usd.ID, StatusActive)
	require.NoError(t, err)
	_, err = f.service.UpdateStatus(ctx, admin, aed.ID, StatusActive)
	require.NoError(t, err)
	withReturn, err := f.service.AddReturn(ctx, admin, usd.ID, AddReturnRequest{Amount: decimal.NewFromInt(100), ReturnType: ReturnInterest})
	require.NoError(t, err)
	_, err = f.service.ConfirmReturn(ctx, admin, usd.ID, withReturn.Returns[0].ID, ReturnPaid)
	require.NoError(t, err)

	summary, list, err := f.service.Portfolio(ctx, investor, investor.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, 3, summary.Investments)
	assert.Equal(t, "USD", summary.Currency)
	assert.Equal(t, "2500.00", summary.TotalInvested.StringFixed(2))
	assert.Equal(t, "2900.00", summary.TotalExpected.StringFixed(2))
	assert.Equal(t, "100.00", summary.TotalReturns.StringFixed(2))
	assert.Equal(t, map[string]int{StatusActive: 2, StatusPending: 1}, summary.CountsByStatus)
	// (10 + 0 + 0) / 3
	assert.Equal(t, "3.33", summary.AverageROI.StringFixed(2))

	_, _, err = f.service.Portfolio(ctx, auth.Actor{UserID: "investor-2", Role: auth.RoleInvestor}, investor.UserID)
	var ferr *apperr.ForbiddenError
	assert.ErrorAs(t, err, &ferr)

	empty, _, err := f.service.Portfolio(ctx, admin, "nobody")
	require.NoError(t, err)
	assert.True(t, empty.AverageROI.IsZero())
	assert.Equal(t, 0, empty.Investments)
}

func TestExportPortfolioWorkbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.debt(t, "1000", "USD")
	_, err := f.service.UpdateStatus(ctx, admin, inv.ID, StatusActive)
	require.NoError(t, err)
	_, err = f.service.AddReturn(ctx, admin, inv.ID, AddReturnRequest{Amount: decimal.NewFromInt(20), ReturnType: ReturnInterest})
	require.NoError(t, err)

	summary, list, err := f.service.Portfolio(ctx, investor, investor.UserID)
	require.NoError(t, err)
	out, err := ExportPortfolio(summary, list)
	require.NoError(t, err)

	book, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer book.Close()

	assert.Equal(t, []string{summarySheet, investmentsSheet, returnsSheet}, book.GetSheetList())

	owner, err := book.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "investor-1", owner)

	id, err := book.GetCellValue(investmentsSheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, inv.ID.String(), id)

	rows, err := book.GetRows(returnsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "pending", rows[1][3])
}

func TestHandlerInvestmentFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	verifier := auth.NewTokenVerifier("secret")
	router := gin.New()
	NewHandler(f.service, zap.NewNop()).RegisterRoutes(router.Group("/api/v1", auth.Authenticate(verifier)))

	call := func(actor auth.Actor, method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		token, err := verifier.Issue(actor, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := call(investor, http.MethodPost, "/api/v1/investments", map[string]any{
		"projectId":      f.project.ID,
		"investmentType": "revenue_sharing",
		"amount":         "2000",
		"currency":       "USD",
		"annualRate":     "10",
		"termMonths":     12,
		"details":        map[string]any{"sharePercentage": "3", "cap": "5000"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID              string `json:"id"`
		ExpectedReturns struct {
			TotalExpectedReturn decimal.Decimal `json:"totalExpectedReturn"`
			PaybackPeriodMonths int64           `json:"paybackPeriodMonths"`
		} `json:"expectedReturns"`
		Details       map[string]any  `json:"details"`
		ROIPercentage decimal.Decimal `json:"roiPercentage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "2200.00", created.ExpectedReturns.TotalExpectedReturn.StringFixed(2))
	assert.Equal(t, int64(120), created.ExpectedReturns.PaybackPeriodMonths)
	assert.Equal(t, "3", created.Details["sharePercentage"])
	assert.True(t, created.ROIPercentage.IsZero())

	w = call(investor, http.MethodPost, "/api/v1/investments/"+created.ID+"/status", UpdateStatusRequest{Status: StatusActive})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(investor, http.MethodGet, "/api/v1/investors/investor-1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var portfolio struct {
		Summary     PortfolioSummary `json:"summary"`
		Investments []map[string]any `json:"investments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &portfolio))
	assert.Equal(t, "2000.00", portfolio.Summary.TotalInvested.StringFixed(2))
	assert.Len(t, portfolio.Investments, 1)

	w = call(investor, http.MethodGet, "/api/v1/investors/investor-1/portfolio.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
}

func TestConcurrentReturnsGetDistinctSeq(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.debt(t, "1000", "USD")
	_, err := f.service.UpdateStatus(ctx, admin, inv.ID, StatusActive)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.AddReturn(ctx, admin, inv.ID, AddReturnRequest{Amount: decimal.NewFromInt(5), ReturnType: ReturnInterest})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := f.service.Get(ctx, investor, inv.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Returns, 8)
	for i, r := range loaded.Returns {
		assert.Equal(t, i+1, r.Seq)
	}
}
