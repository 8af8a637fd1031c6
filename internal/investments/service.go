package investments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/inventory"
	"carbon-scribe/marketplace/marketplace-backend/internal/notifications"
	"carbon-scribe/marketplace/marketplace-backend/internal/pricing"
)

// ProjectLookup resolves the project an investment finances
type ProjectLookup interface {
	GetProject(ctx context.Context, id uuid.UUID) (*inventory.Project, error)
}

// Publisher receives events after they commit
type Publisher interface {
	Publish(ctx context.Context, event notifications.Event)
}

// Service runs the investment accrual engine
type Service struct {
	repo      Repository
	projects  ProjectLookup
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, projects ProjectLookup, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		projects:  projects,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Create opens a pending investment with its expected returns projected up front
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateInvestmentRequest) (*Investment, error) {
	if !actor.Is(auth.RoleInvestor) {
		return nil, &apperr.ForbiddenError{Reason: "only investors can open investments"}
	}
	if !actor.KYCVerified {
		return nil, &apperr.ForbiddenError{Reason: "KYC verification is required to invest"}
	}
	currency, err := pricing.ParseCurrency(req.Currency, pricing.OrderCurrencies)
	if err != nil {
		return nil, err
	}
	details, err := DecodeDetails(req.InvestmentType, req.Details)
	if err != nil {
		return nil, err
	}
	if err := details.validate(); err != nil {
		return nil, err
	}
	expected, err := ComputeExpectedReturns(req.InvestmentType, req.Amount, req.AnnualRate, req.TermMonths)
	if err != nil {
		return nil, err
	}

	project, err := s.projects.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status != inventory.ProjectApproved {
		return nil, apperr.Validation("projectId", "project %s is not open for investment", project.ID)
	}

	inv := &Investment{
		InvestorID:      actor.UserID,
		ProjectID:       project.ID,
		InvestmentType:  req.InvestmentType,
		Details:         details,
		Amount:          req.Amount,
		Currency:        string(currency),
		TermMonths:      req.TermMonths,
		ExpectedReturns: expected,
		Status:          StatusPending,
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.logger.Info("Investment created",
		zap.String("investment_id", inv.ID.String()),
		zap.String("project_id", inv.ProjectID.String()),
		zap.String("type", inv.InvestmentType),
		zap.String("amount", inv.Amount.StringFixed(2)),
		zap.String("expected_total", expected.TotalExpectedReturn.StringFixed(2)),
	)
	s.publish(ctx, notifications.EventInvestmentCreated, inv, nil)
	return inv, nil
}

// Get returns an investment visible to actor
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Investment, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsPrivileged() && actor.UserID != inv.InvestorID {
		return nil, &apperr.ForbiddenError{Reason: "not the investor of this investment"}
	}
	return inv, nil
}

// UpdateStatus moves an investment through its lifecycle. Completing or
// exiting stamps the maturity date.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, status string) (*Investment, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only an admin can change investment status"}
	}
	for attempt := 0; attempt < 3; attempt++ {
		inv, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !investmentWorkflow.CanTransition(inv.Status, status) {
			return nil, &apperr.InvalidTransitionError{
				Entity:  "investment",
				Current: inv.Status,
				Target:  status,
				Allowed: AllowedTransitions(inv.Status),
			}
		}

		var maturity *time.Time
		if stampsMaturity(status) {
			now := s.now().UTC()
			maturity = &now
		}
		updated, err := s.repo.UpdateStatus(ctx, id, inv.Status, status, maturity)
		if errors.Is(err, errStateChanged) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("Investment status changed",
			zap.String("investment_id", id.String()),
			zap.String("from", inv.Status),
			zap.String("to", status),
		)
		s.publish(ctx, notifications.EventInvestmentStatus, updated, map[string]any{"from": inv.Status})
		return updated, nil
	}
	return nil, &apperr.ConcurrentModificationError{Entity: "investment", ID: id.String()}
}

// AddReturn appends a pending return to the ledger
func (s *Service) AddReturn(ctx context.Context, actor auth.Actor, id uuid.UUID, req AddReturnRequest) (*Investment, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only an admin can record returns"}
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("amount", "must be positive")
	}
	switch req.ReturnType {
	case ReturnDividend, ReturnInterest, ReturnRevenueShare, ReturnCreditDelivery, ReturnPrincipal:
	default:
		return nil, apperr.Validation("returnType", "unknown return type %q", req.ReturnType)
	}
	date := req.Date
	if date.IsZero() {
		date = s.now()
	}

	ret := &Return{Amount: req.Amount, ReturnType: req.ReturnType, Date: date.UTC()}
	updated, err := s.repo.AddReturn(ctx, id, ret)
	if errors.Is(err, errStateChanged) {
		current, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.Validation("status", "returns cannot be recorded on a %s investment", current.Status)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Investment return recorded",
		zap.String("investment_id", id.String()),
		zap.String("return_id", ret.ID.String()),
		zap.String("amount", ret.Amount.StringFixed(2)),
	)
	s.publish(ctx, notifications.EventInvestmentReturnAdded, updated, map[string]any{
		"returnId": ret.ID.String(),
		"amount":   ret.Amount.String(),
	})
	return updated, nil
}

// ConfirmReturn settles a pending return as paid or reinvested
func (s *Service) ConfirmReturn(ctx context.Context, actor auth.Actor, id, returnID uuid.UUID, status string) (*Investment, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only an admin can confirm returns"}
	}
	if status != ReturnPaid && status != ReturnReinvested {
		return nil, apperr.Validation("status", "must be %q or %q", ReturnPaid, ReturnReinvested)
	}

	updated, err := s.repo.ConfirmReturn(ctx, id, returnID, status, s.now().UTC())
	if errors.Is(err, errStateChanged) {
		current, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		for _, r := range current.Returns {
			if r.ID == returnID {
				return nil, &apperr.InvalidTransitionError{
					Entity:  "return",
					Current: r.Status,
					Target:  status,
					Allowed: []string{},
				}
			}
		}
		return nil, apperr.NotFound("return", returnID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Investment return confirmed",
		zap.String("investment_id", id.String()),
		zap.String("return_id", returnID.String()),
		zap.String("status", status),
	)
	return updated, nil
}

// Portfolio folds every investment of investorID, converting to USD
func (s *Service) Portfolio(ctx context.Context, actor auth.Actor, investorID string) (*PortfolioSummary, []Investment, error) {
	if !actor.IsPrivileged() && actor.UserID != investorID {
		return nil, nil, &apperr.ForbiddenError{Reason: "portfolios are private to their investor"}
	}
	list, err := s.repo.ListByInvestor(ctx, investorID)
	if err != nil {
		return nil, nil, err
	}
	summary, err := Summarize(investorID, list)
	if err != nil {
		return nil, nil, err
	}
	return summary, list, nil
}

// Summarize is the pure fold behind Portfolio. Average ROI is the mean of
// per-investment ROI percentages.
func Summarize(investorID string, list []Investment) (*PortfolioSummary, error) {
	summary := &PortfolioSummary{
		InvestorID:     investorID,
		Currency:       string(pricing.USD),
		Investments:    len(list),
		TotalInvested:  decimal.Zero,
		TotalExpected:  decimal.Zero,
		TotalReturns:   decimal.Zero,
		CountsByStatus: map[string]int{},
		AverageROI:     decimal.Zero,
	}
	roiSum := decimal.Zero
	for i := range list {
		inv := &list[i]
		currency := pricing.Currency(strings.ToUpper(inv.Currency))
		invested, err := pricing.Convert(inv.Amount, currency, pricing.USD)
		if err != nil {
			return nil, err
		}
		expected, err := pricing.Convert(inv.ExpectedReturns.TotalExpectedReturn, currency, pricing.USD)
		if err != nil {
			return nil, err
		}
		returns, err := pricing.Convert(inv.TotalReturnsReceived(), currency, pricing.USD)
		if err != nil {
			return nil, err
		}
		summary.TotalInvested = summary.TotalInvested.Add(invested)
		summary.TotalExpected = summary.TotalExpected.Add(expected)
		summary.TotalReturns = summary.TotalReturns.Add(returns)
		summary.CountsByStatus[inv.Status]++
		roiSum = roiSum.Add(inv.ROIPercentage())
	}
	summary.TotalInvested = pricing.RoundMoney(summary.TotalInvested)
	summary.TotalExpected = pricing.RoundMoney(summary.TotalExpected)
	summary.TotalReturns = pricing.RoundMoney(summary.TotalReturns)
	if len(list) > 0 {
		summary.AverageROI = roiSum.Div(decimal.NewFromInt(int64(len(list)))).Round(2)
	}
	return summary, nil
}

func (s *Service) publish(ctx context.Context, eventType string, inv *Investment, data map[string]any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, notifications.Event{
		Type:       eventType,
		EntityType: "investment",
		EntityID:   inv.ID.String(),
		ProjectID:  inv.ProjectID.String(),
		Status:     inv.Status,
		Recipients: []string{inv.InvestorID},
		Data:       data,
	})
}
