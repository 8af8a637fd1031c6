package sponsorships

import (
	"context"
	"errors"
	"fmt"
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

// ProjectLookup resolves the project a sponsorship funds
type ProjectLookup interface {
	GetProject(ctx context.Context, id uuid.UUID) (*inventory.Project, error)
}

// Publisher receives events after they commit
type Publisher interface {
	Publish(ctx context.Context, event notifications.Event)
}

// Service manages sponsorships and their impact figures
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

// Create prices a sponsorship at checkout and derives its CO2 estimate
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateSponsorshipRequest) (*Sponsorship, error) {
	if !actor.Is(auth.RoleSponsor, auth.RoleAdmin) {
		return nil, &apperr.ForbiddenError{Reason: "only sponsors can create sponsorships"}
	}
	if req.TreeCount <= 0 {
		return nil, apperr.Validation("treeCount", "must be positive")
	}
	if !req.PricePerTree.IsPositive() {
		return nil, apperr.Validation("pricePerTree", "must be positive")
	}
	currency, err := pricing.ParseCurrency(req.Currency, pricing.CheckoutCurrencies)
	if err != nil {
		return nil, err
	}

	project, err := s.projects.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status != inventory.ProjectApproved {
		return nil, apperr.Validation("projectId", "project %s is not open for sponsorship", project.ID)
	}

	species := normalizeAll(req.Species)
	change, err := recompute(req.TreeCount, species, req.PricePerTree, currency)
	if err != nil {
		return nil, err
	}

	sp := &Sponsorship{
		SponsorID:          actor.UserID,
		ProjectID:          project.ID,
		TreeCount:          change.TreeCount,
		Species:            species,
		Location:           req.Location,
		Currency:           string(currency),
		PricePerTree:       req.PricePerTree,
		TotalAmount:        change.TotalAmount,
		TotalAmountUSD:     change.TotalAmountUSD,
		EstimatedCO2Offset: change.EstimatedCO2Offset,
		Status:             StatusPending,
	}
	if err := s.repo.Create(ctx, sp); err != nil {
		return nil, err
	}

	s.logger.Info("Sponsorship created",
		zap.String("sponsorship_id", sp.ID.String()),
		zap.String("project_id", sp.ProjectID.String()),
		zap.Int64("trees", sp.TreeCount),
		zap.String("estimated_co2_kg", sp.EstimatedCO2Offset.String()),
	)
	s.publish(ctx, notifications.EventSponsorshipCreated, sp)
	return sp, nil
}

// Get returns a sponsorship visible to actor
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Sponsorship, error) {
	sp, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, sp) {
		return nil, &apperr.ForbiddenError{Reason: "not the sponsor of this sponsorship"}
	}
	return sp, nil
}

// UpdateTrees replaces the tree count and species mix and recomputes the
// estimate and amounts from scratch
func (s *Service) UpdateTrees(ctx context.Context, actor auth.Actor, id uuid.UUID, req UpdateTreesRequest) (*Sponsorship, error) {
	sp, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.TreeCount <= 0 {
		return nil, apperr.Validation("treeCount", "must be positive")
	}
	if sp.Status != StatusPending && sp.Status != StatusActive {
		return nil, apperr.Validation("status", "trees cannot change once a sponsorship is %s", sp.Status)
	}

	species := normalizeAll(req.Species)
	change, err := recompute(req.TreeCount, species, sp.PricePerTree, pricing.Currency(sp.Currency))
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateTrees(ctx, id, change)
	if errors.Is(err, errStateChanged) {
		return nil, apperr.Validation("status", "sponsorship is no longer open for changes")
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sponsorship trees updated",
		zap.String("sponsorship_id", id.String()),
		zap.Int64("trees", updated.TreeCount),
		zap.String("estimated_co2_kg", updated.EstimatedCO2Offset.String()),
	)
	return updated, nil
}

// UpdateStatus moves a sponsorship through its lifecycle. Sponsors may only
// cancel their own pending sponsorship.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, status string) (*Sponsorship, error) {
	for attempt := 0; attempt < 3; attempt++ {
		sp, err := s.Get(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		if !actor.IsPrivileged() && !(status == StatusCancelled && sp.Status == StatusPending) {
			return nil, &apperr.ForbiddenError{Reason: "only an admin can move a sponsorship to " + status}
		}
		if !sponsorshipWorkflow.CanTransition(sp.Status, status) {
			return nil, &apperr.InvalidTransitionError{
				Entity:  "sponsorship",
				Current: sp.Status,
				Target:  status,
				Allowed: AllowedTransitions(sp.Status),
			}
		}

		updated, err := s.repo.UpdateStatus(ctx, id, sp.Status, status)
		if errors.Is(err, errStateChanged) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("Sponsorship status changed",
			zap.String("sponsorship_id", id.String()),
			zap.String("from", sp.Status),
			zap.String("to", status),
		)
		s.publish(ctx, notifications.EventSponsorshipStatus, updated)
		return updated, nil
	}
	return nil, &apperr.ConcurrentModificationError{Entity: "sponsorship", ID: id.String()}
}

// AddGrowthUpdate appends a field report. The CO2 estimate is left unchanged.
func (s *Service) AddGrowthUpdate(ctx context.Context, actor auth.Actor, id uuid.UUID, req GrowthUpdateRequest) (*Sponsorship, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only the field team can report growth"}
	}
	if req.CO2Absorbed.IsNegative() {
		return nil, apperr.Validation("co2Absorbed", "must not be negative")
	}
	switch req.GrowthStage {
	case StageSeedling, StageSapling, StageJuvenile, StageMature:
	default:
		return nil, apperr.Validation("growthStage", "unknown growth stage %q", req.GrowthStage)
	}

	update := &GrowthUpdate{
		GrowthStage: req.GrowthStage,
		CO2Absorbed: req.CO2Absorbed,
		Note:        req.Note,
		RecordedBy:  actor.UserID,
		RecordedAt:  s.now().UTC(),
	}
	updated, err := s.repo.AddGrowthUpdate(ctx, id, update)
	if errors.Is(err, errStateChanged) {
		current, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.Validation("status", "growth can only be reported on an active sponsorship, this one is %s", current.Status)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Growth update recorded",
		zap.String("sponsorship_id", id.String()),
		zap.String("stage", update.GrowthStage),
		zap.String("co2_to_date_kg", updated.TotalCO2ToDate().String()),
	)
	return updated, nil
}

// IssueCertificate issues the sponsorship certificate once. Later calls
// return the sponsorship with the original certificate.
func (s *Service) IssueCertificate(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Sponsorship, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only an admin can issue certificates"}
	}
	sp, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sp.CertificateNumber != nil {
		return sp, nil
	}
	if sp.Status != StatusActive && sp.Status != StatusCompleted {
		return nil, apperr.Validation("status", "certificates are issued for active or completed sponsorships, this one is %s", sp.Status)
	}

	issuedAt := s.now().UTC()
	updated, err := s.repo.IssueCertificate(ctx, id, certificateNumber(id, issuedAt), issuedAt)
	if errors.Is(err, errStateChanged) {
		// lost to a concurrent issue or cancel; report whatever won
		current, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.CertificateNumber != nil {
			return current, nil
		}
		return nil, apperr.Validation("status", "certificates are issued for active or completed sponsorships, this one is %s", current.Status)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sponsorship certificate issued",
		zap.String("sponsorship_id", id.String()),
		zap.String("certificate_number", *updated.CertificateNumber),
	)
	s.publish(ctx, notifications.EventCertificateIssued, updated)
	return updated, nil
}

// Certificate renders the issued certificate as a PDF
func (s *Service) Certificate(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Sponsorship, []byte, error) {
	sp, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	if sp.CertificateNumber == nil {
		return nil, nil, apperr.NotFound("certificate", id)
	}
	project, err := s.projects.GetProject(ctx, sp.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	out, err := renderCertificate(sp, project)
	if err != nil {
		return nil, nil, err
	}
	return sp, out, nil
}

func (s *Service) publish(ctx context.Context, eventType string, sp *Sponsorship) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, notifications.Event{
		Type:       eventType,
		EntityType: "sponsorship",
		EntityID:   sp.ID.String(),
		ProjectID:  sp.ProjectID.String(),
		Status:     sp.Status,
		Recipients: []string{sp.SponsorID},
		Data: map[string]any{
			"treeCount":          sp.TreeCount,
			"estimatedCO2Offset": sp.EstimatedCO2Offset.String(),
		},
	})
}

// recompute derives every tree-dependent field from its inputs
func recompute(treeCount int64, species []string, pricePerTree decimal.Decimal, currency pricing.Currency) (TreeChange, error) {
	total := pricing.RoundMoney(pricePerTree.Mul(decimal.NewFromInt(treeCount)))
	totalUSD, err := pricing.ConvertCheckout(total, currency, pricing.USD)
	if err != nil {
		return TreeChange{}, err
	}
	return TreeChange{
		TreeCount:          treeCount,
		Species:            species,
		TotalAmount:        total,
		TotalAmountUSD:     pricing.RoundMoney(totalUSD),
		EstimatedCO2Offset: EstimateCO2Offset(treeCount, species),
	}, nil
}

func normalizeAll(species []string) []string {
	out := make([]string, 0, len(species))
	for _, name := range species {
		if n := NormalizeSpecies(name); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func certificateNumber(id uuid.UUID, issuedAt time.Time) string {
	return fmt.Sprintf("CSC-%d-%s", issuedAt.Year(), strings.ToUpper(id.String()[:8]))
}

func canView(actor auth.Actor, sp *Sponsorship) bool {
	return actor.IsPrivileged() || actor.UserID == sp.SponsorID
}
