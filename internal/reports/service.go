package reports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
)

// Service builds inventory reports from the read model
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new reports service
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Reconcile checks available + held == total for a project and lists the
// reservations that are still held by orders that already released
func (s *Service) Reconcile(ctx context.Context, actor auth.Actor, projectID uuid.UUID) (*Reconciliation, error) {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !actor.IsPrivileged() && actor.UserID != project.SellerID {
		return nil, &apperr.ForbiddenError{Reason: "only the project seller or an admin can reconcile inventory"}
	}

	totals, err := s.repo.ReservationTotals(ctx, projectID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.TransactionCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stale, err := s.repo.StaleReservations(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := Build(project, totals, counts, stale)
	report.GeneratedAt = s.now().UTC()

	if !report.Balanced {
		s.logger.Warn("Inventory out of balance",
			zap.String("project_id", projectID.String()),
			zap.Int64("total", report.TotalCredits),
			zap.Int64("available", report.AvailableCredits),
			zap.Int64("held", report.HeldCredits),
			zap.Int64("discrepancy", report.Discrepancy),
		)
	}
	if len(stale) > 0 {
		s.logger.Info("Stale reservations pending reconciliation",
			zap.String("project_id", projectID.String()),
			zap.Int("count", len(stale)),
		)
	}
	return report, nil
}

// Build assembles a report from query results
func Build(project *ProjectLedgerRow, totals *ReservationTotals, counts []StatusCount, stale []StaleReservation) *Reconciliation {
	byStatus := make(map[string]int64, len(counts))
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	if stale == nil {
		stale = []StaleReservation{}
	}
	discrepancy := project.TotalCredits - project.AvailableCredits - totals.HeldCredits
	return &Reconciliation{
		ProjectID:            project.ID,
		ProjectName:          project.Name,
		ProjectStatus:        project.Status,
		TotalCredits:         project.TotalCredits,
		AvailableCredits:     project.AvailableCredits,
		HeldCredits:          totals.HeldCredits,
		HeldReservations:     totals.HeldCount,
		ReleasedCredits:      totals.ReleasedCredits,
		ReleasedReservations: totals.ReleasedCount,
		Discrepancy:          discrepancy,
		Balanced:             discrepancy == 0,
		TransactionsByStatus: byStatus,
		StaleReservations:    stale,
	}
}
