package inventory

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/metrics"
	"carbon-scribe/marketplace/marketplace-backend/pkg/cache"
)

// Service is the credit inventory ledger
type Service struct {
	repo    Repository
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewService(repo Repository, c *cache.Cache, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{repo: repo, cache: c, metrics: m, logger: logger}
}

// RegisterProject lists a project awaiting approval. No credits are available until approval.
func (s *Service) RegisterProject(ctx context.Context, actor auth.Actor, req RegisterProjectRequest) (*Project, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only admins can register projects"}
	}
	if req.TotalCredits <= 0 {
		return nil, apperr.Validation("totalCredits", "must be positive")
	}
	if req.PriceAED.IsNegative() || req.PriceUSD.IsNegative() || req.PriceUSDT.IsNegative() {
		return nil, apperr.Validation("price", "prices must not be negative")
	}

	project := &Project{
		SellerID:     req.SellerID,
		Name:         req.Name,
		Description:  req.Description,
		Location:     req.Location,
		Status:       ProjectPendingApproval,
		TotalCredits: req.TotalCredits,
		PriceAED:     req.PriceAED,
		PriceUSD:     req.PriceUSD,
		PriceUSDT:    req.PriceUSDT,
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info("Project registered",
		zap.String("project_id", project.ID.String()),
		zap.String("seller_id", project.SellerID),
		zap.Int64("total_credits", project.TotalCredits),
	)
	return project, nil
}

// ApproveProject makes a project's credits available for sale
func (s *Service) ApproveProject(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Project, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only admins can approve projects"}
	}
	project, err := s.repo.ApproveProject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	s.logger.Info("Project approved", zap.String("project_id", id.String()), zap.String("by", actor.UserID))
	return project, nil
}

// UpdateProjectStatus suspends or reinstates an approved project
func (s *Service) UpdateProjectStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, status string) (*Project, error) {
	if !actor.IsPrivileged() {
		return nil, &apperr.ForbiddenError{Reason: "only admins can change project status"}
	}
	current, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == ProjectPendingApproval && status == ProjectApproved {
		return s.ApproveProject(ctx, actor, id)
	}
	if !projectWorkflow.CanTransition(current.Status, status) {
		return nil, &apperr.InvalidTransitionError{
			Entity:  "project",
			Current: current.Status,
			Target:  status,
			Allowed: projectWorkflow.GetAllowedTransitions(current.Status),
		}
	}
	project, err := s.repo.UpdateProjectStatus(ctx, id, current.Status, status)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	return s.repo.GetProject(ctx, id)
}

// CanWatch reports whether actor may follow all order activity on a project:
// its seller or a privileged actor
func (s *Service) CanWatch(ctx context.Context, actor auth.Actor, projectID string) bool {
	if actor.IsPrivileged() {
		return true
	}
	id, err := uuid.Parse(projectID)
	if err != nil {
		return false
	}
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.logger.Warn("Failed to check project access", zap.String("project_id", projectID), zap.Error(err))
		}
		return false
	}
	return project.SellerID == actor.UserID
}

// Reserve holds amount credits and returns the reservation token
func (s *Service) Reserve(ctx context.Context, projectID uuid.UUID, amount int64) (uuid.UUID, error) {
	reservation, err := s.repo.Reserve(ctx, projectID, amount)
	if err != nil {
		if apperr.IsInsufficientCredits(err) {
			s.metrics.Reservation(amount, false)
			s.logger.Info("Reservation denied",
				zap.String("project_id", projectID.String()),
				zap.Int64("requested", amount),
				zap.Error(err),
			)
		}
		return uuid.Nil, err
	}

	s.metrics.Reservation(amount, true)
	s.invalidate(ctx, projectID)
	s.logger.Debug("Credits reserved",
		zap.String("project_id", projectID.String()),
		zap.String("reservation_id", reservation.ID.String()),
		zap.Int64("amount", amount),
	)
	return reservation.ID, nil
}

// Release restores credits lost outside any reservation. Credits held by
// live or completed orders are never returned; the result is the amount restored.
func (s *Service) Release(ctx context.Context, projectID uuid.UUID, amount int64) (int64, error) {
	restored, err := s.repo.Release(ctx, projectID, amount)
	if err != nil {
		return 0, err
	}
	if restored < amount {
		s.logger.Warn("Manual release capped by held credits",
			zap.String("project_id", projectID.String()),
			zap.Int64("requested", amount),
			zap.Int64("restored", restored),
		)
	}
	if restored == 0 {
		return 0, nil
	}
	s.metrics.Released(ReasonManual, restored)
	s.invalidate(ctx, projectID)
	return restored, nil
}

// ReleaseReservation restores a reservation's credits; repeat calls restore nothing
func (s *Service) ReleaseReservation(ctx context.Context, token uuid.UUID, reason string) (int64, error) {
	restored, err := s.repo.ReleaseReservation(ctx, token, reason)
	if err != nil {
		return 0, err
	}
	if restored == 0 {
		s.logger.Debug("Reservation already released", zap.String("reservation_id", token.String()))
		return 0, nil
	}

	s.metrics.Released(reason, restored)
	if reservation, err := s.repo.GetReservation(ctx, token); err == nil {
		s.invalidate(ctx, reservation.ProjectID)
	}
	s.logger.Info("Reservation released",
		zap.String("reservation_id", token.String()),
		zap.String("reason", reason),
		zap.Int64("amount", restored),
	)
	return restored, nil
}

func (s *Service) GetReservation(ctx context.Context, token uuid.UUID) (*CreditReservation, error) {
	return s.repo.GetReservation(ctx, token)
}

// AvailableCredits is a read-only snapshot, possibly cached. It must never be
// used to decide whether a reservation will succeed.
func (s *Service) AvailableCredits(ctx context.Context, projectID uuid.UUID) (int64, error) {
	availability, err := s.Availability(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return availability.AvailableCredits, nil
}

func (s *Service) Availability(ctx context.Context, projectID uuid.UUID) (*Availability, error) {
	var cached Availability
	if found, err := s.cache.GetObject(ctx, projectID.String(), &cached); err != nil {
		s.logger.Warn("Availability cache read failed", zap.Error(err))
	} else if found {
		return &cached, nil
	}

	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	availability := &Availability{
		ProjectID:        project.ID,
		TotalCredits:     project.TotalCredits,
		AvailableCredits: project.AvailableCredits,
		Status:           project.Status,
	}
	if err := s.cache.SetObject(ctx, projectID.String(), availability); err != nil {
		s.logger.Warn("Availability cache write failed", zap.Error(err))
	}
	return availability, nil
}

func (s *Service) invalidate(ctx context.Context, projectID uuid.UUID) {
	if err := s.cache.Delete(ctx, projectID.String()); err != nil {
		s.logger.Warn("Availability cache invalidation failed",
			zap.String("project_id", projectID.String()),
			zap.Error(err),
		)
	}
}
