package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

// Repository is the only writer of Project.AvailableCredits
type Repository interface {
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	ApproveProject(ctx context.Context, id uuid.UUID) (*Project, error)
	UpdateProjectStatus(ctx context.Context, id uuid.UUID, from, to string) (*Project, error)

	Reserve(ctx context.Context, projectID uuid.UUID, amount int64) (*CreditReservation, error)
	Release(ctx context.Context, projectID uuid.UUID, amount int64) (int64, error)
	ReleaseReservation(ctx context.Context, reservationID uuid.UUID, reason string) (int64, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*CreditReservation, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gorm backed inventory repository
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateProject(ctx context.Context, project *Project) error {
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *gormRepository) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	return getProject(r.db.WithContext(ctx), id)
}

func getProject(db *gorm.DB, id uuid.UUID) (*Project, error) {
	var project Project
	if err := db.First(&project, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("project", id)
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &project, nil
}

// ApproveProject fixes the inventory: available credits start equal to total
func (r *gormRepository) ApproveProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var project *Project
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&Project{}).
			Where("id = ? AND status = ?", id, ProjectPendingApproval).
			Updates(map[string]any{
				"status":            ProjectApproved,
				"available_credits": gorm.Expr("total_credits"),
				"approved_at":       now,
				"updated_at":        now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to approve project: %w", res.Error)
		}
		current, err := getProject(tx, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return &apperr.InvalidTransitionError{
				Entity:  "project",
				Current: current.Status,
				Target:  ProjectApproved,
				Allowed: projectWorkflow.GetAllowedTransitions(current.Status),
			}
		}
		project = current
		return nil
	})
	return project, err
}

func (r *gormRepository) UpdateProjectStatus(ctx context.Context, id uuid.UUID, from, to string) (*Project, error) {
	var project *Project
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Project{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return fmt.Errorf("failed to update project status: %w", res.Error)
		}
		current, err := getProject(tx, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return &apperr.ConcurrentModificationError{Entity: "project", ID: id.String()}
		}
		project = current
		return nil
	})
	return project, err
}

// Reserve decrements available credits only when enough remain. The decision
// is made by the conditional UPDATE itself, never by a prior read.
func (r *gormRepository) Reserve(ctx context.Context, projectID uuid.UUID, amount int64) (*CreditReservation, error) {
	if amount <= 0 {
		return nil, apperr.Validation("amount", "must be positive, got %d", amount)
	}

	var reservation *CreditReservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Project{}).
			Where("id = ? AND status = ? AND available_credits >= ?", projectID, ProjectApproved, amount).
			Updates(map[string]any{
				"available_credits": gorm.Expr("available_credits - ?", amount),
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to reserve credits: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			project, err := getProject(tx, projectID)
			if err != nil {
				return err
			}
			if project.Status != ProjectApproved {
				return apperr.Validation("projectId", "project %s is %s", projectID, project.Status)
			}
			return &apperr.InsufficientCreditsError{
				ProjectID: projectID.String(),
				Requested: amount,
				Available: project.AvailableCredits,
			}
		}

		reservation = &CreditReservation{
			ProjectID: projectID,
			Amount:    amount,
			Status:    ReservationHeld,
		}
		if err := tx.Create(reservation).Error; err != nil {
			return fmt.Errorf("failed to record reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// Release returns credits that no held reservation accounts for, restoring at
// most total - available - held. It returns the number of credits restored.
func (r *gormRepository) Release(ctx context.Context, projectID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperr.Validation("amount", "must be positive, got %d", amount)
	}
	var restored int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := getProject(tx.Clauses(clause.Locking{Strength: "UPDATE"}), projectID)
		if err != nil {
			return err
		}
		var held int64
		if err := tx.Model(&CreditReservation{}).
			Where("project_id = ? AND status = ?", projectID, ReservationHeld).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&held).Error; err != nil {
			return fmt.Errorf("failed to sum held credits: %w", err)
		}

		restore := min(amount, project.TotalCredits-project.AvailableCredits-held)
		if restore <= 0 {
			return nil
		}
		res := tx.Model(&Project{}).
			Where("id = ? AND available_credits = ?", projectID, project.AvailableCredits).
			Updates(map[string]any{
				"available_credits": gorm.Expr("available_credits + ?", restore),
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to release credits: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &apperr.ConcurrentModificationError{Entity: "project", ID: projectID.String()}
		}
		restored = restore
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restored, nil
}

func releaseCapped(tx *gorm.DB, projectID uuid.UUID, amount int64) error {
	res := tx.Model(&Project{}).
		Where("id = ?", projectID).
		Updates(map[string]any{
			"available_credits": gorm.Expr(
				"CASE WHEN available_credits + ? > total_credits THEN total_credits ELSE available_credits + ? END",
				amount, amount,
			),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to release credits: %w", res.Error)
	}
	return nil
}

// ReleaseReservation restores a held reservation's credits exactly once.
// It returns the number of credits restored, which is 0 on repeat calls.
func (r *gormRepository) ReleaseReservation(ctx context.Context, reservationID uuid.UUID, reason string) (int64, error) {
	var restored int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reservation CreditReservation
		if err := tx.First(&reservation, "id = ?", reservationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("reservation", reservationID)
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}

		now := time.Now().UTC()
		res := tx.Model(&CreditReservation{}).
			Where("id = ? AND status = ?", reservationID, ReservationHeld).
			Updates(map[string]any{
				"status":         ReservationReleased,
				"release_reason": reason,
				"released_at":    now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to release reservation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := releaseCapped(tx, reservation.ProjectID, reservation.Amount); err != nil {
			return err
		}
		restored = reservation.Amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restored, nil
}

func (r *gormRepository) GetReservation(ctx context.Context, id uuid.UUID) (*CreditReservation, error) {
	var reservation CreditReservation
	if err := r.db.WithContext(ctx).First(&reservation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	return &reservation, nil
}
