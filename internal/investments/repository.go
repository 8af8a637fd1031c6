package investments

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

// errStateChanged means a conditional update matched no row
var errStateChanged = errors.New("investment state changed")

// Repository persists investments and their returns ledger
type Repository interface {
	Create(ctx context.Context, inv *Investment) error
	Get(ctx context.Context, id uuid.UUID) (*Investment, error)
	ListByInvestor(ctx context.Context, investorID string) ([]Investment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, maturity *time.Time) (*Investment, error)
	AddReturn(ctx context.Context, id uuid.UUID, r *Return) (*Investment, error)
	ConfirmReturn(ctx context.Context, id, returnID uuid.UUID, status string, at time.Time) (*Investment, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gorm backed investment repository
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, inv *Investment) error {
	if err := inv.encodeDetails(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(inv).Error; err != nil {
		return fmt.Errorf("failed to create investment: %w", err)
	}
	inv.Returns = []Return{}
	return nil
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*Investment, error) {
	return getInvestment(r.db.WithContext(ctx), id)
}

func preloadReturns(db *gorm.DB) *gorm.DB {
	return db.Preload("Returns", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") })
}

func getInvestment(db *gorm.DB, id uuid.UUID) (*Investment, error) {
	var inv Investment
	if err := preloadReturns(db).First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("investment", id)
		}
		return nil, fmt.Errorf("failed to load investment: %w", err)
	}
	if err := inv.decodeDetails(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListByInvestor returns every investment of investorID, oldest first
func (r *gormRepository) ListByInvestor(ctx context.Context, investorID string) ([]Investment, error) {
	var list []Investment
	err := preloadReturns(r.db.WithContext(ctx)).
		Where("investor_id = ?", investorID).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	for i := range list {
		if err := list[i].decodeDetails(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// UpdateStatus moves from -> to only if the row is still in from, stamping
// the maturity date when one is given
func (r *gormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, maturity *time.Time) (*Investment, error) {
	var updated *Investment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
		if maturity != nil {
			values["maturity_date"] = *maturity
		}
		res := tx.Model(&Investment{}).Where("id = ? AND status = ?", id, from).Updates(values)
		if res.Error != nil {
			return fmt.Errorf("failed to update investment status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errStateChanged
		}
		var err error
		updated, err = getInvestment(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddReturn appends a pending return to an investment that is not pending or defaulted
func (r *gormRepository) AddReturn(ctx context.Context, id uuid.UUID, ret *Return) (*Investment, error) {
	var updated *Investment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the row lock serializes appends so seq stays unique
		var parent Investment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ? AND status IN ?", id, []string{StatusActive, StatusCompleted, StatusExited}).
			Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errStateChanged
		}
		if err != nil {
			return fmt.Errorf("failed to lock investment: %w", err)
		}

		var lastSeq int
		if err := tx.Model(&Return{}).
			Where("investment_id = ?", id).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&lastSeq).Error; err != nil {
			return fmt.Errorf("failed to read returns: %w", err)
		}
		ret.InvestmentID = id
		ret.Seq = lastSeq + 1
		ret.Status = ReturnPending
		if err := tx.Create(ret).Error; err != nil {
			return fmt.Errorf("failed to record return: %w", err)
		}
		updated, err = getInvestment(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ConfirmReturn settles a return only while it is still pending
func (r *gormRepository) ConfirmReturn(ctx context.Context, id, returnID uuid.UUID, status string, at time.Time) (*Investment, error) {
	var updated *Investment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Return{}).
			Where("id = ? AND investment_id = ? AND status = ?", returnID, id, ReturnPending).
			Updates(map[string]any{"status": status, "confirmed_at": at})
		if res.Error != nil {
			return fmt.Errorf("failed to confirm return: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errStateChanged
		}
		var err error
		updated, err = getInvestment(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
