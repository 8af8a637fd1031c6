package sponsorships

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

// errStateChanged means a conditional update matched no row
var errStateChanged = errors.New("sponsorship state changed")

// TreeChange is a recomputed tree count and its derived fields
type TreeChange struct {
	TreeCount          int64
	Species            []string
	TotalAmount        decimal.Decimal
	TotalAmountUSD     decimal.Decimal
	EstimatedCO2Offset decimal.Decimal
}

// Repository persists sponsorships and their growth updates
type Repository interface {
	Create(ctx context.Context, s *Sponsorship) error
	Get(ctx context.Context, id uuid.UUID) (*Sponsorship, error)
	UpdateTrees(ctx context.Context, id uuid.UUID, change TreeChange) (*Sponsorship, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Sponsorship, error)
	AddGrowthUpdate(ctx context.Context, id uuid.UUID, update *GrowthUpdate) (*Sponsorship, error)
	IssueCertificate(ctx context.Context, id uuid.UUID, number string, issuedAt time.Time) (*Sponsorship, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gorm backed sponsorship repository
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, s *Sponsorship) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error; err != nil {
		return fmt.Errorf("failed to create sponsorship: %w", err)
	}
	s.Updates = []GrowthUpdate{}
	return nil
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*Sponsorship, error) {
	return getSponsorship(r.db.WithContext(ctx), id)
}

func getSponsorship(db *gorm.DB, id uuid.UUID) (*Sponsorship, error) {
	var s Sponsorship
	err := db.
		Preload("Updates", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("sponsorship", id)
		}
		return nil, fmt.Errorf("failed to load sponsorship: %w", err)
	}
	return &s, nil
}

// UpdateTrees rewrites the tree mix and its derived values while the
// sponsorship is still pending or active
func (r *gormRepository) UpdateTrees(ctx context.Context, id uuid.UUID, change TreeChange) (*Sponsorship, error) {
	var updated *Sponsorship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Sponsorship{}).
			Where("id = ? AND status IN ?", id, []string{StatusPending, StatusActive}).
			Updates(map[string]any{
				"tree_count":           change.TreeCount,
				"species":              datatypes.JSONSlice[string](change.Species),
				"total_amount":         change.TotalAmount,
				"total_amount_usd":     change.TotalAmountUSD,
				"estimated_co2_offset": change.EstimatedCO2Offset,
				"updated_at":           time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update trees: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errStateChanged
		}
		var err error
		updated, err = getSponsorship(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatus moves from -> to only if the row is still in from
func (r *gormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Sponsorship, error) {
	var updated *Sponsorship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Sponsorship{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return fmt.Errorf("failed to update sponsorship status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errStateChanged
		}
		var err error
		updated, err = getSponsorship(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddGrowthUpdate appends the next update in sequence to an active sponsorship
func (r *gormRepository) AddGrowthUpdate(ctx context.Context, id uuid.UUID, update *GrowthUpdate) (*Sponsorship, error) {
	var updated *Sponsorship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the row lock serializes appends so seq stays unique
		var parent Sponsorship
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ? AND status = ?", id, StatusActive).
			Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errStateChanged
		}
		if err != nil {
			return fmt.Errorf("failed to lock sponsorship: %w", err)
		}

		var lastSeq int
		if err := tx.Model(&GrowthUpdate{}).
			Where("sponsorship_id = ?", id).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&lastSeq).Error; err != nil {
			return fmt.Errorf("failed to read growth updates: %w", err)
		}
		update.SponsorshipID = id
		update.Seq = lastSeq + 1
		if err := tx.Create(update).Error; err != nil {
			return fmt.Errorf("failed to record growth update: %w", err)
		}
		updated, err = getSponsorship(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// IssueCertificate stamps the certificate once. A second call matches no row.
func (r *gormRepository) IssueCertificate(ctx context.Context, id uuid.UUID, number string, issuedAt time.Time) (*Sponsorship, error) {
	var updated *Sponsorship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Sponsorship{}).
			Where("id = ? AND certificate_number IS NULL AND status IN ?", id, []string{StatusActive, StatusCompleted}).
			Updates(map[string]any{
				"certificate_number": number,
				"certificate_issued": issuedAt,
				"updated_at":         issuedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to issue certificate: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errStateChanged
		}
		var err error
		updated, err = getSponsorship(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
