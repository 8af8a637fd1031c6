package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
)

// errVersionConflict means the version precondition matched no row
var errVersionConflict = errors.New("transaction version conflict")

// StatusChange is one optimistic status update and its history row
type StatusChange struct {
	TransactionID    uuid.UUID
	From             string
	To               string
	ExpectedVersion  int64
	Note             string
	Actor            auth.Actor
	PaymentMethod    string
	PaymentReference string
	RaiseDispute     bool
	Resolution       string
}

// Repository persists transactions with their history and dispute records
type Repository interface {
	Create(ctx context.Context, txn *Transaction, actor auth.Actor) error
	Get(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ApplyStatusChange(ctx context.Context, change StatusChange) (*Transaction, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Transaction, error)
	ListReleasableWithHeldReservation(ctx context.Context, limit int) ([]Transaction, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gorm backed transaction repository
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Create inserts the transaction and its initial pending history row together
func (r *gormRepository) Create(ctx context.Context, txn *Transaction, actor auth.Actor) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(txn).Error; err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		event := StatusEvent{
			TransactionID: txn.ID,
			Seq:           1,
			Status:        txn.Status,
			Note:          initialHistoryNote,
			ActorID:       actor.UserID,
			ActorRole:     string(actor.Role),
			Timestamp:     txn.CreatedAt,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to record status history: %w", err)
		}
		txn.StatusHistory = []StatusEvent{event}
		return nil
	})
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return getTransaction(r.db.WithContext(ctx), id)
}

func getTransaction(db *gorm.DB, id uuid.UUID) (*Transaction, error) {
	var txn Transaction
	err := db.
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Dispute").
		First(&txn, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("transaction", id)
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &txn, nil
}

// ApplyStatusChange commits the status, version bump, history row and any
// dispute change atomically. It returns errVersionConflict when another
// writer got there first.
func (r *gormRepository) ApplyStatusChange(ctx context.Context, change StatusChange) (*Transaction, error) {
	var updated *Transaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		values := map[string]any{
			"status":     change.To,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}
		if change.PaymentReference != "" {
			values["payment_reference"] = change.PaymentReference
		}
		if change.PaymentMethod != "" {
			values["payment_method"] = change.PaymentMethod
		}

		res := tx.Model(&Transaction{}).
			Where("id = ? AND status = ? AND version = ?", change.TransactionID, change.From, change.ExpectedVersion).
			Updates(values)
		if res.Error != nil {
			return fmt.Errorf("failed to update transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}

		var lastSeq int
		if err := tx.Model(&StatusEvent{}).
			Where("transaction_id = ?", change.TransactionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&lastSeq).Error; err != nil {
			return fmt.Errorf("failed to read status history: %w", err)
		}
		event := StatusEvent{
			TransactionID: change.TransactionID,
			Seq:           lastSeq + 1,
			Status:        change.To,
			Note:          change.Note,
			ActorID:       change.Actor.UserID,
			ActorRole:     string(change.Actor.Role),
			Timestamp:     now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to record status history: %w", err)
		}

		if change.RaiseDispute {
			if err := raiseDispute(tx, change, now); err != nil {
				return err
			}
		}
		if change.Resolution != "" {
			res := tx.Model(&Dispute{}).
				Where("transaction_id = ? AND status = ?", change.TransactionID, DisputeRaised).
				Updates(map[string]any{
					"status":      DisputeResolved,
					"resolution":  change.Resolution,
					"resolved_by": change.Actor.UserID,
					"resolved_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to resolve dispute: %w", res.Error)
			}
		}

		txn, err := getTransaction(tx, change.TransactionID)
		if err != nil {
			return err
		}
		updated = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// raiseDispute opens the dispute record, reusing the row of a previously resolved dispute
func raiseDispute(tx *gorm.DB, change StatusChange, now time.Time) error {
	var existing Dispute
	err := tx.Where("transaction_id = ?", change.TransactionID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		dispute := Dispute{
			TransactionID: change.TransactionID,
			Reason:        change.Note,
			RaisedBy:      change.Actor.UserID,
			RaisedAt:      now,
			Status:        DisputeRaised,
		}
		if err := tx.Create(&dispute).Error; err != nil {
			return fmt.Errorf("failed to open dispute: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to load dispute: %w", err)
	}

	res := tx.Model(&Dispute{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"reason":      change.Note,
			"raised_by":   change.Actor.UserID,
			"raised_at":   now,
			"status":      DisputeRaised,
			"resolution":  "",
			"resolved_by": "",
			"resolved_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reopen dispute: %w", res.Error)
	}
	return nil
}

// ListStalePending returns pending orders created before the cutoff, oldest first
func (r *gormRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Transaction, error) {
	var txns []Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale orders: %w", err)
	}
	return txns, nil
}

// ListReleasableWithHeldReservation finds failed or refunded orders whose
// reservation was never handed back, e.g. after a crash between commit and release.
func (r *gormRepository) ListReleasableWithHeldReservation(ctx context.Context, limit int) ([]Transaction, error) {
	var txns []Transaction
	err := r.db.WithContext(ctx).
		Where("status IN ?", ReleasingStatuses()).
		Where("reservation_id IN (?)",
			r.db.Table("credit_reservations").Select("id").Where("status = ?", "held"),
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unreleased orders: %w", err)
	}
	return txns, nil
}
