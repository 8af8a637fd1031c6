package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/transactions"
)

// Repository defines the read-only queries behind inventory reports
type Repository interface {
	GetProject(ctx context.Context, id uuid.UUID) (*ProjectLedgerRow, error)
	ReservationTotals(ctx context.Context, projectID uuid.UUID) (*ReservationTotals, error)
	TransactionCounts(ctx context.Context, projectID uuid.UUID) ([]StatusCount, error)
	StaleReservations(ctx context.Context, projectID uuid.UUID) ([]StaleReservation, error)
}

// SQLRepository implements Repository with plain SQL over sqlx. Queries use
// ? placeholders and are rebound for the connected driver.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository creates a new sqlx backed report repository
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) GetProject(ctx context.Context, id uuid.UUID) (*ProjectLedgerRow, error) {
	query := r.db.Rebind(`
		SELECT id, seller_id, name, status, total_credits, available_credits
		FROM projects
		WHERE id = ?
	`)

	var row ProjectLedgerRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("project", id)
		}
		return nil, fmt.Errorf("failed to get project ledger row: %w", err)
	}
	return &row, nil
}

func (r *SQLRepository) ReservationTotals(ctx context.Context, projectID uuid.UUID) (*ReservationTotals, error) {
	query := r.db.Rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN status = 'held' THEN amount ELSE 0 END), 0) AS held_credits,
			COALESCE(SUM(CASE WHEN status = 'held' THEN 1 ELSE 0 END), 0) AS held_count,
			COALESCE(SUM(CASE WHEN status = 'released' THEN amount ELSE 0 END), 0) AS released_credits,
			COALESCE(SUM(CASE WHEN status = 'released' THEN 1 ELSE 0 END), 0) AS released_count
		FROM credit_reservations
		WHERE project_id = ?
	`)

	var totals ReservationTotals
	if err := r.db.GetContext(ctx, &totals, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to sum reservations: %w", err)
	}
	return &totals, nil
}

func (r *SQLRepository) TransactionCounts(ctx context.Context, projectID uuid.UUID) ([]StatusCount, error) {
	query := r.db.Rebind(`
		SELECT status, COUNT(*) AS count
		FROM transactions
		WHERE project_id = ?
		GROUP BY status
		ORDER BY status
	`)

	var counts []StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	return counts, nil
}

// StaleReservations lists reservations still held by failed or refunded
// orders. The sweeper's reconcile pass drains these.
func (r *SQLRepository) StaleReservations(ctx context.Context, projectID uuid.UUID) ([]StaleReservation, error) {
	query, args, err := sqlx.In(`
		SELECT cr.id AS reservation_id, t.id AS transaction_id,
			   t.status AS transaction_status, cr.amount
		FROM credit_reservations cr
		JOIN transactions t ON t.reservation_id = cr.id
		WHERE cr.project_id = ? AND cr.status = 'held' AND t.status IN (?)
		ORDER BY cr.created_at
	`, projectID, transactions.ReleasingStatuses())
	if err != nil {
		return nil, fmt.Errorf("failed to build stale reservation query: %w", err)
	}

	stale := []StaleReservation{}
	if err := r.db.SelectContext(ctx, &stale, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list stale reservations: %w", err)
	}
	return stale, nil
}
