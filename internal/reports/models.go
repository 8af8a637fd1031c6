package reports

import (
	"time"

	"github.com/google/uuid"
)

// ProjectLedgerRow is the raw project inventory row the read model starts from
type ProjectLedgerRow struct {
	ID               uuid.UUID `db:"id"`
	SellerID         string    `db:"seller_id"`
	Name             string    `db:"name"`
	Status           string    `db:"status"`
	TotalCredits     int64     `db:"total_credits"`
	AvailableCredits int64     `db:"available_credits"`
}

// ReservationTotals aggregates credit_reservations for one project
type ReservationTotals struct {
	HeldCredits     int64 `db:"held_credits"`
	HeldCount       int64 `db:"held_count"`
	ReleasedCredits int64 `db:"released_credits"`
	ReleasedCount   int64 `db:"released_count"`
}

// StatusCount is one row of a GROUP BY status query
type StatusCount struct {
	Status string `db:"status"`
	Count  int64  `db:"count"`
}

// StaleReservation is a held reservation whose order already gave its
// credits back
type StaleReservation struct {
	ReservationID     uuid.UUID `db:"reservation_id" json:"reservationId"`
	TransactionID     uuid.UUID `db:"transaction_id" json:"transactionId"`
	TransactionStatus string    `db:"transaction_status" json:"transactionStatus"`
	Amount            int64     `db:"amount" json:"amount"`
}

// Reconciliation is the inventory report for one project. Balanced holds
// when available plus held credits equal the project total.
type Reconciliation struct {
	ProjectID            uuid.UUID          `json:"projectId"`
	ProjectName          string             `json:"projectName"`
	ProjectStatus        string             `json:"projectStatus"`
	TotalCredits         int64              `json:"totalCredits"`
	AvailableCredits     int64              `json:"availableCredits"`
	HeldCredits          int64              `json:"heldCredits"`
	HeldReservations     int64              `json:"heldReservations"`
	ReleasedCredits      int64              `json:"releasedCredits"`
	ReleasedReservations int64              `json:"releasedReservations"`
	Discrepancy          int64              `json:"discrepancy"`
	Balanced             bool               `json:"balanced"`
	TransactionsByStatus map[string]int64   `json:"transactionsByStatus"`
	StaleReservations    []StaleReservation `json:"staleReservations"`
	GeneratedAt          time.Time          `json:"generatedAt"`
}
