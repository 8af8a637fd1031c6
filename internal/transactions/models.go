package transactions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"carbon-scribe/marketplace/marketplace-backend/pkg/workflows"
)

// Order lifecycle states
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
	StatusDisputed   = "disputed"
)

var orderWorkflow = workflows.NewStateMachine(map[string][]string{
	StatusPending:    {StatusProcessing, StatusFailed, StatusDisputed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusDisputed},
	StatusCompleted:  {StatusRefunded, StatusDisputed},
	StatusDisputed:   {StatusCompleted, StatusRefunded},
})

// AllowedTransitions returns the states reachable from status
func AllowedTransitions(status string) []string {
	return orderWorkflow.GetAllowedTransitions(status)
}

// CanTransition reports whether from -> to is a legal order transition
func CanTransition(from, to string) bool {
	return orderWorkflow.CanTransition(from, to)
}

// ReleasingStatuses are the terminal order states; entering one hands the
// reserved credits back
func ReleasingStatuses() []string {
	return orderWorkflow.TerminalStates()
}

func releasesCredits(status string) bool {
	return orderWorkflow.IsTerminal(status)
}

// Dispute states and resolutions
const (
	DisputeRaised   = "raised"
	DisputeResolved = "resolved"

	ResolutionDismissed = "dismissed"
	ResolutionUpheld    = "upheld"
)

const initialHistoryNote = "Transaction initiated"

// LineItem is one priced credit line of an order
type LineItem struct {
	CreditID  string          `json:"creditId"`
	Amount    int64           `json:"amount"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Currency  string          `json:"currency"`
}

// Transaction is a buyer purchase of credits from one project
type Transaction struct {
	ID               uuid.UUID                     `json:"id" gorm:"type:uuid;primaryKey"`
	BuyerID          string                        `json:"buyerId" gorm:"not null;index"`
	SellerID         string                        `json:"sellerId" gorm:"not null;index"`
	ProjectID        uuid.UUID                     `json:"projectId" gorm:"type:uuid;not null;index"`
	ReservationID    uuid.UUID                     `json:"reservationId" gorm:"type:uuid;not null;index"`
	LineItems        datatypes.JSONSlice[LineItem] `json:"lineItems"`
	Currency         string                        `json:"currency" gorm:"not null"`
	PaymentMethod    string                        `json:"paymentMethod" gorm:"not null"`
	Subtotal         decimal.Decimal               `json:"subtotal" gorm:"type:decimal(20,8);not null"`
	Fee              decimal.Decimal               `json:"fee" gorm:"type:decimal(20,8);not null"`
	Discount         decimal.Decimal               `json:"discount" gorm:"type:decimal(20,8);not null"`
	Total            decimal.Decimal               `json:"total" gorm:"type:decimal(20,8);not null"`
	Status           string                        `json:"status" gorm:"not null;index"`
	Version          int64                         `json:"version" gorm:"not null;default:1"`
	PaymentReference *string                       `json:"paymentReference,omitempty"`
	CreatedAt        time.Time                     `json:"createdAt" gorm:"index"`
	UpdatedAt        time.Time                     `json:"updatedAt"`

	Dispute       *Dispute      `json:"dispute,omitempty" gorm:"foreignKey:TransactionID"`
	StatusHistory []StatusEvent `json:"statusHistory" gorm:"foreignKey:TransactionID"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TotalCredits is the sum of line item amounts
func (t *Transaction) TotalCredits() int64 {
	var total int64
	for _, item := range t.LineItems {
		total += item.Amount
	}
	return total
}

// Parties are the users who see this transaction's events
func (t *Transaction) Parties() []string {
	return []string{t.BuyerID, t.SellerID}
}

// StatusEvent is one append-only history row. (TransactionID, Seq) is unique.
type StatusEvent struct {
	ID            uuid.UUID `json:"-" gorm:"type:uuid;primaryKey"`
	TransactionID uuid.UUID `json:"-" gorm:"type:uuid;not null;uniqueIndex:idx_status_events_txn_seq"`
	Seq           int       `json:"seq" gorm:"not null;uniqueIndex:idx_status_events_txn_seq"`
	Status        string    `json:"status" gorm:"not null"`
	Note          string    `json:"note"`
	ActorID       string    `json:"actorId"`
	ActorRole     string    `json:"actorRole"`
	Timestamp     time.Time `json:"timestamp" gorm:"not null"`
}

func (e *StatusEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Dispute is the sub-record opened when an order enters disputed
type Dispute struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TransactionID uuid.UUID  `json:"-" gorm:"type:uuid;not null;uniqueIndex"`
	Reason        string     `json:"reason"`
	RaisedBy      string     `json:"raisedBy"`
	RaisedAt      time.Time  `json:"raisedAt"`
	Status        string     `json:"status" gorm:"not null"`
	Resolution    string     `json:"resolution,omitempty"`
	ResolvedBy    string     `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

func (d *Dispute) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Models lists the tables owned by this package
func Models() []any {
	return []any{&Transaction{}, &StatusEvent{}, &Dispute{}}
}

// OrderItemRequest is one requested credit line
type OrderItemRequest struct {
	CreditID string `json:"creditId" binding:"required"`
	Amount   int64  `json:"amount" binding:"required,gt=0"`
}

// CreateOrderRequest is the checkout payload
type CreateOrderRequest struct {
	ProjectID     uuid.UUID          `json:"projectId" binding:"required"`
	LineItems     []OrderItemRequest `json:"lineItems" binding:"required,min=1,dive"`
	Currency      string             `json:"currency" binding:"required"`
	PaymentMethod string             `json:"paymentMethod" binding:"required"`
}

// TransitionRequest moves an order to a new status
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// DisputeRequest raises a dispute on a completed order
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest closes an open dispute
type ResolveRequest struct {
	Resolution string `json:"resolution" binding:"required,oneof=dismissed upheld"`
	Note       string `json:"note"`
}

// PaymentConfirmation is the payment gateway callback payload
type PaymentConfirmation struct {
	TransactionID uuid.UUID `json:"transactionId" binding:"required"`
	PaymentMethod string    `json:"paymentMethod" binding:"required"`
	Reference     string    `json:"reference" binding:"required"`
}
