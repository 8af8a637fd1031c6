package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"carbon-scribe/marketplace/marketplace-backend/internal/pricing"
	"carbon-scribe/marketplace/marketplace-backend/pkg/workflows"
)

// Project lifecycle states
const (
	ProjectPendingApproval = "pending_approval"
	ProjectApproved        = "approved"
	ProjectSuspended       = "suspended"
)

var projectWorkflow = workflows.NewStateMachine(map[string][]string{
	ProjectPendingApproval: {ProjectApproved},
	ProjectApproved:        {ProjectSuspended},
	ProjectSuspended:       {ProjectApproved},
})

// Reservation states
const (
	ReservationHeld     = "held"
	ReservationReleased = "released"
)

// Release reasons recorded on reservations and in metrics
const (
	ReasonFailed       = "failed"
	ReasonRefunded     = "refunded"
	ReasonExpired      = "expired"
	ReasonCompensation = "compensation"
	ReasonManual       = "manual"
)

// Project is a listed carbon project and its credit inventory.
// 0 <= AvailableCredits <= TotalCredits holds at all times.
type Project struct {
	ID               uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	SellerID         string          `json:"sellerId" gorm:"not null;index"`
	Name             string          `json:"name" gorm:"not null"`
	Description      string          `json:"description"`
	Location         string          `json:"location"`
	Status           string          `json:"status" gorm:"not null;default:pending_approval;index"`
	TotalCredits     int64           `json:"totalCredits" gorm:"not null;default:0"`
	AvailableCredits int64           `json:"availableCredits" gorm:"not null;default:0"`
	PriceAED         decimal.Decimal `json:"priceAED" gorm:"type:decimal(20,8);not null"`
	PriceUSD         decimal.Decimal `json:"priceUSD" gorm:"type:decimal(20,8);not null"`
	PriceUSDT        decimal.Decimal `json:"priceUSDT" gorm:"type:decimal(20,8);not null"`
	ApprovedAt       *time.Time      `json:"approvedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PriceIn returns the listed per-credit price in currency
func (p *Project) PriceIn(currency pricing.Currency) (decimal.Decimal, error) {
	switch currency {
	case pricing.AED:
		return p.PriceAED, nil
	case pricing.USD:
		return p.PriceUSD, nil
	case pricing.USDT:
		return p.PriceUSDT, nil
	}
	_, err := pricing.ParseCurrency(string(currency), pricing.OrderCurrencies)
	return decimal.Zero, err
}

// CreditReservation is the ledger entry behind one successful Reserve.
// Its ID is the reservation token handed to callers.
type CreditReservation struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID     uuid.UUID  `json:"projectId" gorm:"type:uuid;not null;index"`
	Amount        int64      `json:"amount" gorm:"not null"`
	Status        string     `json:"status" gorm:"not null;default:held;index"`
	ReleaseReason string     `json:"releaseReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ReleasedAt    *time.Time `json:"releasedAt,omitempty"`
}

func (r *CreditReservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Models lists the tables owned by this package
func Models() []any {
	return []any{&Project{}, &CreditReservation{}}
}

// RegisterProjectRequest is the admin payload for listing a project
type RegisterProjectRequest struct {
	SellerID     string          `json:"sellerId" binding:"required"`
	Name         string          `json:"name" binding:"required"`
	Description  string          `json:"description"`
	Location     string          `json:"location"`
	TotalCredits int64           `json:"totalCredits" binding:"required,gt=0"`
	PriceAED     decimal.Decimal `json:"priceAED"`
	PriceUSD     decimal.Decimal `json:"priceUSD"`
	PriceUSDT    decimal.Decimal `json:"priceUSDT"`
}

// UpdateProjectStatusRequest moves a project between approved and suspended
type UpdateProjectStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ReleaseRequest returns credits to a project outside any reservation
type ReleaseRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// Availability is the cached read-only snapshot served to clients
type Availability struct {
	ProjectID        uuid.UUID `json:"projectId"`
	TotalCredits     int64     `json:"totalCredits"`
	AvailableCredits int64     `json:"availableCredits"`
	Status           string    `json:"status"`
}
