package sponsorships

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"carbon-scribe/marketplace/marketplace-backend/pkg/workflows"
)

// Sponsorship lifecycle states
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var sponsorshipWorkflow = workflows.NewStateMachine(map[string][]string{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusCancelled},
})

// AllowedTransitions returns the states reachable from status
func AllowedTransitions(status string) []string {
	return sponsorshipWorkflow.GetAllowedTransitions(status)
}

// Growth stages reported by field teams
const (
	StageSeedling = "seedling"
	StageSapling  = "sapling"
	StageJuvenile = "juvenile"
	StageMature   = "mature"
)

// Sponsorship is a paid tree-planting commitment against a project.
// EstimatedCO2Offset always matches TreeCount and Species.
type Sponsorship struct {
	ID                 uuid.UUID                   `json:"id" gorm:"type:uuid;primaryKey"`
	SponsorID          string                      `json:"sponsorId" gorm:"not null;index"`
	ProjectID          uuid.UUID                   `json:"projectId" gorm:"type:uuid;not null;index"`
	TreeCount          int64                       `json:"treeCount" gorm:"not null"`
	Species            datatypes.JSONSlice[string] `json:"species"`
	Location           string                      `json:"location"`
	Currency           string                      `json:"currency" gorm:"not null"`
	PricePerTree       decimal.Decimal             `json:"pricePerTree" gorm:"type:decimal(20,8);not null"`
	TotalAmount        decimal.Decimal             `json:"totalAmount" gorm:"type:decimal(20,8);not null"`
	TotalAmountUSD     decimal.Decimal             `json:"totalAmountUSD" gorm:"type:decimal(20,8);not null"`
	EstimatedCO2Offset decimal.Decimal             `json:"estimatedCO2Offset" gorm:"type:decimal(20,8);not null"`
	Status             string                      `json:"status" gorm:"not null;index"`
	CertificateNumber  *string                     `json:"certificateNumber,omitempty" gorm:"uniqueIndex"`
	CertificateIssued  *time.Time                  `json:"certificateIssuedAt,omitempty"`
	CreatedAt          time.Time                   `json:"createdAt"`
	UpdatedAt          time.Time                   `json:"updatedAt"`

	Updates []GrowthUpdate `json:"updates" gorm:"foreignKey:SponsorshipID"`
}

func (s *Sponsorship) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// TotalCO2ToDate sums the absorption reported in growth updates. It is a
// measurement and is separate from the EstimatedCO2Offset projection.
func (s *Sponsorship) TotalCO2ToDate() decimal.Decimal {
	total := decimal.Zero
	for _, u := range s.Updates {
		total = total.Add(u.CO2Absorbed)
	}
	return total
}

// GrowthUpdate is an append-only field report
type GrowthUpdate struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	SponsorshipID uuid.UUID       `json:"-" gorm:"type:uuid;not null;uniqueIndex:idx_growth_updates_seq"`
	Seq           int             `json:"seq" gorm:"not null;uniqueIndex:idx_growth_updates_seq"`
	GrowthStage   string          `json:"growthStage" gorm:"not null"`
	CO2Absorbed   decimal.Decimal `json:"co2Absorbed" gorm:"type:decimal(20,8);not null"`
	Note          string          `json:"note"`
	RecordedBy    string          `json:"recordedBy"`
	RecordedAt    time.Time       `json:"recordedAt" gorm:"not null"`
}

func (u *GrowthUpdate) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Models lists the tables owned by this package
func Models() []any {
	return []any{&Sponsorship{}, &GrowthUpdate{}}
}

// CreateSponsorshipRequest is the checkout payload for a sponsorship
type CreateSponsorshipRequest struct {
	ProjectID    uuid.UUID       `json:"projectId" binding:"required"`
	TreeCount    int64           `json:"treeCount" binding:"required,gt=0"`
	Species      []string        `json:"species"`
	Location     string          `json:"location"`
	Currency     string          `json:"currency" binding:"required"`
	PricePerTree decimal.Decimal `json:"pricePerTree"`
}

// UpdateTreesRequest changes the tree count and species mix
type UpdateTreesRequest struct {
	TreeCount int64    `json:"treeCount" binding:"required,gt=0"`
	Species   []string `json:"species"`
}

// UpdateStatusRequest moves a sponsorship to a new status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// GrowthUpdateRequest reports growth for a sponsorship
type GrowthUpdateRequest struct {
	GrowthStage string          `json:"growthStage" binding:"required,oneof=seedling sapling juvenile mature"`
	CO2Absorbed decimal.Decimal `json:"co2Absorbed"`
	Note        string          `json:"note"`
}
