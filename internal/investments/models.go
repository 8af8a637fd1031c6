package investments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/pkg/workflows"
)

// Investment types
const (
	TypeEquity             = "equity"
	TypeDebt               = "debt"
	TypeRevenueSharing     = "revenue_sharing"
	TypeCarbonCreditFuture = "carbon_credit_future"
)

// Investment lifecycle states
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusDefaulted = "defaulted"
	StatusExited    = "exited"
)

var investmentWorkflow = workflows.NewStateMachine(map[string][]string{
	StatusPending: {StatusActive},
	StatusActive:  {StatusCompleted, StatusDefaulted, StatusExited},
})

// AllowedTransitions returns the states reachable from status
func AllowedTransitions(status string) []string {
	return investmentWorkflow.GetAllowedTransitions(status)
}

// stampsMaturity is true for the states that close an investment on schedule
func stampsMaturity(status string) bool {
	return status == StatusCompleted || status == StatusExited
}

// Return states
const (
	ReturnPending    = "pending"
	ReturnPaid       = "paid"
	ReturnReinvested = "reinvested"
)

// Return kinds
const (
	ReturnDividend       = "dividend"
	ReturnInterest       = "interest"
	ReturnRevenueShare   = "revenue_share"
	ReturnCreditDelivery = "credit_delivery"
	ReturnPrincipal      = "principal"
)

// Details is the type-specific part of an investment. Exactly one variant
// exists per investment type.
type Details interface {
	InvestmentType() string
	validate() error
}

// EquityDetails describes a stake in the project company
type EquityDetails struct {
	SharePercentage decimal.Decimal `json:"sharePercentage"`
	Valuation       decimal.Decimal `json:"valuation"`
	ShareClass      string          `json:"shareClass,omitempty"`
}

func (EquityDetails) InvestmentType() string { return TypeEquity }

func (d EquityDetails) validate() error {
	if !d.SharePercentage.IsPositive() || d.SharePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.Validation("details.sharePercentage", "must be in (0, 100]")
	}
	if d.Valuation.IsNegative() {
		return apperr.Validation("details.valuation", "must not be negative")
	}
	return nil
}

// DebtDetails describes a loan to the project
type DebtDetails struct {
	PaymentSchedule string `json:"paymentSchedule"`
	Collateral      string `json:"collateral,omitempty"`
	Secured         bool   `json:"secured"`
}

func (DebtDetails) InvestmentType() string { return TypeDebt }

func (d DebtDetails) validate() error {
	switch d.PaymentSchedule {
	case "monthly", "quarterly", "annually", "at_maturity":
		return nil
	}
	return apperr.Validation("details.paymentSchedule", "unknown payment schedule %q", d.PaymentSchedule)
}

// RevenueSharingDetails describes a share of project revenue
type RevenueSharingDetails struct {
	SharePercentage decimal.Decimal `json:"sharePercentage"`
	Cap             decimal.Decimal `json:"cap"`
}

func (RevenueSharingDetails) InvestmentType() string { return TypeRevenueSharing }

func (d RevenueSharingDetails) validate() error {
	if !d.SharePercentage.IsPositive() || d.SharePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.Validation("details.sharePercentage", "must be in (0, 100]")
	}
	if d.Cap.IsNegative() {
		return apperr.Validation("details.cap", "must not be negative")
	}
	return nil
}

// CarbonCreditFutureDetails describes a forward purchase of credits
type CarbonCreditFutureDetails struct {
	CreditQuantity int64           `json:"creditQuantity"`
	StrikePrice    decimal.Decimal `json:"strikePrice"`
	DeliveryDate   time.Time       `json:"deliveryDate"`
}

func (CarbonCreditFutureDetails) InvestmentType() string { return TypeCarbonCreditFuture }

func (d CarbonCreditFutureDetails) validate() error {
	if d.CreditQuantity <= 0 {
		return apperr.Validation("details.creditQuantity", "must be positive")
	}
	if !d.StrikePrice.IsPositive() {
		return apperr.Validation("details.strikePrice", "must be positive")
	}
	if d.DeliveryDate.IsZero() {
		return apperr.Validation("details.deliveryDate", "is required")
	}
	return nil
}

// DecodeDetails decodes raw into the variant selected by investmentType
func DecodeDetails(investmentType string, raw []byte) (Details, error) {
	var (
		details Details
		err     error
	)
	switch investmentType {
	case TypeEquity:
		var d EquityDetails
		err = json.Unmarshal(raw, &d)
		details = d
	case TypeDebt:
		var d DebtDetails
		err = json.Unmarshal(raw, &d)
		details = d
	case TypeRevenueSharing:
		var d RevenueSharingDetails
		err = json.Unmarshal(raw, &d)
		details = d
	case TypeCarbonCreditFuture:
		var d CarbonCreditFutureDetails
		err = json.Unmarshal(raw, &d)
		details = d
	default:
		return nil, apperr.Validation("investmentType", "unknown investment type %q", investmentType)
	}
	if len(raw) == 0 {
		return nil, apperr.Validation("details", "%s details are required", investmentType)
	}
	if err != nil {
		return nil, apperr.Validation("details", "malformed %s details: %v", investmentType, err)
	}
	return details, nil
}

// ExpectedReturns is the projection made when the investment is created
type ExpectedReturns struct {
	TotalExpectedReturn decimal.Decimal `json:"totalExpectedReturn" gorm:"type:decimal(20,8)"`
	AnnualRate          decimal.Decimal `json:"annualRate" gorm:"type:decimal(10,4)"`
	PaybackPeriodMonths int64           `json:"paybackPeriodMonths"`
}

// Investment is a financing position in a project. Details are stored as
// JSON next to the type tag that selects their variant.
type Investment struct {
	ID              uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	InvestorID      string          `json:"investorId" gorm:"not null;index"`
	ProjectID       uuid.UUID       `json:"projectId" gorm:"type:uuid;not null;index"`
	InvestmentType  string          `json:"investmentType" gorm:"not null"`
	Details         Details         `json:"details" gorm:"-"`
	DetailsJSON     datatypes.JSON  `json:"-" gorm:"column:details"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	Currency        string          `json:"currency" gorm:"not null"`
	TermMonths      int64           `json:"termMonths" gorm:"not null"`
	ExpectedReturns ExpectedReturns `json:"expectedReturns" gorm:"embedded;embeddedPrefix:expected_"`
	Status          string          `json:"status" gorm:"not null;index"`
	MaturityDate    *time.Time      `json:"maturityDate,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`

	Returns []Return `json:"returns" gorm:"foreignKey:InvestmentID"`
}

func (i *Investment) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// encodeDetails copies Details into the stored column
func (i *Investment) encodeDetails() error {
	if i.Details == nil {
		return fmt.Errorf("investment %s has no details", i.ID)
	}
	raw, err := json.Marshal(i.Details)
	if err != nil {
		return fmt.Errorf("failed to encode investment details: %w", err)
	}
	i.DetailsJSON = raw
	return nil
}

// decodeDetails restores Details from the stored column
func (i *Investment) decodeDetails() error {
	details, err := DecodeDetails(i.InvestmentType, i.DetailsJSON)
	if err != nil {
		return fmt.Errorf("failed to decode details of investment %s: %w", i.ID, err)
	}
	i.Details = details
	return nil
}

// TotalReturnsReceived sums paid returns
func (i *Investment) TotalReturnsReceived() decimal.Decimal {
	total := decimal.Zero
	for _, r := range i.Returns {
		if r.Status == ReturnPaid {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// ROIPercentage is TotalReturnsReceived / Amount * 100, rounded to 2 places
func (i *Investment) ROIPercentage() decimal.Decimal {
	if i.Amount.IsZero() {
		return decimal.Zero
	}
	return i.TotalReturnsReceived().Div(i.Amount).Mul(decimal.NewFromInt(100)).Round(2)
}

// Return is one entry of the append-only returns ledger
type Return struct {
	ID           uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	InvestmentID uuid.UUID       `json:"-" gorm:"type:uuid;not null;uniqueIndex:idx_investment_returns_seq"`
	Seq          int             `json:"seq" gorm:"not null;uniqueIndex:idx_investment_returns_seq"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	ReturnType   string          `json:"returnType" gorm:"not null"`
	Date         time.Time       `json:"date" gorm:"not null"`
	Status       string          `json:"status" gorm:"not null;index"`
	ConfirmedAt  *time.Time      `json:"confirmedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (Return) TableName() string { return "investment_returns" }

func (r *Return) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Models lists the tables owned by this package
func Models() []any {
	return []any{&Investment{}, &Return{}}
}

// View is an investment with its derived figures
type View struct {
	*Investment
	TotalReturnsReceived decimal.Decimal `json:"totalReturnsReceived"`
	ROIPercentage        decimal.Decimal `json:"roiPercentage"`
}

// NewView computes the derived figures of inv
func NewView(inv *Investment) View {
	return View{
		Investment:           inv,
		TotalReturnsReceived: inv.TotalReturnsReceived(),
		ROIPercentage:        inv.ROIPercentage(),
	}
}

// CreateInvestmentRequest opens an investment
type CreateInvestmentRequest struct {
	ProjectID      uuid.UUID       `json:"projectId" binding:"required"`
	InvestmentType string          `json:"investmentType" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"required"`
	AnnualRate     decimal.Decimal `json:"annualRate"`
	TermMonths     int64           `json:"termMonths" binding:"required,gt=0"`
	Details        json.RawMessage `json:"details"`
}

// UpdateStatusRequest moves an investment to a new status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// AddReturnRequest records a realized return
type AddReturnRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	ReturnType string          `json:"returnType" binding:"required"`
	Date       time.Time       `json:"date"`
}

// ConfirmReturnRequest settles a pending return
type ConfirmReturnRequest struct {
	Status string `json:"status" binding:"required,oneof=paid reinvested"`
}

// PortfolioSummary folds an investor's positions. Money is reported in USD.
type PortfolioSummary struct {
	InvestorID     string          `json:"investorId"`
	Currency       string          `json:"currency"`
	Investments    int             `json:"investments"`
	TotalInvested  decimal.Decimal `json:"totalInvested"`
	TotalExpected  decimal.Decimal `json:"totalExpectedReturn"`
	TotalReturns   decimal.Decimal `json:"totalReturns"`
	CountsByStatus map[string]int  `json:"countsByStatus"`
	AverageROI     decimal.Decimal `json:"averageROI"`
}
