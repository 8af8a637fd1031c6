package investments

import (
	"github.com/shopspring/decimal"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
	"carbon-scribe/marketplace/marketplace-backend/internal/pricing"
)

var (
	maxAnnualRate = decimal.NewFromInt(1000)
	// rate is a percentage and terms are in months: 100 * 12
	percentMonths = decimal.NewFromInt(1200)
)

// ComputeExpectedReturns projects simple interest over the term:
//
//	total   = amount * (1 + rate/100 * termMonths/12)
//	payback = ceil(12 / (rate/100)) months, 0 when rate is 0
//
// The same projection is used for every investment type.
func ComputeExpectedReturns(investmentType string, amount, annualRate decimal.Decimal, termMonths int64) (ExpectedReturns, error) {
	switch investmentType {
	case TypeEquity, TypeDebt, TypeRevenueSharing, TypeCarbonCreditFuture:
	default:
		return ExpectedReturns{}, apperr.Validation("investmentType", "unknown investment type %q", investmentType)
	}
	if !amount.IsPositive() {
		return ExpectedReturns{}, apperr.Validation("amount", "must be positive")
	}
	if annualRate.IsNegative() || annualRate.GreaterThan(maxAnnualRate) {
		return ExpectedReturns{}, apperr.Validation("annualRate", "must be between 0 and %s", maxAnnualRate)
	}
	if termMonths <= 0 {
		return ExpectedReturns{}, apperr.Validation("termMonths", "must be positive")
	}

	interest := amount.Mul(annualRate).Mul(decimal.NewFromInt(termMonths)).Div(percentMonths)

	var payback int64
	if annualRate.IsPositive() {
		payback = percentMonths.Div(annualRate).Ceil().IntPart()
	}

	return ExpectedReturns{
		TotalExpectedReturn: pricing.RoundMoney(amount.Add(interest)),
		AnnualRate:          annualRate,
		PaybackPeriodMonths: payback,
	}, nil
}
