package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

// Currency is an ISO-style currency or platform token code
type Currency string

const (
	AED  Currency = "AED"
	USD  Currency = "USD"
	USDT Currency = "USDT"
	IZRA Currency = "IZRA"
	USDC Currency = "USDC"
)

// BaseCurrency is the currency every rate in the table is quoted against
const BaseCurrency = USD

// units of each currency per one USD
var ratesPerUSD = map[Currency]decimal.Decimal{
	USD:  decimal.NewFromInt(1),
	USDT: decimal.NewFromInt(1),
	USDC: decimal.NewFromInt(1),
	AED:  decimal.RequireFromString("3.6725"),
	IZRA: decimal.NewFromInt(4),
}

// OrderCurrencies are accepted for credit orders and investments
var OrderCurrencies = []Currency{AED, USD, USDT}

// CheckoutCurrencies are accepted at the sponsorship checkout boundary
var CheckoutCurrencies = []Currency{AED, USD, USDT, IZRA, USDC}

// ParseCurrency normalizes a client supplied code and checks it against the allowed set
func ParseCurrency(code string, allowed []Currency) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	for _, a := range allowed {
		if a == c {
			return c, nil
		}
	}
	return "", unsupported(code, allowed)
}

// Convert converts amount between two order currencies.
// No rounding is applied; callers round final figures with RoundMoney.
func Convert(amount decimal.Decimal, from, to Currency) (decimal.Decimal, error) {
	return convert(amount, from, to, OrderCurrencies)
}

// ConvertCheckout is Convert with the platform token currencies enabled
func ConvertCheckout(amount decimal.Decimal, from, to Currency) (decimal.Decimal, error) {
	return convert(amount, from, to, CheckoutCurrencies)
}

func convert(amount decimal.Decimal, from, to Currency, allowed []Currency) (decimal.Decimal, error) {
	if !contains(allowed, from) {
		return decimal.Zero, unsupported(string(from), allowed)
	}
	if !contains(allowed, to) {
		return decimal.Zero, unsupported(string(to), allowed)
	}
	if from == to {
		return amount, nil
	}
	return amount.Mul(ratesPerUSD[to]).Div(ratesPerUSD[from]), nil
}

// RoundMoney rounds half-up to cents. Only final figures are rounded.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func contains(set []Currency, c Currency) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}

func unsupported(code string, allowed []Currency) error {
	supported := make([]string, len(allowed))
	for i, a := range allowed {
		supported[i] = string(a)
	}
	return &apperr.UnsupportedCurrencyError{Currency: code, Supported: supported}
}
