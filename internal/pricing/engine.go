package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

// PaymentMethod identifies the rail a buyer pays with
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCrypto       PaymentMethod = "crypto"
	PaymentMethodIzraToken    PaymentMethod = "izra-token"
)

// IsPlatformToken reports whether the fee waiver and token discount apply
func (m PaymentMethod) IsPlatformToken() bool {
	return strings.EqualFold(string(m), string(PaymentMethodIzraToken))
}

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch PaymentMethod(strings.ToLower(string(m))) {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodCrypto, PaymentMethodIzraToken:
		return true
	}
	return false
}

// LineItem is the priced unit of an order
type LineItem struct {
	Amount    int64
	UnitPrice decimal.Decimal
}

// Quote is the result of pricing an order.
// Subtotal, Fee and Discount are exact; Total is rounded to cents.
type Quote struct {
	Currency Currency        `json:"currency"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Fee      decimal.Decimal `json:"fee"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Engine prices orders with the configured platform fee and token discount
type Engine struct {
	platformFeeRate   decimal.Decimal
	tokenDiscountRate decimal.Decimal
}

// DefaultPlatformFeeRate and DefaultTokenDiscountRate apply when config leaves them unset
var (
	DefaultPlatformFeeRate   = decimal.RequireFromString("0.02")
	DefaultTokenDiscountRate = decimal.RequireFromString("0.10")
)

// NewEngine creates a pricing engine
func NewEngine(platformFeeRate, tokenDiscountRate decimal.Decimal) *Engine {
	return &Engine{
		platformFeeRate:   platformFeeRate,
		tokenDiscountRate: tokenDiscountRate,
	}
}

// NewDefaultEngine uses a 2% platform fee and a 10% token discount
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultPlatformFeeRate, DefaultTokenDiscountRate)
}

// PriceOrder prices a set of line items in one currency
func (e *Engine) PriceOrder(items []LineItem, currency Currency, method PaymentMethod) (*Quote, error) {
	if !contains(OrderCurrencies, currency) {
		return nil, unsupported(string(currency), OrderCurrencies)
	}
	if len(items) == 0 {
		return nil, apperr.Validation("lineItems", "at least one line item is required")
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if item.Amount <= 0 {
			return nil, apperr.Validation("lineItems.amount", "must be positive, got %d", item.Amount)
		}
		if item.UnitPrice.IsNegative() {
			return nil, apperr.Validation("lineItems.unitPrice", "must not be negative")
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Amount)))
	}

	fee := decimal.Zero
	discount := decimal.Zero
	if method.IsPlatformToken() {
		discount = subtotal.Mul(e.tokenDiscountRate)
	} else {
		fee = subtotal.Mul(e.platformFeeRate)
	}

	return &Quote{
		Currency: currency,
		Subtotal: subtotal,
		Fee:      fee,
		Discount: discount,
		Total:    RoundMoney(subtotal.Add(fee).Sub(discount)),
	}, nil
}
