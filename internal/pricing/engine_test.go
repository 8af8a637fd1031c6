package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPriceOrderCard(t *testing.T) {
	engine := NewDefaultEngine()

	quote, err := engine.PriceOrder([]LineItem{{Amount: 30, UnitPrice: dec("10")}}, USD, PaymentMethodCard)
	require.NoError(t, err)

	assert.True(t, quote.Subtotal.Equal(dec("300")))
	assert.True(t, quote.Fee.Equal(dec("6")))
	assert.True(t, quote.Discount.IsZero())
	assert.Equal(t, "306.00", quote.Total.StringFixed(2))
}

func TestPriceOrderToken(t *testing.T) {
	engine := NewDefaultEngine()

	quote, err := engine.PriceOrder([]LineItem{{Amount: 10, UnitPrice: dec("10")}}, USD, PaymentMethodIzraToken)
	require.NoError(t, err)

	assert.True(t, quote.Subtotal.Equal(dec("100")))
	assert.True(t, quote.Fee.IsZero())
	assert.True(t, quote.Discount.Equal(dec("10")))
	assert.True(t, quote.Total.Equal(dec("90")))
}

func TestPriceOrderRoundsOnlyTotal(t *testing.T) {
	engine := NewDefaultEngine()
	items := []LineItem{
		{Amount: 3, UnitPrice: dec("0.335")},
		{Amount: 7, UnitPrice: dec("1.0049")},
	}

	quote, err := engine.PriceOrder(items, AED, PaymentMethodCard)
	require.NoError(t, err)

	// 1.005 + 7.0343 = 8.0393; fee 0.160786; total 8.200086
	assert.True(t, quote.Subtotal.Equal(dec("8.0393")))
	assert.True(t, quote.Fee.Equal(dec("0.160786")))
	assert.Equal(t, "8.20", quote.Total.StringFixed(2))
	assert.True(t, quote.Total.Equal(quote.Total.Round(2)))
}

func TestPriceOrderRoundHalfUp(t *testing.T) {
	engine := NewEngine(decimal.Zero, decimal.Zero)

	quote, err := engine.PriceOrder([]LineItem{{Amount: 1, UnitPrice: dec("2.345")}}, USD, PaymentMethodCard)
	require.NoError(t, err)
	assert.Equal(t, "2.35", quote.Total.StringFixed(2))
}

func TestPriceOrderDeterministic(t *testing.T) {
	engine := NewDefaultEngine()
	items := []LineItem{{Amount: 13, UnitPrice: dec("7.77")}, {Amount: 2, UnitPrice: dec("0.01")}}

	first, err := engine.PriceOrder(items, USDT, PaymentMethodBankTransfer)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := engine.PriceOrder(items, USDT, PaymentMethodBankTransfer)
		require.NoError(t, err)
		assert.True(t, first.Subtotal.Equal(again.Subtotal))
		assert.True(t, first.Fee.Equal(again.Fee))
		assert.True(t, first.Discount.Equal(again.Discount))
		assert.True(t, first.Total.Equal(again.Total))
	}
}

func TestPriceOrderValidation(t *testing.T) {
	engine := NewDefaultEngine()

	_, err := engine.PriceOrder(nil, USD, PaymentMethodCard)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = engine.PriceOrder([]LineItem{{Amount: 0, UnitPrice: dec("1")}}, USD, PaymentMethodCard)
	assert.ErrorAs(t, err, &verr)

	_, err = engine.PriceOrder([]LineItem{{Amount: 1, UnitPrice: dec("1")}}, IZRA, PaymentMethodCard)
	var cerr *apperr.UnsupportedCurrencyError
	assert.ErrorAs(t, err, &cerr)
}

func TestPaymentMethod(t *testing.T) {
	assert.True(t, PaymentMethod("IZRA-TOKEN").IsPlatformToken())
	assert.False(t, PaymentMethodCard.IsPlatformToken())
	assert.True(t, PaymentMethod("Card").Valid())
	assert.False(t, PaymentMethod("cheque").Valid())
}
