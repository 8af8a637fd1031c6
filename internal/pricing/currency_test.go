package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

func TestConvert(t *testing.T) {
	aed, err := Convert(dec("100"), USD, AED)
	require.NoError(t, err)
	assert.True(t, aed.Equal(dec("367.25")))

	usd, err := Convert(dec("367.25"), AED, USD)
	require.NoError(t, err)
	assert.True(t, usd.Equal(dec("100")))

	same, err := Convert(dec("12.345"), USDT, USDT)
	require.NoError(t, err)
	assert.True(t, same.Equal(dec("12.345")))

	usdt, err := Convert(dec("5"), USD, USDT)
	require.NoError(t, err)
	assert.True(t, usdt.Equal(dec("5")))
}

func TestConvertRejectsTokensOutsideCheckout(t *testing.T) {
	_, err := Convert(dec("1"), USD, IZRA)
	var cerr *apperr.UnsupportedCurrencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "IZRA", cerr.Currency)

	_, err = Convert(dec("1"), "EUR", USD)
	assert.ErrorAs(t, err, &cerr)
}

func TestConvertCheckout(t *testing.T) {
	izra, err := ConvertCheckout(dec("25"), USD, IZRA)
	require.NoError(t, err)
	assert.True(t, izra.Equal(dec("100")))

	usdc, err := ConvertCheckout(dec("367.25"), AED, USDC)
	require.NoError(t, err)
	assert.True(t, usdc.Equal(dec("100")))
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency(" usd ", OrderCurrencies)
	require.NoError(t, err)
	assert.Equal(t, USD, c)

	_, err = ParseCurrency("usdc", OrderCurrencies)
	assert.Error(t, err)

	c, err = ParseCurrency("usdc", CheckoutCurrencies)
	require.NoError(t, err)
	assert.Equal(t, USDC, c)
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, "0.13", RoundMoney(dec("0.125")).StringFixed(2))
	assert.Equal(t, "0.12", RoundMoney(dec("0.1249")).StringFixed(2))
}
