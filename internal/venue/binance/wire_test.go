package binance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawLevel_ToPriceLevel(t *testing.T) {
	lvl := rawLevel{"100.5", "2.3"}
	price, qty, err := lvl.toPriceLevel()
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, qty.Equal(decimal.RequireFromString("2.3")))
}

func TestRawLevel_ToPriceLevel_InvalidPrice(t *testing.T) {
	lvl := rawLevel{"not-a-number", "1"}
	_, _, err := lvl.toPriceLevel()
	assert.Error(t, err)
}

func TestRawLevel_ToPriceLevel_InvalidQuantity(t *testing.T) {
	lvl := rawLevel{"1", "not-a-number"}
	_, _, err := lvl.toPriceLevel()
	assert.Error(t, err)
}
