package binance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/surveil/internal/model"
)

func lvl(price, qty string) model.PriceLevel {
	return model.PriceLevel{Price: decimal.RequireFromString(price), Quantity: decimal.RequireFromString(qty)}
}

func TestSide_ApplyDiff_UpsertsAndRemovesZeroSize(t *testing.T) {
	s := newSide()
	s.applyDiff([]model.PriceLevel{lvl("100", "1"), lvl("101", "2")})
	top := s.top(10, true)
	require.Len(t, top, 2)

	s.applyDiff([]model.PriceLevel{lvl("100", "0")})
	top = s.top(10, true)
	require.Len(t, top, 1)
	assert.True(t, top[0].Price.Equal(decimal.RequireFromString("101")))
}

func TestSide_ReplaceAll_DiscardsPriorState(t *testing.T) {
	s := newSide()
	s.applyDiff([]model.PriceLevel{lvl("100", "1")})
	s.replaceAll([]model.PriceLevel{lvl("200", "5")})
	top := s.top(10, true)
	require.Len(t, top, 1)
	assert.True(t, top[0].Price.Equal(decimal.RequireFromString("200")))
}

func TestSide_ReplaceAll_SkipsZeroSizeLevels(t *testing.T) {
	s := newSide()
	s.replaceAll([]model.PriceLevel{lvl("100", "0"), lvl("101", "1")})
	assert.Len(t, s.top(10, true), 1)
}

func TestSide_Top_OrdersAscendingAndDescending(t *testing.T) {
	s := newSide()
	s.applyDiff([]model.PriceLevel{lvl("100", "1"), lvl("102", "1"), lvl("101", "1")})

	asc := s.top(10, true)
	require.Len(t, asc, 3)
	assert.True(t, asc[0].Price.Equal(decimal.RequireFromString("100")))
	assert.True(t, asc[2].Price.Equal(decimal.RequireFromString("102")))

	desc := s.top(10, false)
	require.Len(t, desc, 3)
	assert.True(t, desc[0].Price.Equal(decimal.RequireFromString("102")))
	assert.True(t, desc[2].Price.Equal(decimal.RequireFromString("100")))
}

func TestSide_Top_RespectsDepthLimit(t *testing.T) {
	s := newSide()
	s.applyDiff([]model.PriceLevel{lvl("100", "1"), lvl("101", "1"), lvl("102", "1")})
	assert.Len(t, s.top(2, true), 2)
}

func TestLocalBook_SnapshotBeforeSyncIsError(t *testing.T) {
	b := newLocalBook()
	_, _, err := b.snapshot(10)
	assert.ErrorIs(t, err, errNotSynced)
}

func TestLocalBook_SnapshotAfterSync(t *testing.T) {
	b := newLocalBook()
	b.bids.replaceAll([]model.PriceLevel{lvl("100", "1")})
	b.asks.replaceAll([]model.PriceLevel{lvl("101", "1")})
	b.synced = true

	bids, asks, err := b.snapshot(10)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
}
