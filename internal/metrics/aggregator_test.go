package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/surveil/internal/model"
)

func level(t *testing.T, price, qty string) model.PriceLevel {
	t.Helper()
	lvl, err := model.NewPriceLevel(decimal.RequireFromString(price), decimal.RequireFromString(qty))
	require.NoError(t, err)
	return lvl
}

func TestAggregator_CalculateAll_WithoutSpot(t *testing.T) {
	agg, err := NewAggregator()
	require.NoError(t, err)

	now := time.Now()
	perp, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1,
		[]model.PriceLevel{level(t, "100", "2")}, []model.PriceLevel{level(t, "100.2", "2")})
	require.NoError(t, err)

	out, err := agg.CalculateAll(perp, nil)
	require.NoError(t, err)

	assert.False(t, out.HasBasis())
	assert.Nil(t, out.Basis)
	assert.Equal(t, "binance", out.Exchange)
	assert.Equal(t, "BTC-USDT-PERP", out.Instrument)
}

func TestAggregator_CalculateAll_WithSpot(t *testing.T) {
	agg, err := NewAggregator()
	require.NoError(t, err)

	now := time.Now()
	perp, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1,
		[]model.PriceLevel{level(t, "101", "2")}, []model.PriceLevel{level(t, "101.2", "2")})
	require.NoError(t, err)
	spot, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-SPOT", now, now, 1,
		[]model.PriceLevel{level(t, "100", "2")}, []model.PriceLevel{level(t, "100.2", "2")})
	require.NoError(t, err)

	out, err := agg.CalculateAll(perp, &spot)
	require.NoError(t, err)

	require.True(t, out.HasBasis())
	assert.True(t, out.Basis.IsPremium())
}

func TestAggregator_ResetAllZScores(t *testing.T) {
	agg, err := NewAggregator(WithAggregatorZScoreWindow(300))
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 35; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		perp, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-PERP", ts, ts, int64(i), []model.PriceLevel{level(t, "100", "2")}, []model.PriceLevel{level(t, "100.2", "2")})
		require.NoError(t, err)
		_, err = agg.CalculateAll(perp, nil)
		require.NoError(t, err)
	}

	statuses := agg.ZScoreStatuses()
	require.Contains(t, statuses, "spread")
	assert.True(t, statuses["spread"].IsReady)

	agg.ResetAllZScores("sequence_backwards")
	statuses = agg.ZScoreStatuses()
	assert.False(t, statuses["spread"].IsReady)
	assert.Equal(t, 0, statuses["spread"].SamplesCollected)
}

func TestAggregator_CalculateAll_RejectsInvalidSnapshot(t *testing.T) {
	agg, err := NewAggregator()
	require.NoError(t, err)

	now := time.Now()
	empty, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1, nil, nil)
	require.NoError(t, err)

	_, err = agg.CalculateAll(empty, nil)
	assert.Error(t, err)
}

func TestAggregator_ImbalanceScopes(t *testing.T) {
	agg, err := NewAggregator()
	require.NoError(t, err)

	now := time.Now()
	bids := []model.PriceLevel{level(t, "100", "5"), level(t, "99.9", "1")}
	asks := []model.PriceLevel{level(t, "100.1", "1"), level(t, "100.2", "1")}
	snap, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1, bids, asks)
	require.NoError(t, err)

	out, err := agg.CalculateAll(snap, nil)
	require.NoError(t, err)

	// Top-of-book: bid qty 5 vs ask qty 1 => strongly bid-heavy.
	assert.True(t, out.Imbalance.TopOfBookImbalance.GreaterThan(decimal.Zero))
	assert.True(t, out.Imbalance.WeightedImbalance5.GreaterThan(decimal.Zero))
}
