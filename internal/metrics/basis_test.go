package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/surveil/internal/model"
)

func oneLevelBook(t *testing.T, exchange, instrument, bid, ask string, ts time.Time) model.OrderBookSnapshot {
	t.Helper()
	bidLvl, err := model.NewPriceLevel(decimal.RequireFromString(bid), decimal.NewFromInt(1))
	require.NoError(t, err)
	askLvl, err := model.NewPriceLevel(decimal.RequireFromString(ask), decimal.NewFromInt(1))
	require.NoError(t, err)
	snap, err := model.NewOrderBookSnapshot(exchange, instrument, ts, ts, 1, []model.PriceLevel{bidLvl}, []model.PriceLevel{askLvl})
	require.NoError(t, err)
	return snap
}

func TestBasisCalculator_PremiumAndDiscount(t *testing.T) {
	calc, err := NewBasisCalculator(WithBasisZScore(false))
	require.NoError(t, err)

	now := time.Now()
	perp := oneLevelBook(t, "binance", "BTC-USDT-PERP", "101", "101.1", now)
	spot := oneLevelBook(t, "binance", "BTC-USDT-SPOT", "100", "100.1", now)

	m, err := calc.Calculate(perp, spot)
	require.NoError(t, err)
	assert.True(t, m.IsPremium())
	assert.False(t, m.IsDiscount())
	assert.True(t, m.BasisAbs.GreaterThan(decimal.Zero))
}

func TestBasisCalculator_RejectsMismatchedInstruments(t *testing.T) {
	calc, err := NewBasisCalculator()
	require.NoError(t, err)

	now := time.Now()
	perp := oneLevelBook(t, "binance", "ETH-USDT-PERP", "101", "101.1", now)
	spot := oneLevelBook(t, "binance", "BTC-USDT-SPOT", "100", "100.1", now)

	_, err = calc.Calculate(perp, spot)
	assert.Error(t, err)
}

func TestBasisCalculator_ZScoreUsesAbsoluteMagnitude(t *testing.T) {
	// Open question resolved per spec.md §9: basis z-score is computed on
	// |basis_bps|, losing sign for statistical purposes only.
	calc, err := NewBasisCalculator(WithBasisZScoreWindow(300), WithBasisZScoreMinSamples(30), WithBasisValidateInstruments(false))
	require.NoError(t, err)

	ref, err := NewZScoreTracker(300, 30, decimal.Zero)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 35; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		// Alternate a ~5 bps premium with a ~15 bps discount.
		var perp model.OrderBookSnapshot
		if i%2 == 0 {
			perp = oneLevelBook(t, "binance", "BTC-USDT-PERP", "100.05", "100.15", ts)
		} else {
			perp = oneLevelBook(t, "binance", "BTC-USDT-PERP", "99.85", "99.95", ts)
		}
		spot := oneLevelBook(t, "binance", "BTC-USDT-SPOT", "100", "100.1", ts)
		m, err := calc.Calculate(perp, spot)
		require.NoError(t, err)
		refZ := ref.AddSample(m.BasisBps.Abs(), ts)
		if i >= 29 {
			require.NotNil(t, m.ZScore)
			require.NotNil(t, refZ)
			assert.True(t, m.ZScore.Equal(*refZ), "zscore is computed on |basis_bps|")
		}
	}
}

func TestBasisCalculator_RejectsNonPositiveSpotMid(t *testing.T) {
	calc, err := NewBasisCalculator(WithBasisValidateInstruments(false))
	require.NoError(t, err)

	now := time.Now()
	perp := oneLevelBook(t, "binance", "BTC-USDT-PERP", "101", "101.1", now)
	emptySpot, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-SPOT", now, now, 1, nil, nil)
	require.NoError(t, err)

	_, err = calc.Calculate(perp, emptySpot)
	assert.Error(t, err)
}
