package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SpreadMetrics is the bid-ask spread computed for one order book snapshot.
type SpreadMetrics struct {
	SpreadAbs decimal.Decimal
	SpreadBps decimal.Decimal
	MidPrice  decimal.Decimal
	ZScore    *decimal.Decimal
}

// IsZScoreAvailable reports whether a z-score has been computed (not in warmup).
func (m SpreadMetrics) IsZScoreAvailable() bool { return m.ZScore != nil }

// DepthMetrics captures notional depth at 5/10/25 bps from mid on both sides.
type DepthMetrics struct {
	Depth5BpsBid   decimal.Decimal
	Depth5BpsAsk   decimal.Decimal
	Depth5BpsTotal decimal.Decimal

	Depth10BpsBid   decimal.Decimal
	Depth10BpsAsk   decimal.Decimal
	Depth10BpsTotal decimal.Decimal

	Depth25BpsBid   decimal.Decimal
	Depth25BpsAsk   decimal.Decimal
	Depth25BpsTotal decimal.Decimal

	Imbalance decimal.Decimal
}

// IsBidHeavy reports whether the book leans toward bids (imbalance > 0).
func (m DepthMetrics) IsBidHeavy() bool { return m.Imbalance.GreaterThan(decimal.Zero) }

// IsAskHeavy reports whether the book leans toward asks (imbalance < 0).
func (m DepthMetrics) IsAskHeavy() bool { return m.Imbalance.LessThan(decimal.Zero) }

// DepthAtLevel returns the depth field matching bps ("5", "10", "25") and
// side ("bid", "ask", "total").
func (m DepthMetrics) DepthAtLevel(bps int, side string) (decimal.Decimal, error) {
	switch {
	case bps == 5 && side == "bid":
		return m.Depth5BpsBid, nil
	case bps == 5 && side == "ask":
		return m.Depth5BpsAsk, nil
	case bps == 5 && side == "total":
		return m.Depth5BpsTotal, nil
	case bps == 10 && side == "bid":
		return m.Depth10BpsBid, nil
	case bps == 10 && side == "ask":
		return m.Depth10BpsAsk, nil
	case bps == 10 && side == "total":
		return m.Depth10BpsTotal, nil
	case bps == 25 && side == "bid":
		return m.Depth25BpsBid, nil
	case bps == 25 && side == "ask":
		return m.Depth25BpsAsk, nil
	case bps == 25 && side == "total":
		return m.Depth25BpsTotal, nil
	default:
		return decimal.Zero, fmt.Errorf("model: invalid depth level %dbps_%s", bps, side)
	}
}

// BasisMetrics captures the perpetual-spot basis for a perpetual instrument.
type BasisMetrics struct {
	BasisAbs decimal.Decimal
	BasisBps decimal.Decimal
	PerpMid  decimal.Decimal
	SpotMid  decimal.Decimal
	ZScore   *decimal.Decimal
}

// IsPremium reports whether the perpetual trades above spot.
func (m BasisMetrics) IsPremium() bool { return m.BasisAbs.GreaterThan(decimal.Zero) }

// IsDiscount reports whether the perpetual trades below spot.
func (m BasisMetrics) IsDiscount() bool { return m.BasisAbs.LessThan(decimal.Zero) }

// IsZScoreAvailable reports whether a z-score has been computed (not in warmup).
func (m BasisMetrics) IsZScoreAvailable() bool { return m.ZScore != nil }

// AbsBasisBps returns the absolute basis in basis points.
func (m BasisMetrics) AbsBasisBps() decimal.Decimal { return m.BasisBps.Abs() }

// ImbalanceMetrics captures order book imbalance at multiple depths.
type ImbalanceMetrics struct {
	TopOfBookImbalance  decimal.Decimal
	WeightedImbalance5  decimal.Decimal
	WeightedImbalance10 decimal.Decimal
}

// CrossExchangeMetrics compares the same instrument across two venues.
type CrossExchangeMetrics struct {
	ExchangeA           string
	ExchangeB           string
	Instrument          string
	Timestamp           time.Time
	MidPriceA           decimal.Decimal
	MidPriceB           decimal.Decimal
	PriceDivergenceBps  decimal.Decimal
	CrossExchangeSpread decimal.Decimal
	ArbitrageOpportunity bool
}

// AbsDivergenceBps returns the absolute price divergence in basis points.
func (m CrossExchangeMetrics) AbsDivergenceBps() decimal.Decimal {
	return m.PriceDivergenceBps.Abs()
}

// AggregatedMetrics bundles every computed metric for one instrument snapshot.
type AggregatedMetrics struct {
	Exchange   string
	Instrument string
	Timestamp  time.Time

	Spread    SpreadMetrics
	Depth     DepthMetrics
	Basis     *BasisMetrics
	Imbalance ImbalanceMetrics
}

// HasBasis reports whether this snapshot includes basis metrics (i.e. is a
// perpetual instrument compared against its spot reference).
func (m AggregatedMetrics) HasBasis() bool { return m.Basis != nil }
