package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

var validBpsLevels = map[int]bool{5: true, 10: true, 25: true}

// DepthCalculator computes notional depth at configured bps levels from
// mid price, plus an imbalance ratio at the reference level.
type DepthCalculator struct {
	bpsLevels      []int
	referenceLevel int
}

// NewDepthCalculator constructs a DepthCalculator. bpsLevels defaults to
// [5, 10, 25] and referenceLevel to 10 when zero values are passed; both
// must only contain 5, 10, or 25 to match DepthMetrics' fixed fields.
func NewDepthCalculator(bpsLevels []int, referenceLevel int) (*DepthCalculator, error) {
	if len(bpsLevels) == 0 {
		bpsLevels = []int{5, 10, 25}
	}
	if referenceLevel == 0 {
		referenceLevel = 10
	}
	found := false
	for _, lvl := range bpsLevels {
		if !validBpsLevels[lvl] {
			return nil, fmt.Errorf("metrics: bps_levels must only contain 5, 10, 25, got %d", lvl)
		}
		if lvl == referenceLevel {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("metrics: reference_level (%d) must be in bps_levels (%v)", referenceLevel, bpsLevels)
	}
	return &DepthCalculator{bpsLevels: bpsLevels, referenceLevel: referenceLevel}, nil
}

// Calculate computes DepthMetrics for one order book snapshot.
func (c *DepthCalculator) Calculate(snap model.OrderBookSnapshot) (model.DepthMetrics, error) {
	if !snap.IsValid() {
		return model.DepthMetrics{}, fmt.Errorf("metrics: invalid order book snapshot exchange=%s instrument=%s", snap.Exchange, snap.Instrument)
	}
	mid, ok := snap.MidPrice()
	if !ok || mid.Sign() <= 0 {
		return model.DepthMetrics{}, fmt.Errorf("metrics: invalid mid price %s", mid)
	}

	values := make(map[string]decimal.Decimal)
	for _, bps := range c.bpsLevels {
		bid := c.depthAtBps(snap, mid, bps, "bid")
		ask := c.depthAtBps(snap, mid, bps, "ask")
		values[fmt.Sprintf("depth_%dbps_bid", bps)] = bid
		values[fmt.Sprintf("depth_%dbps_ask", bps)] = ask
		values[fmt.Sprintf("depth_%dbps_total", bps)] = bid.Add(ask)
	}

	refBid := values[fmt.Sprintf("depth_%dbps_bid", c.referenceLevel)]
	refAsk := values[fmt.Sprintf("depth_%dbps_ask", c.referenceLevel)]
	imbalance := imbalanceRatio(refBid, refAsk)

	get := func(bps int, side string) decimal.Decimal {
		return values[fmt.Sprintf("depth_%dbps_%s", bps, side)]
	}

	return model.DepthMetrics{
		Depth5BpsBid:    get(5, "bid"),
		Depth5BpsAsk:    get(5, "ask"),
		Depth5BpsTotal:  get(5, "total"),
		Depth10BpsBid:   get(10, "bid"),
		Depth10BpsAsk:   get(10, "ask"),
		Depth10BpsTotal: get(10, "total"),
		Depth25BpsBid:   get(25, "bid"),
		Depth25BpsAsk:   get(25, "ask"),
		Depth25BpsTotal: get(25, "total"),
		Imbalance:       imbalance,
	}, nil
}

// depthAtBps sums notional on one side within bps of mid. Levels are
// sorted best-to-worst, so we can stop at the first level outside bounds.
func (c *DepthCalculator) depthAtBps(snap model.OrderBookSnapshot, mid decimal.Decimal, bps int, side string) decimal.Decimal {
	bpsDecimal := decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10000))
	total := decimal.Zero

	if side == "bid" {
		threshold := mid.Mul(decimal.NewFromInt(1).Sub(bpsDecimal))
		for _, lvl := range snap.Bids {
			if lvl.Price.GreaterThanOrEqual(threshold) {
				total = total.Add(lvl.Notional())
			} else {
				break
			}
		}
		return total
	}

	threshold := mid.Mul(decimal.NewFromInt(1).Add(bpsDecimal))
	for _, lvl := range snap.Asks {
		if lvl.Price.LessThanOrEqual(threshold) {
			total = total.Add(lvl.Notional())
		} else {
			break
		}
	}
	return total
}

func imbalanceRatio(bid, ask decimal.Decimal) decimal.Decimal {
	total := bid.Add(ask)
	if total.IsZero() {
		return decimal.Zero
	}
	return bid.Sub(ask).Div(total)
}
