package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price/quantity pair on one side of an order book.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// NewPriceLevel validates and constructs a PriceLevel. Price and quantity
// must both be strictly positive; a zero-quantity level is a removal, not
// a level, and callers should drop it instead of constructing one.
func NewPriceLevel(price, quantity decimal.Decimal) (PriceLevel, error) {
	if price.Sign() <= 0 {
		return PriceLevel{}, fmt.Errorf("model: price level price must be positive, got %s", price)
	}
	if quantity.Sign() <= 0 {
		return PriceLevel{}, fmt.Errorf("model: price level quantity must be positive, got %s", quantity)
	}
	return PriceLevel{Price: price, Quantity: quantity}, nil
}

// Notional returns price * quantity.
func (p PriceLevel) Notional() decimal.Decimal {
	return p.Price.Mul(p.Quantity)
}

const defaultDepthLevels = 20

// OrderBookSnapshot is a point-in-time view of an order book, sorted
// best-to-worst on both sides.
type OrderBookSnapshot struct {
	Exchange       string
	Instrument     string
	Timestamp      time.Time
	LocalTimestamp time.Time
	SequenceID     int64
	Bids           []PriceLevel
	Asks           []PriceLevel
	DepthLevels    int
}

// NewOrderBookSnapshot validates ordering (bids strictly descending, asks
// strictly ascending) and the no-crossed-book invariant before returning a
// snapshot.
func NewOrderBookSnapshot(exchange, instrument string, ts, localTs time.Time, seq int64, bids, asks []PriceLevel) (OrderBookSnapshot, error) {
	if exchange == "" {
		return OrderBookSnapshot{}, fmt.Errorf("model: exchange must not be empty")
	}
	if instrument == "" {
		return OrderBookSnapshot{}, fmt.Errorf("model: instrument must not be empty")
	}
	for i := 1; i < len(bids); i++ {
		if bids[i].Price.GreaterThanOrEqual(bids[i-1].Price) {
			return OrderBookSnapshot{}, fmt.Errorf("model: bids not strictly descending at index %d", i)
		}
	}
	for i := 1; i < len(asks); i++ {
		if asks[i].Price.LessThanOrEqual(asks[i-1].Price) {
			return OrderBookSnapshot{}, fmt.Errorf("model: asks not strictly ascending at index %d", i)
		}
	}
	if len(bids) > 0 && len(asks) > 0 && bids[0].Price.GreaterThanOrEqual(asks[0].Price) {
		return OrderBookSnapshot{}, fmt.Errorf("model: crossed book, best bid %s >= best ask %s", bids[0].Price, asks[0].Price)
	}
	snap := OrderBookSnapshot{
		Exchange:       exchange,
		Instrument:     instrument,
		Timestamp:      ts,
		LocalTimestamp: localTs,
		SequenceID:     seq,
		Bids:           bids,
		Asks:           asks,
		DepthLevels:    defaultDepthLevels,
	}
	return snap, nil
}

// BestBid returns the top bid level, or false if the book has no bids.
func (s OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, or false if the book has no asks.
func (s OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns (best_bid + best_ask) / 2, or false if either side is empty.
func (s OrderBookSnapshot) MidPrice() (decimal.Decimal, bool) {
	bid, ok := s.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := s.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Spread returns best_ask - best_bid, or false if either side is empty.
func (s OrderBookSnapshot) Spread() (decimal.Decimal, bool) {
	bid, ok := s.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := s.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// SpreadBps returns the spread in basis points: spread / mid_price * 10000.
func (s OrderBookSnapshot) SpreadBps() (decimal.Decimal, bool) {
	spread, ok := s.Spread()
	if !ok {
		return decimal.Zero, false
	}
	mid, ok := s.MidPrice()
	if !ok || mid.IsZero() {
		return decimal.Zero, false
	}
	return spread.Div(mid).Mul(decimal.NewFromInt(10000)), true
}

// BestBidQuantity returns the quantity at the best bid, or zero if absent.
func (s OrderBookSnapshot) BestBidQuantity() decimal.Decimal {
	if bid, ok := s.BestBid(); ok {
		return bid.Quantity
	}
	return decimal.Zero
}

// BestAskQuantity returns the quantity at the best ask, or zero if absent.
func (s OrderBookSnapshot) BestAskQuantity() decimal.Decimal {
	if ask, ok := s.BestAsk(); ok {
		return ask.Quantity
	}
	return decimal.Zero
}

// IsValid reports whether the snapshot has at least one level on each side
// and is not crossed.
func (s OrderBookSnapshot) IsValid() bool {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return false
	}
	return bid.Price.LessThan(ask.Price)
}

// TotalBidNotional sums price*quantity across all bid levels.
func (s OrderBookSnapshot) TotalBidNotional() decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.Bids {
		total = total.Add(lvl.Notional())
	}
	return total
}

// TotalAskNotional sums price*quantity across all ask levels.
func (s OrderBookSnapshot) TotalAskNotional() decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.Asks {
		total = total.Add(lvl.Notional())
	}
	return total
}

// DepthAtBps sums notional on the requested side within bps of mid price.
// side must be "bid" or "ask".
func (s OrderBookSnapshot) DepthAtBps(bps int, side string) (decimal.Decimal, error) {
	mid, ok := s.MidPrice()
	if !ok {
		return decimal.Zero, fmt.Errorf("model: depth_at_bps requires both sides present")
	}
	threshold := decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10000))
	var levels []PriceLevel
	switch side {
	case "bid":
		levels = s.Bids
	case "ask":
		levels = s.Asks
	default:
		return decimal.Zero, fmt.Errorf("model: invalid depth side %q", side)
	}
	total := decimal.Zero
	for _, lvl := range levels {
		dist := lvl.Price.Sub(mid).Abs().Div(mid)
		if dist.LessThanOrEqual(threshold) {
			total = total.Add(lvl.Notional())
		}
	}
	return total, nil
}
