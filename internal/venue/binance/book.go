// Package binance implements the venue.Adapter for Binance: a futures
// diff-depth stream (sequence-resync via U/u/pu bracket checks) and a spot
// partial-depth stream (each message is a fresh top-N snapshot). Grounded
// on the teacher's treemap-backed order book
// (other_examples/16d0391e_BullionBear-sequex__internal-orderbook-orderbook.go)
// and its connection/ping/reconnect shape
// (internal/providers/kraken/websocket.go).
package binance

import (
	"errors"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// side is one side (bids or asks) of a local order book, kept as a sorted
// price->size map so top-N extraction and diff application are both O(log n).
type side struct {
	levels *treemap.Map
}

func newSide() *side {
	return &side{levels: treemap.NewWith(decimalComparator)}
}

// applyDiff upserts or removes levels; a zero size removes the price level,
// matching Binance's diff-depth wire convention.
func (s *side) applyDiff(levels []model.PriceLevel) {
	for _, lv := range levels {
		if lv.Quantity.IsZero() {
			s.levels.Remove(lv.Price)
		} else {
			s.levels.Put(lv.Price, lv.Quantity)
		}
	}
}

// replaceAll discards existing levels and loads a fresh snapshot.
func (s *side) replaceAll(levels []model.PriceLevel) {
	s.levels.Clear()
	for _, lv := range levels {
		if lv.Quantity.IsZero() {
			continue
		}
		s.levels.Put(lv.Price, lv.Quantity)
	}
}

// top returns up to depth levels ordered best-first: ascending for asks,
// descending for bids.
func (s *side) top(depth int, ascending bool) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, depth)
	it := s.levels.Iterator()
	if ascending {
		for it.Next() && len(out) < depth {
			out = append(out, model.PriceLevel{Price: it.Key().(decimal.Decimal), Quantity: it.Value().(decimal.Decimal)})
		}
	} else {
		for it.End(); it.Prev() && len(out) < depth; {
			out = append(out, model.PriceLevel{Price: it.Key().(decimal.Decimal), Quantity: it.Value().(decimal.Decimal)})
		}
	}
	return out
}

// localBook is the per-instrument L2 state the adapter maintains between
// diff updates, mirroring BinanceOrderBook/BinancePerpOrderBook from the
// teacher but generalized across both futures and spot streams.
type localBook struct {
	bids         *side
	asks         *side
	lastUpdateID int64
	synced       bool // false until the first snapshot/resync has landed
}

func newLocalBook() *localBook {
	return &localBook{bids: newSide(), asks: newSide()}
}

var errNotSynced = errors.New("binance: book not yet synced")

func (b *localBook) snapshot(depth int) ([]model.PriceLevel, []model.PriceLevel, error) {
	if !b.synced {
		return nil, nil, errNotSynced
	}
	return b.bids.top(depth, false), b.asks.top(depth, true), nil
}
