// Package okx implements the venue.Adapter for OKX's combined public
// WebSocket: one connection multiplexes every subscribed instrument's
// "books" (order book) and "tickers" channels, routed by channel+instId,
// generalizing internal/providers/kraken/websocket.go's
// channel-routing-by-id pattern to OKX's two-part routing key.
package okx

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

type side struct {
	levels *treemap.Map
}

func newSide() *side { return &side{levels: treemap.NewWith(decimalComparator)} }

func (s *side) applyDiff(levels []model.PriceLevel) {
	for _, lv := range levels {
		if lv.Quantity.IsZero() {
			s.levels.Remove(lv.Price)
		} else {
			s.levels.Put(lv.Price, lv.Quantity)
		}
	}
}

func (s *side) replaceAll(levels []model.PriceLevel) {
	s.levels.Clear()
	for _, lv := range levels {
		if lv.Quantity.IsZero() {
			continue
		}
		s.levels.Put(lv.Price, lv.Quantity)
	}
}

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

// localBook is the per-instrument book state kept between OKX snapshot and
// incremental update pushes.
type localBook struct {
	bids   *side
	asks   *side
	seqID  int64
	synced bool
}

func newLocalBook() *localBook {
	return &localBook{bids: newSide(), asks: newSide()}
}

func (b *localBook) snapshot(depth int) ([]model.PriceLevel, []model.PriceLevel, bool) {
	if !b.synced {
		return nil, nil, false
	}
	return b.bids.top(depth, false), b.asks.top(depth, true), true
}
