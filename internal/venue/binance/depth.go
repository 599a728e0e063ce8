package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
	"github.com/sawpanic/surveil/internal/venue"
)

func parseOptionalDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("binance: empty decimal field")
	}
	return decimal.NewFromString(raw)
}

func toPriceLevels(raw []rawLevel) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, qty, err := r.toPriceLevel()
		if err != nil {
			return nil, err
		}
		out = append(out, model.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// handleFuturesDepth applies the Binance futures diff-depth resync
// algorithm: in-sequence diffs are applied directly; a diff whose pu
// doesn't match our last applied id means we missed one or more updates,
// so we fetch a fresh REST snapshot and only resume applying diffs once
// one brackets our new lastUpdateID, exactly as
// BinancePerpOrderBook.Run does in the teacher example.
func (c *Client) handleFuturesDepth(ctx context.Context, binding instrumentBinding, data []byte) error {
	var ev futuresDepthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("binance: unmarshal futures depth: %w", err)
	}
	book := c.bookFor(binding.InstrumentID)

	if !book.synced {
		return c.resyncFutures(ctx, binding, book, &ev)
	}

	switch {
	case ev.FinalUpdateID < book.lastUpdateID:
		return nil // stale, drop
	case ev.PrevFinalID == book.lastUpdateID:
		return c.applyFuturesDiff(binding, book, &ev)
	default:
		reason, isGap := c.DetectGap(book.lastUpdateID, ev.PrevFinalID)
		if isGap {
			c.emitGap(binding.InstrumentID, reason, &book.lastUpdateID, &ev.PrevFinalID)
		}
		return c.resyncFutures(ctx, binding, book, &ev)
	}
}

func (c *Client) applyFuturesDiff(binding instrumentBinding, book *localBook, ev *futuresDepthEvent) error {
	bids, err := toPriceLevels(ev.Bids)
	if err != nil {
		return err
	}
	asks, err := toPriceLevels(ev.Asks)
	if err != nil {
		return err
	}
	book.bids.applyDiff(bids)
	book.asks.applyDiff(asks)
	book.lastUpdateID = ev.FinalUpdateID
	return c.publishBook(binding, book, time.UnixMilli(ev.EventTime))
}

func (c *Client) resyncFutures(ctx context.Context, binding instrumentBinding, book *localBook, pending *futuresDepthEvent) error {
	snap, err := c.GetOrderBookREST(ctx, binding.InstrumentID, binding.DepthLevels)
	if err != nil {
		return fmt.Errorf("binance: resync snapshot for %s: %w", binding.InstrumentID, err)
	}
	book.bids.replaceAll(snap.Bids)
	book.asks.replaceAll(snap.Asks)
	book.lastUpdateID = snap.SequenceID
	book.synced = true

	if pending != nil && pending.FirstUpdateID <= book.lastUpdateID && book.lastUpdateID <= pending.FinalUpdateID {
		return c.applyFuturesDiff(binding, book, pending)
	}
	return c.publishBook(binding, book, snap.Timestamp)
}

// handleSpotDepth treats each message as a full top-N resend: Binance's
// partial-depth stream carries no pu/diff semantics, only lastUpdateId.
func (c *Client) handleSpotDepth(ctx context.Context, binding instrumentBinding, data []byte) error {
	var ev spotDepthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("binance: unmarshal spot depth: %w", err)
	}
	book := c.bookFor(binding.InstrumentID)

	if book.synced {
		reason, isGap := c.DetectGap(book.lastUpdateID, ev.LastUpdateID)
		if isGap {
			c.emitGap(binding.InstrumentID, reason, &book.lastUpdateID, &ev.LastUpdateID)
		}
	}

	bids, err := toPriceLevels(ev.Bids)
	if err != nil {
		return err
	}
	asks, err := toPriceLevels(ev.Asks)
	if err != nil {
		return err
	}
	book.bids.replaceAll(bids)
	book.asks.replaceAll(asks)
	book.lastUpdateID = ev.LastUpdateID
	book.synced = true
	// Spot partial-depth carries no server timestamp; local receipt time
	// stands in.
	return c.publishBook(binding, book, time.Now())
}

func (c *Client) emitGap(instrumentID, reason string, prevSeq, newSeq *int64) {
	now := time.Now()
	c.mu.Lock()
	c.gapTimestamps = append(c.gapTimestamps, now)
	gaps := c.pruneGapsLocked()
	var lagMs int64
	if c.lastMessageAt != nil {
		lagMs = time.Since(*c.lastMessageAt).Milliseconds()
	}
	c.evaluateDegraded(lagMs, gaps)
	c.mu.Unlock()
	marker, err := model.NewGapMarker(c.exchangeName, instrumentID, now, now, reason, prevSeq, newSeq)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to construct gap marker")
		return
	}
	select {
	case c.gapCh <- marker:
	default:
		c.log.Warn().Str("instrument", instrumentID).Msg("gap channel full, dropping marker")
	}
}

func (c *Client) publishBook(binding instrumentBinding, book *localBook, ts time.Time) error {
	bids, asks, err := book.snapshot(binding.DepthLevels)
	if err != nil {
		return nil // not yet synced; nothing to publish
	}
	snap, err := model.NewOrderBookSnapshot(c.exchangeName, binding.InstrumentID, ts, time.Now(), book.lastUpdateID, bids, asks)
	if err != nil {
		return fmt.Errorf("binance: invalid snapshot for %s: %w", binding.InstrumentID, err)
	}
	select {
	case c.orderBookCh <- snap:
	default:
		c.log.Warn().Str("instrument", binding.InstrumentID).Msg("order book channel full, dropping snapshot")
	}
	return nil
}

// GetOrderBookREST fetches a fresh depth snapshot, rate limited per
// cfg.Connection.RateLimit.
func (c *Client) GetOrderBookREST(ctx context.Context, instrumentID string, depth int) (model.OrderBookSnapshot, error) {
	binding, symbol, ok := c.symbolForInstrument(instrumentID)
	if !ok {
		return model.OrderBookSnapshot{}, fmt.Errorf("binance: unknown instrument %s", instrumentID)
	}
	if err := c.restLimiter.Wait(ctx); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	url := fmt.Sprintf("%s/depth?symbol=%s&limit=%d", c.restEndpoint, symbol, depth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.OrderBookSnapshot{}, fmt.Errorf("binance: rest depth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.OrderBookSnapshot{}, fmt.Errorf("binance: rest depth status %d for %s", resp.StatusCode, symbol)
	}
	var body restDepthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.OrderBookSnapshot{}, fmt.Errorf("binance: decode rest depth: %w", err)
	}
	bids, err := toPriceLevels(body.Bids)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	asks, err := toPriceLevels(body.Asks)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	now := time.Now()
	return model.NewOrderBookSnapshot(c.exchangeName, binding.InstrumentID, now, now, body.LastUpdateID, bids, asks)
}

// GetTickerREST fetches a current book ticker over REST, rate limited.
func (c *Client) GetTickerREST(ctx context.Context, instrumentID string) (venue.TickerUpdate, error) {
	binding, symbol, ok := c.symbolForInstrument(instrumentID)
	if !ok {
		return venue.TickerUpdate{}, fmt.Errorf("binance: unknown instrument %s", instrumentID)
	}
	if err := c.restLimiter.Wait(ctx); err != nil {
		return venue.TickerUpdate{}, err
	}
	url := fmt.Sprintf("%s/ticker/bookTicker?symbol=%s", c.restEndpoint, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return venue.TickerUpdate{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return venue.TickerUpdate{}, fmt.Errorf("binance: rest ticker request: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return venue.TickerUpdate{}, fmt.Errorf("binance: decode rest ticker: %w", err)
	}
	update := venue.TickerUpdate{Exchange: c.exchangeName, Instrument: binding.InstrumentID, Timestamp: time.Now()}
	if v, err := parseOptionalDecimal(body.BidPrice); err == nil {
		update.BestBid = v
	}
	if v, err := parseOptionalDecimal(body.AskPrice); err == nil {
		update.BestAsk = v
	}
	return update, nil
}

func (c *Client) symbolForInstrument(instrumentID string) (instrumentBinding, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.bindings {
		if b.InstrumentID == instrumentID {
			return b, b.Symbol, true
		}
	}
	return instrumentBinding{}, "", false
}
