package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
	"github.com/sawpanic/surveil/internal/venue"
)

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

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// handleBooksPush applies an OKX "books" channel push: a full snapshot
// (action "snapshot") replaces the local book outright; an incremental
// update applies a diff, checking prevSeqId against our tracked seqId the
// same way Binance's pu field is checked against lastUpdateID.
func (c *Client) handleBooksPush(ctx context.Context, data []byte) error {
	var push booksPush
	if err := json.Unmarshal(data, &push); err != nil {
		return fmt.Errorf("okx: unmarshal books push: %w", err)
	}
	binding, ok := c.bindingForInstID(push.Arg.InstID)
	if !ok || len(push.Data) == 0 {
		return nil
	}
	book := c.bookFor(binding.InstrumentID)
	entry := push.Data[0]

	bids, err := toPriceLevels(entry.Bids)
	if err != nil {
		return err
	}
	asks, err := toPriceLevels(entry.Asks)
	if err != nil {
		return err
	}

	switch push.Action {
	case "snapshot", "":
		book.bids.replaceAll(bids)
		book.asks.replaceAll(asks)
		book.seqID = entry.SeqID
		book.synced = true
	case "update":
		if !book.synced {
			return c.resyncBooks(ctx, binding, book)
		}
		if entry.PrevSeqID != book.seqID {
			reason, isGap := c.DetectGap(book.seqID, entry.PrevSeqID)
			if isGap {
				c.emitGap(binding.InstrumentID, reason, book.seqID, entry.PrevSeqID)
			}
			return c.resyncBooks(ctx, binding, book)
		}
		book.bids.applyDiff(bids)
		book.asks.applyDiff(asks)
		book.seqID = entry.SeqID
	}

	return c.publishBook(binding, book, parseMillis(entry.Timestamp))
}

// resyncBooks refetches a full snapshot over REST after a sequence
// mismatch or before the first update for an instrument arrives.
func (c *Client) resyncBooks(ctx context.Context, binding instrumentBinding, book *localBook) error {
	snap, err := c.GetOrderBookREST(ctx, binding.InstrumentID, binding.DepthLevels)
	if err != nil {
		return fmt.Errorf("okx: resync snapshot for %s: %w", binding.InstrumentID, err)
	}
	book.bids.replaceAll(snap.Bids)
	book.asks.replaceAll(snap.Asks)
	book.seqID = snap.SequenceID
	book.synced = true
	return c.publishBook(binding, book, snap.Timestamp)
}

func (c *Client) publishBook(binding instrumentBinding, book *localBook, ts time.Time) error {
	bids, asks, ok := book.snapshot(binding.DepthLevels)
	if !ok {
		return nil
	}
	snap, err := model.NewOrderBookSnapshot(c.exchangeName, binding.InstrumentID, ts, time.Now(), book.seqID, bids, asks)
	if err != nil {
		return fmt.Errorf("okx: invalid snapshot for %s: %w", binding.InstrumentID, err)
	}
	select {
	case c.orderBookCh <- snap:
	default:
		c.log.Warn().Str("instrument", binding.InstrumentID).Msg("order book channel full, dropping snapshot")
	}
	return nil
}

func (c *Client) handleTickersPush(data []byte) error {
	var push tickersPush
	if err := json.Unmarshal(data, &push); err != nil {
		return fmt.Errorf("okx: unmarshal tickers push: %w", err)
	}
	for _, entry := range push.Data {
		binding, ok := c.bindingForInstID(entry.InstID)
		if !ok {
			continue
		}
		update := venue.TickerUpdate{Exchange: c.exchangeName, Instrument: binding.InstrumentID, Timestamp: parseMillis(entry.Timestamp)}
		if v, err := decimal.NewFromString(entry.Last); err == nil {
			update.LastPrice = v
		}
		if v, err := decimal.NewFromString(entry.BidPx); err == nil {
			update.BestBid = v
		}
		if v, err := decimal.NewFromString(entry.AskPx); err == nil {
			update.BestAsk = v
		}
		select {
		case c.tickerCh <- update:
		default:
			c.log.Warn().Str("instrument", binding.InstrumentID).Msg("ticker channel full, dropping update")
		}
	}
	return nil
}

// GetOrderBookREST fetches a fresh order book snapshot over REST, rate
// limited per cfg.Connection.RateLimit.
func (c *Client) GetOrderBookREST(ctx context.Context, instrumentID string, depth int) (model.OrderBookSnapshot, error) {
	binding, ok := c.bindingForInstrument(instrumentID)
	if !ok {
		return model.OrderBookSnapshot{}, fmt.Errorf("okx: unknown instrument %s", instrumentID)
	}
	if err := c.restLimiter.Wait(ctx); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	url := fmt.Sprintf("%s/api/v5/market/books?instId=%s&sz=%d", c.restEndpoint, binding.InstID, depth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.OrderBookSnapshot{}, fmt.Errorf("okx: rest books request: %w", err)
	}
	defer resp.Body.Close()
	var body restBooksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.OrderBookSnapshot{}, fmt.Errorf("okx: decode rest books: %w", err)
	}
	if body.Code != "0" || len(body.Data) == 0 {
		return model.OrderBookSnapshot{}, fmt.Errorf("okx: rest books error code=%s", body.Code)
	}
	entry := body.Data[0]
	bids, err := toPriceLevels(entry.Bids)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	asks, err := toPriceLevels(entry.Asks)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	ts := parseMillis(entry.Timestamp)
	return model.NewOrderBookSnapshot(c.exchangeName, binding.InstrumentID, ts, time.Now(), 0, bids, asks)
}

// GetTickerREST fetches a current ticker over REST, rate limited.
func (c *Client) GetTickerREST(ctx context.Context, instrumentID string) (venue.TickerUpdate, error) {
	binding, ok := c.bindingForInstrument(instrumentID)
	if !ok {
		return venue.TickerUpdate{}, fmt.Errorf("okx: unknown instrument %s", instrumentID)
	}
	if err := c.restLimiter.Wait(ctx); err != nil {
		return venue.TickerUpdate{}, err
	}
	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", c.restEndpoint, binding.InstID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return venue.TickerUpdate{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return venue.TickerUpdate{}, fmt.Errorf("okx: rest ticker request: %w", err)
	}
	defer resp.Body.Close()
	var body restTickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return venue.TickerUpdate{}, fmt.Errorf("okx: decode rest ticker: %w", err)
	}
	if body.Code != "0" || len(body.Data) == 0 {
		return venue.TickerUpdate{}, fmt.Errorf("okx: rest ticker error code=%s", body.Code)
	}
	entry := body.Data[0]
	update := venue.TickerUpdate{Exchange: c.exchangeName, Instrument: binding.InstrumentID, Timestamp: time.Now()}
	if v, err := decimal.NewFromString(entry.Last); err == nil {
		update.LastPrice = v
	}
	if v, err := decimal.NewFromString(entry.BidPx); err == nil {
		update.BestBid = v
	}
	if v, err := decimal.NewFromString(entry.AskPx); err == nil {
		update.BestAsk = v
	}
	return update, nil
}

func (c *Client) bindingForInstrument(instrumentID string) (instrumentBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.byInstID {
		if b.InstrumentID == instrumentID {
			return b, true
		}
	}
	return instrumentBinding{}, false
}
