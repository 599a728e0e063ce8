package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/surveil/internal/config"
	"github.com/sawpanic/surveil/internal/model"
	"github.com/sawpanic/surveil/internal/venue"
)

const (
	defaultChannelBuffer = 256
	pingInterval         = 30 * time.Second
	gapWindow            = time.Hour
	degradedLagMs        = 1000
	degradedGapCount     = 5
)

// instrumentBinding ties one configured instrument to its Binance wire
// symbol and depth-stream name for either the futures or spot market.
type instrumentBinding struct {
	InstrumentID string
	Symbol       string
	Stream       string
	TickerStream string
	DepthLevels  int
}

// Client is the Binance venue.Adapter: one WebSocket connection per market
// (futures diff-depth, spot partial-depth), each multiplexing every
// subscribed instrument via Binance's combined-stream path.
type Client struct {
	exchangeName string
	wsEndpoint   string
	restEndpoint string
	conn         config.ConnectionConfig

	httpClient  *http.Client
	restLimiter *rate.Limiter

	mu          sync.RWMutex
	state       *venue.StateMachine
	bindings    map[string]instrumentBinding // keyed by wire symbol
	books       map[string]*localBook        // keyed by instrument id
	isFutures   bool

	wsConn *websocket.Conn
	stopC  chan struct{}
	wg     sync.WaitGroup

	orderBookCh chan model.OrderBookSnapshot
	tickerCh    chan venue.TickerUpdate
	gapCh       chan model.GapMarker

	lastMessageAt  *time.Time
	reconnectCount int
	gapTimestamps  []time.Time

	log zerolog.Logger
}

// New constructs a Client for one Binance market. isFutures selects the
// diff-depth resync algorithm; otherwise the spot partial-depth path
// (full top-N resend, no resync needed) is used.
func New(exchangeName string, cfg config.ExchangeConfig, isFutures bool, log zerolog.Logger) (*Client, error) {
	if len(cfg.WebsocketEndpoints) == 0 {
		return nil, fmt.Errorf("binance: no websocket endpoints configured for %s", exchangeName)
	}
	var restEndpoint string
	if len(cfg.RestEndpoints) > 0 {
		restEndpoint = cfg.RestEndpoints[0]
	}
	limit := rate.Limit(cfg.Connection.RateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		exchangeName: exchangeName,
		wsEndpoint:   cfg.WebsocketEndpoints[0],
		restEndpoint: restEndpoint,
		conn:         cfg.Connection,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		restLimiter:  rate.NewLimiter(limit, 1),
		state:        venue.NewStateMachine(),
		bindings:     make(map[string]instrumentBinding),
		books:        make(map[string]*localBook),
		isFutures:    isFutures,
		orderBookCh:  make(chan model.OrderBookSnapshot, defaultChannelBuffer),
		tickerCh:     make(chan venue.TickerUpdate, defaultChannelBuffer),
		gapCh:        make(chan model.GapMarker, defaultChannelBuffer),
		log:          log.With().Str("venue", exchangeName).Logger(),
	}, nil
}

func (c *Client) Name() string { return c.exchangeName }

func (c *Client) Connect(ctx context.Context) error {
	if s := c.state.Current(); s == model.StatusConnected || s == model.StatusDegraded {
		return nil
	}
	if err := c.state.Transition(model.StatusReconnecting); err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		_ = c.state.Transition(model.StatusDisconnected)
		return fmt.Errorf("binance: connect %s: %w", c.exchangeName, err)
	}
	c.mu.Lock()
	c.wsConn = conn
	c.stopC = make(chan struct{})
	c.mu.Unlock()

	if err := c.state.Transition(model.StatusConnected); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.pingLoop(ctx)
	c.log.Info().Str("url", c.streamURL()).Msg("connected")
	return nil
}

func (c *Client) Current() model.ConnectionStatus { return c.state.Current() }

func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.wsConn
	stopC := c.stopC
	c.wsConn = nil
	c.mu.Unlock()

	if stopC != nil {
		select {
		case <-stopC:
		default:
			close(stopC)
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return c.state.Transition(model.StatusDisconnected)
}

// streamURL builds the combined-stream URL from every bound wire symbol's
// depth stream name, e.g. wss://fstream.binance.com/stream?streams=btcusdt@depth@100ms/ethusdt@depth@100ms.
func (c *Client) streamURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	streams := make([]string, 0, len(c.bindings)*2)
	for _, b := range c.bindings {
		streams = append(streams, b.Stream)
		if b.TickerStream != "" {
			streams = append(streams, b.TickerStream)
		}
	}
	return fmt.Sprintf("%s/stream?streams=%s", strings.TrimRight(c.wsEndpoint, "/"), strings.Join(streams, "/"))
}

// Subscribe records instrument bindings; the actual subscription happens
// implicitly via the combined-stream URL built on the next Connect, since
// Binance's combined-stream endpoint takes streams as part of the URL
// rather than a post-connect subscribe frame.
func (c *Client) Subscribe(ctx context.Context, instruments []config.Instrument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inst := range instruments {
		vs, ok := inst.VenueSymbols[c.exchangeName]
		if !ok {
			continue
		}
		depth := inst.DepthLevels
		if depth <= 0 {
			depth = 20
		}
		c.bindings[strings.ToLower(vs.Symbol)] = instrumentBinding{
			InstrumentID: inst.ID,
			Symbol:       vs.Symbol,
			Stream:       vs.Stream,
			TickerStream: vs.TickerStream,
			DepthLevels:  depth,
		}
		c.books[inst.ID] = newLocalBook()
	}
	return nil
}

func (c *Client) StreamOrderBooks() <-chan model.OrderBookSnapshot { return c.orderBookCh }
func (c *Client) StreamTickers() <-chan venue.TickerUpdate         { return c.tickerCh }
func (c *Client) GapEvents() <-chan model.GapMarker                { return c.gapCh }

func (c *Client) bindingForSymbol(symbol string) (instrumentBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[strings.ToLower(symbol)]
	return b, ok
}

func (c *Client) bookFor(instrumentID string) *localBook {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[instrumentID]
	if !ok {
		b = newLocalBook()
		c.books[instrumentID] = b
	}
	return b
}

func (c *Client) DetectGap(prevSeq, newSeq int64) (string, bool) {
	return venue.DetectGap(prevSeq, newSeq)
}

func (c *Client) HealthCheck() model.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	var lagMs int64
	if c.lastMessageAt != nil {
		lagMs = time.Since(*c.lastMessageAt).Milliseconds()
	}
	return model.HealthStatus{
		Exchange:       c.exchangeName,
		Status:         c.state.Current(),
		LastMessageAt:  c.lastMessageAt,
		LagMs:          lagMs,
		ReconnectCount: c.reconnectCount,
		GapsLastHour:   c.pruneGapsLocked(),
	}
}

// pruneGapsLocked drops gap timestamps older than the 1-hour window and
// returns the remaining count. Caller must hold c.mu.
func (c *Client) pruneGapsLocked() int {
	if len(c.gapTimestamps) == 0 {
		return 0
	}
	cutoff := time.Now().Add(-gapWindow)
	kept := c.gapTimestamps[:0]
	for _, ts := range c.gapTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.gapTimestamps = kept
	return len(c.gapTimestamps)
}

// evaluateDegraded transitions connected<->degraded based on repeated gaps
// or message lag exceeding 1s, matching model.HealthStatus.IsDegraded's
// thresholds.
func (c *Client) evaluateDegraded(lagMs int64, gaps int) {
	impaired := lagMs >= degradedLagMs || gaps >= degradedGapCount
	switch c.state.Current() {
	case model.StatusConnected:
		if impaired {
			_ = c.state.Transition(model.StatusDegraded)
		}
	case model.StatusDegraded:
		if !impaired {
			_ = c.state.Transition(model.StatusConnected)
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		c.mu.RLock()
		conn := c.wsConn
		stopC := c.stopC
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-stopC:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn().Err(err).Msg("read error, triggering reconnect")
			_ = c.state.Transition(model.StatusReconnecting)
			go c.reconnect(ctx)
			return
		}
		now := time.Now()
		c.mu.Lock()
		c.lastMessageAt = &now
		c.mu.Unlock()
		if err := c.handleMessage(ctx, data); err != nil {
			c.log.Error().Err(err).Msg("failed to process message")
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	interval := c.conn.PingInterval
	if interval <= 0 {
		interval = pingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.mu.RLock()
		stopC := c.stopC
		c.mu.RUnlock()
		select {
		case <-ctx.Done():
			return
		case <-stopC:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.wsConn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				c.log.Warn().Err(err).Msg("ping failed")
				return
			}
			c.mu.Lock()
			var lagMs int64
			if c.lastMessageAt != nil {
				lagMs = time.Since(*c.lastMessageAt).Milliseconds()
			}
			gaps := c.pruneGapsLocked()
			c.evaluateDegraded(lagMs, gaps)
			c.mu.Unlock()
		}
	}
}

// reconnect retries Connect with exponential backoff capped at 60s plus up
// to 10% jitter, mirroring the teacher's reconnect-channel pattern but driven
// by an internal retry loop rather than a caller-observed channel.
func (c *Client) reconnect(ctx context.Context) {
	base := c.conn.ReconnectDelay
	if base <= 0 {
		base = time.Second
	}
	maxAttempts := c.conn.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delay := reconnectBackoff(base, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := c.Connect(ctx); err == nil {
			c.mu.Lock()
			c.reconnectCount++
			c.mu.Unlock()
			return
		}
		c.log.Warn().Int("attempt", attempt).Msg("reconnect attempt failed")
	}
	_ = c.state.Transition(model.StatusDisconnected)
	c.log.Error().Msg("exhausted reconnect attempts")
}

const maxReconnectDelay = 60 * time.Second

// reconnectBackoff computes delay = min(base*2^attempt, 60s) plus uniform
// jitter in [0, 10%] of that capped delay.
func reconnectBackoff(base time.Duration, attempt int) time.Duration {
	var capped time.Duration
	if attempt > 20 {
		capped = maxReconnectDelay
	} else {
		capped = base * time.Duration(1<<uint(attempt))
		if capped <= 0 || capped > maxReconnectDelay {
			capped = maxReconnectDelay
		}
	}
	jitter := time.Duration(rand.Int63n(int64(capped)/10 + 1))
	return capped + jitter
}

func (c *Client) handleMessage(ctx context.Context, data []byte) error {
	var raw struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("binance: unmarshal envelope: %w", err)
	}
	if raw.Stream == "" {
		return nil
	}
	parts := strings.SplitN(raw.Stream, "@", 2)
	symbol := parts[0]
	binding, ok := c.bindingForSymbol(symbol)
	if !ok {
		return nil
	}

	switch {
	case strings.Contains(raw.Stream, "@depth"):
		if c.isFutures {
			return c.handleFuturesDepth(ctx, binding, raw.Data)
		}
		return c.handleSpotDepth(ctx, binding, raw.Data)
	case strings.Contains(raw.Stream, "@ticker") || strings.Contains(raw.Stream, "@markPrice"):
		return c.handleTicker(binding, raw.Data)
	default:
		return nil
	}
}

func (c *Client) handleTicker(binding instrumentBinding, data json.RawMessage) error {
	var ev tickerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("binance: unmarshal ticker: %w", err)
	}
	update := venue.TickerUpdate{
		Exchange:   c.exchangeName,
		Instrument: binding.InstrumentID,
		Timestamp:  time.UnixMilli(ev.EventTime),
	}
	if v, err := parseOptionalDecimal(ev.LastPrice); err == nil {
		update.LastPrice = v
	}
	if ev.MarkPrice != "" {
		if v, err := parseOptionalDecimal(ev.MarkPrice); err == nil {
			update.MarkPrice = &v
		}
	}
	if v, err := parseOptionalDecimal(ev.BestBid); err == nil {
		update.BestBid = v
	}
	if v, err := parseOptionalDecimal(ev.BestAsk); err == nil {
		update.BestAsk = v
	}
	select {
	case c.tickerCh <- update:
	default:
		c.log.Warn().Str("instrument", binding.InstrumentID).Msg("ticker channel full, dropping update")
	}
	return nil
}
