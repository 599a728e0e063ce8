package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
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
	gapWindow            = time.Hour
	degradedLagMs        = 1000
	degradedGapCount     = 5
)

// instrumentBinding ties a configured instrument to its OKX instId.
type instrumentBinding struct {
	InstrumentID string
	InstID       string
	DepthLevels  int
}

// Client is the OKX venue.Adapter: a single combined public WebSocket
// connection carrying every subscribed instrument's books/tickers channels.
type Client struct {
	exchangeName string
	wsEndpoint   string
	restEndpoint string
	conn         config.ConnectionConfig

	httpClient  *http.Client
	restLimiter *rate.Limiter

	mu       sync.RWMutex
	state    *venue.StateMachine
	byInstID map[string]instrumentBinding
	books    map[string]*localBook

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

func New(exchangeName string, cfg config.ExchangeConfig, log zerolog.Logger) (*Client, error) {
	if len(cfg.WebsocketEndpoints) == 0 {
		return nil, fmt.Errorf("okx: no websocket endpoints configured for %s", exchangeName)
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
		byInstID:     make(map[string]instrumentBinding),
		books:        make(map[string]*localBook),
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
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsEndpoint, nil)
	if err != nil {
		_ = c.state.Transition(model.StatusDisconnected)
		return fmt.Errorf("okx: connect %s: %w", c.exchangeName, err)
	}
	c.mu.Lock()
	c.wsConn = conn
	c.stopC = make(chan struct{})
	c.mu.Unlock()

	if err := c.state.Transition(model.StatusConnected); err != nil {
		return err
	}
	if err := c.sendSubscribe(); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.pingLoop(ctx)
	c.log.Info().Str("url", c.wsEndpoint).Msg("connected")
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
		c.byInstID[vs.Symbol] = instrumentBinding{InstrumentID: inst.ID, InstID: vs.Symbol, DepthLevels: depth}
		c.books[inst.ID] = newLocalBook()
	}
	return nil
}

func (c *Client) sendSubscribe() error {
	c.mu.RLock()
	args := make([]arg, 0, len(c.byInstID)*2)
	for _, b := range c.byInstID {
		args = append(args, arg{Channel: "books", InstID: b.InstID})
		args = append(args, arg{Channel: "tickers", InstID: b.InstID})
	}
	conn := c.wsConn
	c.mu.RUnlock()
	if conn == nil || len(args) == 0 {
		return nil
	}
	req := subscribeRequest{Op: "subscribe", Args: args}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("okx: marshal subscribe: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) StreamOrderBooks() <-chan model.OrderBookSnapshot { return c.orderBookCh }
func (c *Client) StreamTickers() <-chan venue.TickerUpdate         { return c.tickerCh }
func (c *Client) GapEvents() <-chan model.GapMarker                { return c.gapCh }

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

func (c *Client) bindingForInstID(instID string) (instrumentBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byInstID[instID]
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
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.mu.RLock()
		stopC := c.stopC
		conn := c.wsConn
		c.mu.RUnlock()
		select {
		case <-ctx.Done():
			return
		case <-stopC:
			return
		case <-ticker.C:
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
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
// to 10% jitter.
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
	if string(data) == "pong" {
		return nil
	}
	var probe struct {
		Event string `json:"event"`
		Arg   arg    `json:"arg"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("okx: unmarshal message: %w", err)
	}
	if probe.Event != "" {
		// subscribe/unsubscribe/error acks carry no book data.
		return nil
	}
	switch probe.Arg.Channel {
	case "books":
		return c.handleBooksPush(ctx, data)
	case "tickers":
		return c.handleTickersPush(data)
	default:
		return nil
	}
}

func (c *Client) emitGap(instrumentID, reason string, prevSeq, newSeq int64) {
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
	marker, err := model.NewGapMarker(c.exchangeName, instrumentID, now, now, reason, &prevSeq, &newSeq)
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
