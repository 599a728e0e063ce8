// Package venue defines the capability interface every exchange adapter
// satisfies, plus the shared connection-state machine and sequence-gap
// detector all adapters build on. Venue-family-specific wire parsing lives
// in internal/venue/binance and internal/venue/okx, not here.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/config"
	"github.com/sawpanic/surveil/internal/model"
)

// TickerUpdate is a lightweight last-price/mark-price tick, distinct from a
// full OrderBookSnapshot: venues push these far more frequently than depth
// updates and consumers only need best bid/ask plus mark price.
type TickerUpdate struct {
	Exchange   string
	Instrument string
	Timestamp  time.Time
	LastPrice  decimal.Decimal
	MarkPrice  *decimal.Decimal
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
}

// Adapter is the capability interface every venue integration satisfies.
// Construction (API keys, endpoints) is venue-specific and happens in each
// concrete adapter's constructor; this interface covers only the runtime
// surface the ingest service drives.
type Adapter interface {
	// Name identifies the venue, e.g. "binance" or "okx".
	Name() string

	// Connect dials the venue's WebSocket endpoint(s) and starts internal
	// read/ping/reconnect goroutines. Idempotent: a second call while the
	// adapter is connected or degraded returns nil without dialing again.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection and blocks until internal
	// goroutines have exited. Idempotent.
	Disconnect() error

	// Subscribe requests order-book (and, where supported, ticker)
	// streams for the given instruments.
	Subscribe(ctx context.Context, instruments []config.Instrument) error

	// StreamOrderBooks returns a channel of normalized snapshots. The
	// channel is closed only when the adapter is disconnected; transient
	// reconnection never closes it.
	StreamOrderBooks() <-chan model.OrderBookSnapshot

	// StreamTickers returns a channel of ticker/mark-price updates. The
	// channel is never nil; it carries nothing when the venue's
	// subscription did not include a ticker stream.
	StreamTickers() <-chan TickerUpdate

	// GapEvents returns a channel of sequence-gap markers raised by
	// DetectGap while processing the live stream.
	GapEvents() <-chan model.GapMarker

	// GetOrderBookREST fetches a fresh snapshot over REST, used as a
	// fallback when the stream falls behind far enough to need a
	// resync, or on demand.
	GetOrderBookREST(ctx context.Context, instrument string, depth int) (model.OrderBookSnapshot, error)

	// GetTickerREST fetches a current ticker over REST.
	GetTickerREST(ctx context.Context, instrument string) (TickerUpdate, error)

	// HealthCheck reports the adapter's current connection health.
	HealthCheck() model.HealthStatus

	// DetectGap applies the sequence-gap policy to a (previous, new)
	// sequence id pair for one instrument's stream.
	DetectGap(prevSeq, newSeq int64) (reason string, isGap bool)
}

// DetectGap applies the sequence-gap policy: forward jumps of any
// size are expected (top-N partial-depth streams only emit updates that
// touch the top N levels while the venue's global sequence keeps
// advancing) and must never raise a gap. A gap is raised only when the new
// sequence id is less than the previous one (sequence_backwards, typically
// after a reconnect) or equal to it (sequence_duplicate).
func DetectGap(prevSeq, newSeq int64) (reason string, isGap bool) {
	switch {
	case newSeq < prevSeq:
		return "sequence_backwards", true
	case newSeq == prevSeq:
		return "sequence_duplicate", true
	default:
		return "", false
	}
}
