package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionStatus is the explicit state of a venue WebSocket connection.
// Modeled as a typed enum rather than a bag of booleans, matching the
// runtime connection-state style used elsewhere in this codebase.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusDegraded     ConnectionStatus = "degraded"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// IsHealthy reports whether the status is fully connected.
func (s ConnectionStatus) IsHealthy() bool { return s == StatusConnected }

// IsUsable reports whether data can still be received in this status.
func (s ConnectionStatus) IsUsable() bool {
	return s == StatusConnected || s == StatusDegraded
}

// GapMarker records a period of missing data for audit and for excluding
// the period from downstream analysis.
type GapMarker struct {
	Exchange         string
	Instrument       string
	GapStart         time.Time
	GapEnd           time.Time
	DurationSeconds  decimal.Decimal
	Reason           string
	SequenceIDBefore *int64
	SequenceIDAfter  *int64
}

// NewGapMarker validates and constructs a GapMarker.
func NewGapMarker(exchange, instrument string, gapStart, gapEnd time.Time, reason string, seqBefore, seqAfter *int64) (GapMarker, error) {
	if exchange == "" || instrument == "" {
		return GapMarker{}, fmt.Errorf("model: gap marker requires exchange and instrument")
	}
	if reason == "" {
		return GapMarker{}, fmt.Errorf("model: gap marker requires a reason")
	}
	if gapEnd.Before(gapStart) {
		return GapMarker{}, fmt.Errorf("model: gap_end %s must be >= gap_start %s", gapEnd, gapStart)
	}
	duration := decimal.NewFromFloat(gapEnd.Sub(gapStart).Seconds())
	return GapMarker{
		Exchange:         exchange,
		Instrument:       instrument,
		GapStart:         gapStart,
		GapEnd:           gapEnd,
		DurationSeconds:  duration,
		Reason:           reason,
		SequenceIDBefore: seqBefore,
		SequenceIDAfter:  seqAfter,
	}, nil
}

// IsSignificant reports whether the gap exceeds 5 seconds.
func (g GapMarker) IsSignificant() bool {
	return g.DurationSeconds.GreaterThan(decimal.NewFromInt(5))
}

// SequenceGapSize returns the number of missed sequence ids, if both
// boundary ids are known.
func (g GapMarker) SequenceGapSize() (int64, bool) {
	if g.SequenceIDBefore == nil || g.SequenceIDAfter == nil {
		return 0, false
	}
	return *g.SequenceIDAfter - *g.SequenceIDBefore - 1, true
}

// HealthStatus tracks the health of one venue connection: latency, message
// volume, and recent gap history.
type HealthStatus struct {
	Exchange       string
	Status         ConnectionStatus
	LastMessageAt  *time.Time
	MessageCount   int64
	LagMs          int64
	ReconnectCount int
	GapsLastHour   int
}

// IsHealthy reports connected, lag under 1s, and fewer than 5 gaps in the last hour.
func (h HealthStatus) IsHealthy() bool {
	return h.Status.IsHealthy() && h.LagMs < 1000 && h.GapsLastHour < 5
}

// IsDegraded reports a usable but impaired connection (high lag or gap count).
func (h HealthStatus) IsDegraded() bool {
	return h.Status.IsUsable() && (h.LagMs >= 1000 || h.GapsLastHour >= 5)
}

// SecondsSinceMessage returns the time since the last received message, if any.
func (h HealthStatus) SecondsSinceMessage(now time.Time) (float64, bool) {
	if h.LastMessageAt == nil {
		return 0, false
	}
	return now.Sub(*h.LastMessageAt).Seconds(), true
}

// ZScoreWarmupStatus reports warmup progress for one rolling z-score tracker.
type ZScoreWarmupStatus struct {
	MetricName   string
	Instrument   string
	Exchange     string
	IsWarmedUp   bool
	SampleCount  int
	MinSamples   int
	ProgressPct  decimal.Decimal
	LastUpdate   time.Time
}

// SamplesRemaining returns how many more samples are needed to complete warmup.
func (z ZScoreWarmupStatus) SamplesRemaining() int {
	remaining := z.MinSamples - z.SampleCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DisplayText renders a short human-readable warmup status.
func (z ZScoreWarmupStatus) DisplayText() string {
	if z.IsWarmedUp {
		return "active"
	}
	return fmt.Sprintf("warming up (%d/%d)", z.SampleCount, z.MinSamples)
}

// SystemHealthSummary aggregates health across all venues and components.
type SystemHealthSummary struct {
	Timestamp       time.Time
	OverallStatus   ConnectionStatus
	Exchanges       map[string]HealthStatus
	ActiveAlerts    int
	MetricsLagMs    int64
	StorageLagMs    int64
}

// AllExchangesHealthy reports whether every tracked exchange is healthy.
func (s SystemHealthSummary) AllExchangesHealthy() bool {
	for _, h := range s.Exchanges {
		if !h.IsHealthy() {
			return false
		}
	}
	return true
}

// AnyExchangeDisconnected reports whether any tracked exchange is fully disconnected.
func (s SystemHealthSummary) AnyExchangeDisconnected() bool {
	for _, h := range s.Exchanges {
		if h.Status == StatusDisconnected {
			return true
		}
	}
	return false
}
