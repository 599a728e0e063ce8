package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

// SpreadCalculator computes bid-ask spread metrics from order book
// snapshots, optionally tracking a rolling z-score of spread_bps.
type SpreadCalculator struct {
	useZScore bool
	zscore    *ZScoreTracker
}

// SpreadCalculatorOption configures a SpreadCalculator.
type SpreadCalculatorOption func(*spreadCalcConfig)

type spreadCalcConfig struct {
	useZScore  bool
	window     int
	minSamples int
}

// WithSpreadZScore enables or disables z-score tracking for spread_bps.
func WithSpreadZScore(enabled bool) SpreadCalculatorOption {
	return func(c *spreadCalcConfig) { c.useZScore = enabled }
}

// WithSpreadZScoreWindow overrides the rolling window size (default 100).
func WithSpreadZScoreWindow(window int) SpreadCalculatorOption {
	return func(c *spreadCalcConfig) { c.window = window }
}

// WithSpreadZScoreMinSamples overrides the warmup threshold (default 30).
func WithSpreadZScoreMinSamples(minSamples int) SpreadCalculatorOption {
	return func(c *spreadCalcConfig) { c.minSamples = minSamples }
}

// NewSpreadCalculator constructs a SpreadCalculator with z-score tracking
// enabled by default over a 100-sample window.
func NewSpreadCalculator(opts ...SpreadCalculatorOption) (*SpreadCalculator, error) {
	cfg := spreadCalcConfig{useZScore: true, window: 100}
	for _, opt := range opts {
		opt(&cfg)
	}
	sc := &SpreadCalculator{useZScore: cfg.useZScore}
	if cfg.useZScore {
		tracker, err := NewZScoreTracker(cfg.window, cfg.minSamples, decimal.Zero)
		if err != nil {
			return nil, err
		}
		sc.zscore = tracker
	}
	return sc, nil
}

// Calculate computes SpreadMetrics for one order book snapshot.
func (c *SpreadCalculator) Calculate(snap model.OrderBookSnapshot) (model.SpreadMetrics, error) {
	if !snap.IsValid() {
		return model.SpreadMetrics{}, fmt.Errorf("metrics: invalid order book snapshot exchange=%s instrument=%s bids=%d asks=%d", snap.Exchange, snap.Instrument, len(snap.Bids), len(snap.Asks))
	}

	mid, ok := snap.MidPrice()
	if !ok || mid.Sign() <= 0 {
		return model.SpreadMetrics{}, fmt.Errorf("metrics: invalid mid price %s", mid)
	}
	spreadAbs, _ := snap.Spread()
	spreadBps := spreadAbs.Div(mid).Mul(decimal.NewFromInt(10000))

	var zscore *decimal.Decimal
	if c.useZScore && c.zscore != nil {
		zscore = c.zscore.AddSample(spreadBps, snap.Timestamp)
	}

	return model.SpreadMetrics{
		SpreadAbs: spreadAbs,
		SpreadBps: spreadBps,
		MidPrice:  mid,
		ZScore:    zscore,
	}, nil
}

// ResetZScore clears the rolling z-score window, e.g. on gap detection.
func (c *SpreadCalculator) ResetZScore(reason string) {
	if c.zscore != nil {
		c.zscore.Reset(reason)
	}
}

// ZScoreStatus returns the current z-score tracker status, or false if
// z-score tracking is disabled.
func (c *SpreadCalculator) ZScoreStatus() (ZScoreStatus, bool) {
	if c.zscore == nil {
		return ZScoreStatus{}, false
	}
	return c.zscore.Status(), true
}
