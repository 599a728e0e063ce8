package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

// Aggregator combines the spread, depth, basis, and imbalance calculators
// into a single per-instrument facade, matching the unified metrics package
// published on `updates:metrics`.
type Aggregator struct {
	spread *SpreadCalculator
	depth  *DepthCalculator
	basis  *BasisCalculator
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*aggregatorConfig)

type aggregatorConfig struct {
	useZScore         bool
	zscoreWindow      int
	zscoreMinSamples  int
	bpsLevels         []int
	depthReference    int
	validateBasisPair bool
}

// WithAggregatorZScore enables or disables z-score tracking on spread and basis.
func WithAggregatorZScore(enabled bool) AggregatorOption {
	return func(c *aggregatorConfig) { c.useZScore = enabled }
}

// WithAggregatorZScoreWindow overrides the rolling window size for both trackers.
func WithAggregatorZScoreWindow(window int) AggregatorOption {
	return func(c *aggregatorConfig) { c.zscoreWindow = window }
}

// WithAggregatorZScoreMinSamples overrides the warmup threshold for both trackers.
func WithAggregatorZScoreMinSamples(minSamples int) AggregatorOption {
	return func(c *aggregatorConfig) { c.zscoreMinSamples = minSamples }
}

// WithAggregatorDepthLevels overrides the bps depth levels and imbalance reference level.
func WithAggregatorDepthLevels(levels []int, reference int) AggregatorOption {
	return func(c *aggregatorConfig) {
		c.bpsLevels = levels
		c.depthReference = reference
	}
}

// NewAggregator constructs an Aggregator with all calculators wired together.
func NewAggregator(opts ...AggregatorOption) (*Aggregator, error) {
	cfg := aggregatorConfig{useZScore: true, zscoreWindow: 100, depthReference: 10, validateBasisPair: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	spread, err := NewSpreadCalculator(
		WithSpreadZScore(cfg.useZScore),
		WithSpreadZScoreWindow(cfg.zscoreWindow),
		WithSpreadZScoreMinSamples(cfg.zscoreMinSamples),
	)
	if err != nil {
		return nil, err
	}
	depth, err := NewDepthCalculator(cfg.bpsLevels, cfg.depthReference)
	if err != nil {
		return nil, err
	}
	basis, err := NewBasisCalculator(
		WithBasisZScore(cfg.useZScore),
		WithBasisZScoreWindow(cfg.zscoreWindow),
		WithBasisZScoreMinSamples(cfg.zscoreMinSamples),
		WithBasisValidateInstruments(cfg.validateBasisPair),
	)
	if err != nil {
		return nil, err
	}

	return &Aggregator{spread: spread, depth: depth, basis: basis}, nil
}

// CalculateAll computes the full AggregatedMetrics package for primary.
// spot is optional; when provided, basis metrics are computed against it.
func (a *Aggregator) CalculateAll(primary model.OrderBookSnapshot, spot *model.OrderBookSnapshot) (model.AggregatedMetrics, error) {
	if !primary.IsValid() {
		return model.AggregatedMetrics{}, fmt.Errorf("metrics: invalid primary snapshot exchange=%s instrument=%s", primary.Exchange, primary.Instrument)
	}

	spreadMetrics, err := a.spread.Calculate(primary)
	if err != nil {
		return model.AggregatedMetrics{}, err
	}
	depthMetrics, err := a.depth.Calculate(primary)
	if err != nil {
		return model.AggregatedMetrics{}, err
	}
	imbalance := a.calculateImbalance(primary)

	var basisMetrics *model.BasisMetrics
	if spot != nil {
		bm, err := a.basis.Calculate(primary, *spot)
		if err != nil {
			return model.AggregatedMetrics{}, err
		}
		basisMetrics = &bm
	}

	return model.AggregatedMetrics{
		Exchange:   primary.Exchange,
		Instrument: primary.Instrument,
		Timestamp:  primary.Timestamp,
		Spread:     spreadMetrics,
		Depth:      depthMetrics,
		Basis:      basisMetrics,
		Imbalance:  imbalance,
	}, nil
}

func (a *Aggregator) calculateImbalance(snap model.OrderBookSnapshot) model.ImbalanceMetrics {
	topOfBook := imbalanceRatio(snap.BestBidQuantity(), snap.BestAskQuantity())
	weighted5 := weightedImbalance(snap, 5)
	weighted10 := weightedImbalance(snap, 10)
	return model.ImbalanceMetrics{
		TopOfBookImbalance:  topOfBook,
		WeightedImbalance5:  weighted5,
		WeightedImbalance10: weighted10,
	}
}

func weightedImbalance(snap model.OrderBookSnapshot, levels int) decimal.Decimal {
	bidNotional := decimal.Zero
	for i, lvl := range snap.Bids {
		if i >= levels {
			break
		}
		bidNotional = bidNotional.Add(lvl.Notional())
	}
	askNotional := decimal.Zero
	for i, lvl := range snap.Asks {
		if i >= levels {
			break
		}
		askNotional = askNotional.Add(lvl.Notional())
	}
	return imbalanceRatio(bidNotional, askNotional)
}

// ResetAllZScores clears both the spread and basis rolling z-score windows,
// e.g. on gap detection or a regime change.
func (a *Aggregator) ResetAllZScores(reason string) {
	a.spread.ResetZScore(reason)
	a.basis.ResetZScore(reason)
}

// ZScoreStatuses reports the spread and basis z-score tracker statuses.
func (a *Aggregator) ZScoreStatuses() map[string]ZScoreStatus {
	out := make(map[string]ZScoreStatus, 2)
	if s, ok := a.spread.ZScoreStatus(); ok {
		out["spread"] = s
	}
	if s, ok := a.basis.ZScoreStatus(); ok {
		out["basis"] = s
	}
	return out
}
