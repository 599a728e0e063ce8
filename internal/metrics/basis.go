package metrics

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

// BasisCalculator computes the perpetual-spot basis between a perpetual
// and its spot reference instrument, optionally tracking a rolling z-score
// of the absolute basis magnitude.
type BasisCalculator struct {
	useZScore          bool
	validateInstrument bool
	zscore             *ZScoreTracker
}

// BasisCalculatorOption configures a BasisCalculator.
type BasisCalculatorOption func(*basisCalcConfig)

type basisCalcConfig struct {
	useZScore          bool
	window             int
	minSamples         int
	validateInstrument bool
}

// WithBasisZScore enables or disables z-score tracking.
func WithBasisZScore(enabled bool) BasisCalculatorOption {
	return func(c *basisCalcConfig) { c.useZScore = enabled }
}

// WithBasisZScoreWindow overrides the rolling window size (default 100).
func WithBasisZScoreWindow(window int) BasisCalculatorOption {
	return func(c *basisCalcConfig) { c.window = window }
}

// WithBasisZScoreMinSamples overrides the warmup threshold (default 30).
func WithBasisZScoreMinSamples(minSamples int) BasisCalculatorOption {
	return func(c *basisCalcConfig) { c.minSamples = minSamples }
}

// WithBasisValidateInstruments toggles base/quote matching between the perp
// and spot instrument names (default true).
func WithBasisValidateInstruments(enabled bool) BasisCalculatorOption {
	return func(c *basisCalcConfig) { c.validateInstrument = enabled }
}

// NewBasisCalculator constructs a BasisCalculator.
func NewBasisCalculator(opts ...BasisCalculatorOption) (*BasisCalculator, error) {
	cfg := basisCalcConfig{useZScore: true, window: 100, validateInstrument: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	bc := &BasisCalculator{useZScore: cfg.useZScore, validateInstrument: cfg.validateInstrument}
	if cfg.useZScore {
		tracker, err := NewZScoreTracker(cfg.window, cfg.minSamples, decimal.Zero)
		if err != nil {
			return nil, err
		}
		bc.zscore = tracker
	}
	return bc, nil
}

// Calculate computes BasisMetrics between a perpetual and its spot reference.
func (c *BasisCalculator) Calculate(perp, spot model.OrderBookSnapshot) (model.BasisMetrics, error) {
	if !perp.IsValid() {
		return model.BasisMetrics{}, fmt.Errorf("metrics: invalid perpetual snapshot exchange=%s instrument=%s", perp.Exchange, perp.Instrument)
	}
	if !spot.IsValid() {
		return model.BasisMetrics{}, fmt.Errorf("metrics: invalid spot snapshot exchange=%s instrument=%s", spot.Exchange, spot.Instrument)
	}
	if c.validateInstrument {
		if err := validateBasisInstruments(perp.Instrument, spot.Instrument); err != nil {
			return model.BasisMetrics{}, err
		}
	}

	perpMid, ok := perp.MidPrice()
	if !ok {
		return model.BasisMetrics{}, fmt.Errorf("metrics: missing perp mid price")
	}
	spotMid, ok := spot.MidPrice()
	if !ok {
		return model.BasisMetrics{}, fmt.Errorf("metrics: missing spot mid price")
	}
	if spotMid.Sign() <= 0 {
		return model.BasisMetrics{}, fmt.Errorf("metrics: invalid spot mid price %s", spotMid)
	}

	basisAbs := perpMid.Sub(spotMid)
	basisBps := basisAbs.Div(spotMid).Mul(decimal.NewFromInt(10000))

	var zscore *decimal.Decimal
	if c.useZScore && c.zscore != nil {
		zscore = c.zscore.AddSample(basisBps.Abs(), perp.Timestamp)
	}

	return model.BasisMetrics{
		BasisAbs: basisAbs,
		BasisBps: basisBps,
		PerpMid:  perpMid,
		SpotMid:  spotMid,
		ZScore:   zscore,
	}, nil
}

// validateBasisInstruments checks that perp/spot instrument names share a
// base-quote pair and carry the expected PERP/SPOT suffix, e.g.
// "BTC-USDT-PERP" against "BTC-USDT-SPOT".
func validateBasisInstruments(perpInstrument, spotInstrument string) error {
	perpParts := strings.Split(perpInstrument, "-")
	spotParts := strings.Split(spotInstrument, "-")
	if len(perpParts) < 3 || len(spotParts) < 3 {
		return fmt.Errorf("metrics: invalid instrument format perp=%s spot=%s", perpInstrument, spotInstrument)
	}
	perpBaseQuote := perpParts[0] + "-" + perpParts[1]
	spotBaseQuote := spotParts[0] + "-" + spotParts[1]
	if perpBaseQuote != spotBaseQuote {
		return fmt.Errorf("metrics: instrument mismatch perp=%s spot=%s", perpBaseQuote, spotBaseQuote)
	}
	if !strings.HasSuffix(perpInstrument, "PERP") {
		return fmt.Errorf("metrics: expected PERP instrument, got %s", perpInstrument)
	}
	if !strings.HasSuffix(spotInstrument, "SPOT") {
		return fmt.Errorf("metrics: expected SPOT instrument, got %s", spotInstrument)
	}
	return nil
}

// ResetZScore clears the rolling z-score window, e.g. on gap detection.
func (c *BasisCalculator) ResetZScore(reason string) {
	if c.zscore != nil {
		c.zscore.Reset(reason)
	}
}

// ZScoreStatus returns the current z-score tracker status, or false if
// z-score tracking is disabled.
func (c *BasisCalculator) ZScoreStatus() (ZScoreStatus, bool) {
	if c.zscore == nil {
		return ZScoreStatus{}, false
	}
	return c.zscore.Status(), true
}
