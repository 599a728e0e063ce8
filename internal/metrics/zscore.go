// Package metrics computes market-quality metrics (spread, depth, basis,
// imbalance) from order book snapshots, with rolling z-score tracking for
// statistical anomaly detection.
package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMinSamples is the minimum number of samples collected before a
// z-score is produced; below this the tracker is in warmup.
const DefaultMinSamples = 30

// DefaultMinStd is the minimum standard deviation required to produce a
// z-score; below this the market is considered flat and the tracker holds.
var DefaultMinStd = decimal.RequireFromString("0.0001")

// ZScoreStatus reports the current state of a ZScoreTracker.
type ZScoreStatus struct {
	SamplesCollected int
	SamplesRequired  int
	IsReady          bool
	CurrentMean      *decimal.Decimal
	CurrentStd       *decimal.Decimal
}

// ZScoreTracker is a rolling-window z-score calculator with warmup and
// flat-market guards. It is not safe for concurrent use; callers serialize
// access per instrument/metric.
type ZScoreTracker struct {
	windowSize int
	minSamples int
	minStd     decimal.Decimal

	buffer []decimal.Decimal
}

// NewZScoreTracker constructs a tracker. minSamples <= 0 defaults to
// DefaultMinSamples; a zero minStd defaults to DefaultMinStd.
func NewZScoreTracker(windowSize, minSamples int, minStd decimal.Decimal) (*ZScoreTracker, error) {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if minStd.IsZero() {
		minStd = DefaultMinStd
	}
	if windowSize < minSamples {
		return nil, fmt.Errorf("metrics: window_size (%d) must be >= min_samples (%d)", windowSize, minSamples)
	}
	return &ZScoreTracker{
		windowSize: windowSize,
		minSamples: minSamples,
		minStd:     minStd,
		buffer:     make([]decimal.Decimal, 0, windowSize),
	}, nil
}

// AddSample appends value to the rolling window and returns its z-score, or
// nil if the tracker is still in warmup or the window is currently flat.
func (z *ZScoreTracker) AddSample(value decimal.Decimal, _ time.Time) *decimal.Decimal {
	z.buffer = append(z.buffer, value)
	if len(z.buffer) > z.windowSize {
		z.buffer = z.buffer[len(z.buffer)-z.windowSize:]
	}

	if len(z.buffer) < z.minSamples {
		return nil
	}

	mean := z.mean()
	std := z.std(mean)
	if std.LessThan(z.minStd) {
		return nil
	}

	score := value.Sub(mean).Div(std)
	return &score
}

// Reset clears the rolling buffer. Callers should invoke this on gap
// detection or regime changes so stale data doesn't skew future z-scores.
// reason is accepted for call-site documentation only.
func (z *ZScoreTracker) Reset(reason string) {
	_ = reason
	z.buffer = z.buffer[:0]
}

// Status reports the tracker's warmup progress. IsReady is true once
// minSamples samples are buffered, even while a flat window (std below
// minStd) keeps AddSample returning nil.
func (z *ZScoreTracker) Status() ZScoreStatus {
	status := ZScoreStatus{
		SamplesCollected: len(z.buffer),
		SamplesRequired:  z.minSamples,
	}
	if len(z.buffer) >= z.minSamples {
		mean := z.mean()
		std := z.std(mean)
		status.IsReady = true
		status.CurrentMean = &mean
		status.CurrentStd = &std
	}
	return status
}

func (z *ZScoreTracker) mean() decimal.Decimal {
	total := decimal.Zero
	for _, v := range z.buffer {
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(len(z.buffer))))
}

// std computes the sample standard deviation (n-1 denominator).
func (z *ZScoreTracker) std(mean decimal.Decimal) decimal.Decimal {
	n := len(z.buffer)
	if n <= 1 {
		return decimal.Zero
	}
	varianceSum := decimal.Zero
	for _, v := range z.buffer {
		d := v.Sub(mean)
		varianceSum = varianceSum.Add(d.Mul(d))
	}
	variance := varianceSum.Div(decimal.NewFromInt(int64(n - 1)))
	f, _ := variance.Float64()
	return decimal.NewFromFloat(math.Sqrt(f))
}
