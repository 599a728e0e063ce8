package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZScoreTracker_WarmupGuard(t *testing.T) {
	tracker, err := NewZScoreTracker(300, 30, decimal.Zero)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 29; i++ {
		z := tracker.AddSample(decimal.NewFromFloat(1.0+float64(i)*0.01), now)
		assert.Nil(t, z, "sample %d should still be in warmup", i)
	}

	status := tracker.Status()
	assert.False(t, status.IsReady)
	assert.Equal(t, 29, status.SamplesCollected)
}

func TestZScoreTracker_ReadyAfterMinSamples(t *testing.T) {
	tracker, err := NewZScoreTracker(300, 30, decimal.Zero)
	require.NoError(t, err)

	now := time.Now()
	// Feed 34 samples spread enough to clear MIN_STD, then check the 35th.
	var lastZ *decimal.Decimal
	for i := 0; i < 35; i++ {
		v := decimal.NewFromFloat(float64(i%10) * 0.5)
		lastZ = tracker.AddSample(v, now)
	}
	require.NotNil(t, lastZ)

	status := tracker.Status()
	assert.True(t, status.IsReady)
	assert.Equal(t, 35, status.SamplesCollected)
}

func TestZScoreTracker_FlatMarketGuard(t *testing.T) {
	tracker, err := NewZScoreTracker(300, 30, decimal.RequireFromString("0.0001"))
	require.NoError(t, err)

	now := time.Now()
	var z *decimal.Decimal
	for i := 0; i < 40; i++ {
		// Identical values => std == 0, must never emit a z-score.
		z = tracker.AddSample(decimal.NewFromInt(100), now)
	}
	assert.Nil(t, z)
}

func TestZScoreTracker_ResetReentersWarmup(t *testing.T) {
	tracker, err := NewZScoreTracker(300, 30, decimal.Zero)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 35; i++ {
		tracker.AddSample(decimal.NewFromFloat(float64(i%10)*0.5+1), now)
	}
	require.True(t, tracker.Status().IsReady)

	tracker.Reset("gap_detected")
	assert.False(t, tracker.Status().IsReady)
	assert.Equal(t, 0, tracker.Status().SamplesCollected)

	// Invariant: the next MIN_SAMPLES-1 calls must return absent.
	for i := 0; i < 29; i++ {
		z := tracker.AddSample(decimal.NewFromFloat(float64(i%10)*0.5+1), now)
		assert.Nil(t, z)
	}
}

func TestZScoreTracker_WindowMustBeAtLeastMinSamples(t *testing.T) {
	_, err := NewZScoreTracker(10, 30, decimal.Zero)
	assert.Error(t, err)
}

func TestZScoreTracker_WindowTrimsOldestSamples(t *testing.T) {
	tracker, err := NewZScoreTracker(5, 3, decimal.Zero)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 10; i++ {
		tracker.AddSample(decimal.NewFromInt(int64(i)), now)
	}
	assert.Equal(t, 5, tracker.Status().SamplesCollected)
}
