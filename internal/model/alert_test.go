package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertCondition_Evaluate(t *testing.T) {
	ten := decimal.NewFromInt(10)
	cases := []struct {
		cond  AlertCondition
		value decimal.Decimal
		want  bool
	}{
		{ConditionGT, decimal.NewFromInt(11), true},
		{ConditionGT, decimal.NewFromInt(9), false},
		{ConditionLT, decimal.NewFromInt(9), true},
		{ConditionLT, decimal.NewFromInt(11), false},
		{ConditionAbsGT, decimal.NewFromInt(-11), true},
		{ConditionAbsGT, decimal.NewFromInt(-9), false},
		{ConditionAbsLT, decimal.NewFromInt(-9), true},
		{ConditionAbsLT, decimal.NewFromInt(-11), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.cond.Evaluate(c.value, ten), "%s %s vs %s", c.cond, c.value, ten)
	}
}

func TestNewAlert_RequiresIdentifiers(t *testing.T) {
	now := time.Now()
	_, err := NewAlert("", PriorityP2, SeverityWarning, "binance", "BTC-USDT-PERP", "spread_bps", decimal.NewFromInt(5), decimal.NewFromInt(3), ConditionGT, now)
	assert.Error(t, err)

	_, err = NewAlert("spread_warning", PriorityP2, SeverityWarning, "", "BTC-USDT-PERP", "spread_bps", decimal.NewFromInt(5), decimal.NewFromInt(3), ConditionGT, now)
	assert.Error(t, err)
}

func TestAlert_ResolveComputesDuration(t *testing.T) {
	triggeredAt := time.Now()
	alert, err := NewAlert("spread_warning", PriorityP2, SeverityWarning, "binance", "BTC-USDT-PERP", "spread_bps", decimal.NewFromInt(5), decimal.NewFromInt(3), ConditionGT, triggeredAt)
	require.NoError(t, err)
	assert.True(t, alert.IsActive())

	resolvedAt := triggeredAt.Add(42 * time.Second)
	resolved := alert.Resolve("auto", nil, resolvedAt)
	require.NotNil(t, resolved.DurationSeconds)
	assert.Equal(t, 42, *resolved.DurationSeconds)
	assert.False(t, resolved.IsActive())
	assert.Equal(t, "auto", resolved.ResolutionType)
}

func TestAlert_EscalateRecordsOriginalPriority(t *testing.T) {
	triggeredAt := time.Now()
	alert, err := NewAlert("spread_warning", PriorityP2, SeverityWarning, "binance", "BTC-USDT-PERP", "spread_bps", decimal.NewFromInt(5), decimal.NewFromInt(3), ConditionGT, triggeredAt)
	require.NoError(t, err)

	escalatedAt := triggeredAt.Add(305 * time.Second)
	escalated := alert.Escalate(PriorityP1, escalatedAt)

	assert.True(t, escalated.Escalated)
	require.NotNil(t, escalated.OriginalPriority)
	assert.Equal(t, PriorityP2, *escalated.OriginalPriority)
	assert.Equal(t, PriorityP1, escalated.Priority)
	require.NotNil(t, escalated.EscalatedAt)
	assert.Equal(t, escalatedAt, *escalated.EscalatedAt)
}

func TestAlert_UpdatePeak_DirectionAware(t *testing.T) {
	triggeredAt := time.Now()

	gtAlert, err := NewAlert("spread_warning", PriorityP2, SeverityWarning, "binance", "BTC-USDT-PERP", "spread_bps", decimal.NewFromInt(5), decimal.NewFromInt(3), ConditionGT, triggeredAt)
	require.NoError(t, err)
	gtAlert = gtAlert.UpdatePeak(decimal.NewFromInt(5), triggeredAt)

	// A smaller value should not replace a gt-direction peak.
	unchanged := gtAlert.UpdatePeak(decimal.NewFromInt(4), triggeredAt.Add(time.Second))
	require.NotNil(t, unchanged.PeakValue)
	assert.True(t, unchanged.PeakValue.Equal(decimal.NewFromInt(5)))

	// A larger value should.
	updated := gtAlert.UpdatePeak(decimal.NewFromInt(7), triggeredAt.Add(2*time.Second))
	require.NotNil(t, updated.PeakValue)
	assert.True(t, updated.PeakValue.Equal(decimal.NewFromInt(7)))

	ltAlert, err := NewAlert("low_depth", PriorityP2, SeverityWarning, "binance", "BTC-USDT-PERP", "depth_10bps_total", decimal.NewFromInt(100), decimal.NewFromInt(200), ConditionLT, triggeredAt)
	require.NoError(t, err)
	ltAlert = ltAlert.UpdatePeak(decimal.NewFromInt(100), triggeredAt)

	ltUnchanged := ltAlert.UpdatePeak(decimal.NewFromInt(150), triggeredAt.Add(time.Second))
	assert.True(t, ltUnchanged.PeakValue.Equal(decimal.NewFromInt(100)))

	ltUpdated := ltAlert.UpdatePeak(decimal.NewFromInt(50), triggeredAt.Add(2*time.Second))
	assert.True(t, ltUpdated.PeakValue.Equal(decimal.NewFromInt(50)))
}

func TestAlertResult_WasSkipped(t *testing.T) {
	assert.True(t, AlertResult{SkipReason: "zscore_warmup"}.WasSkipped())
	assert.False(t, AlertResult{Triggered: true, SkipReason: ""}.WasSkipped())
	assert.False(t, AlertResult{}.WasSkipped())
}
