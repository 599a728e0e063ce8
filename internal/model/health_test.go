package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGapMarker_ValidatesInputs(t *testing.T) {
	now := time.Now()
	_, err := NewGapMarker("", "BTC-USDT-PERP", now, now, "sequence_backwards", nil, nil)
	assert.Error(t, err)

	_, err = NewGapMarker("binance", "BTC-USDT-PERP", now, now, "", nil, nil)
	assert.Error(t, err)

	_, err = NewGapMarker("binance", "BTC-USDT-PERP", now, now.Add(-time.Second), "sequence_backwards", nil, nil)
	assert.Error(t, err, "gap_end before gap_start is invalid")
}

func TestGapMarker_SequenceGapSize(t *testing.T) {
	now := time.Now()
	before := int64(100)
	after := int64(105)
	gap, err := NewGapMarker("binance", "BTC-USDT-PERP", now, now.Add(time.Second), "sequence_backwards", &before, &after)
	require.NoError(t, err)

	size, ok := gap.SequenceGapSize()
	require.True(t, ok)
	assert.Equal(t, int64(4), size)

	noSeq, err := NewGapMarker("binance", "BTC-USDT-PERP", now, now.Add(time.Second), "disconnect", nil, nil)
	require.NoError(t, err)
	_, ok = noSeq.SequenceGapSize()
	assert.False(t, ok)
}

func TestHealthStatus_IsHealthy(t *testing.T) {
	healthy := HealthStatus{Status: StatusConnected, LagMs: 100, GapsLastHour: 0}
	assert.True(t, healthy.IsHealthy())

	laggy := HealthStatus{Status: StatusConnected, LagMs: 5000, GapsLastHour: 0}
	assert.False(t, laggy.IsHealthy())
	assert.True(t, laggy.IsDegraded())

	gappy := HealthStatus{Status: StatusConnected, LagMs: 100, GapsLastHour: 10}
	assert.False(t, gappy.IsHealthy())

	disconnected := HealthStatus{Status: StatusDisconnected, LagMs: 0, GapsLastHour: 0}
	assert.False(t, disconnected.IsHealthy())
	assert.False(t, disconnected.IsDegraded())
}

func TestZScoreWarmupStatus_SamplesRemaining(t *testing.T) {
	status := ZScoreWarmupStatus{SampleCount: 20, MinSamples: 30}
	assert.Equal(t, 10, status.SamplesRemaining())
	assert.Contains(t, status.DisplayText(), "warming up")

	ready := ZScoreWarmupStatus{IsWarmedUp: true, SampleCount: 40, MinSamples: 30}
	assert.Equal(t, 0, ready.SamplesRemaining())
	assert.Equal(t, "active", ready.DisplayText())
}

func TestStateTransitions_ConnectionStatus(t *testing.T) {
	assert.True(t, StatusConnected.IsHealthy())
	assert.True(t, StatusConnected.IsUsable())
	assert.True(t, StatusDegraded.IsUsable())
	assert.False(t, StatusDegraded.IsHealthy())
	assert.False(t, StatusDisconnected.IsUsable())
}
