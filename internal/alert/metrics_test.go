package alert

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/surveil/internal/model"
)

func TestDefaultMetricValue_SpreadBps(t *testing.T) {
	metrics := model.AggregatedMetrics{
		Spread: model.SpreadMetrics{SpreadBps: decimal.RequireFromString("3.5")},
	}
	v, ok := DefaultMetricValue("spread_bps", metrics)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.RequireFromString("3.5")))
}

func TestDefaultMetricValue_BasisAbsentWithoutSpot(t *testing.T) {
	metrics := model.AggregatedMetrics{}
	_, ok := DefaultMetricValue("basis_bps", metrics)
	assert.False(t, ok)
}

func TestDefaultMetricValue_UnknownMetric(t *testing.T) {
	_, ok := DefaultMetricValue("not_a_metric", model.AggregatedMetrics{})
	assert.False(t, ok)
}

func TestDefaultZScoreValue_OnlyWarmedMetricsCarryZScore(t *testing.T) {
	z := decimal.RequireFromString("2.5")
	metrics := model.AggregatedMetrics{
		Spread: model.SpreadMetrics{ZScore: &z},
	}
	assert.Equal(t, &z, DefaultZScoreValue("spread_bps", metrics))
	assert.Nil(t, DefaultZScoreValue("depth_10bps_total", metrics))
	assert.Nil(t, DefaultZScoreValue("basis_bps", model.AggregatedMetrics{}))
}
