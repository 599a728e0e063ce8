package alert

import (
	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

// DefaultMetricValue is the production MetricValueFunc binding alerts.yaml's
// metric_name strings to AggregatedMetrics fields. It is the single place
// that enumerates which metric names the alert pipeline understands;
// extending the alert surface to a new metric means adding a case here.
func DefaultMetricValue(metricName string, metrics model.AggregatedMetrics) (decimal.Decimal, bool) {
	switch metricName {
	case "spread_bps":
		return metrics.Spread.SpreadBps, true
	case "spread_abs":
		return metrics.Spread.SpreadAbs, true
	case "basis_bps":
		if metrics.Basis == nil {
			return decimal.Zero, false
		}
		return metrics.Basis.BasisBps, true
	case "basis_abs":
		if metrics.Basis == nil {
			return decimal.Zero, false
		}
		return metrics.Basis.BasisAbs, true
	case "depth_5bps_total":
		return metrics.Depth.Depth5BpsTotal, true
	case "depth_10bps_total":
		return metrics.Depth.Depth10BpsTotal, true
	case "depth_25bps_total":
		return metrics.Depth.Depth25BpsTotal, true
	case "imbalance":
		return metrics.Depth.Imbalance, true
	case "imbalance_top_of_book":
		return metrics.Imbalance.TopOfBookImbalance, true
	case "imbalance_weighted_5":
		return metrics.Imbalance.WeightedImbalance5, true
	case "imbalance_weighted_10":
		return metrics.Imbalance.WeightedImbalance10, true
	default:
		return decimal.Zero, false
	}
}

// DefaultZScoreValue is the production ZScoreValueFunc. Only spread_bps and
// basis_bps carry rolling z-score trackers; basis z-score is computed on
// absolute basis magnitude by the aggregator and read back here rather than
// recomputed.
func DefaultZScoreValue(metricName string, metrics model.AggregatedMetrics) *decimal.Decimal {
	switch metricName {
	case "spread_bps":
		return metrics.Spread.ZScore
	case "basis_bps", "basis_abs":
		if metrics.Basis == nil {
			return nil
		}
		return metrics.Basis.ZScore
	default:
		return nil
	}
}
