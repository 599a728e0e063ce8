// Package alert implements dual-condition alert evaluation, persistence
// tracking, and full alert lifecycle management (trigger, throttle, dedup,
// escalate, resolve).
package alert

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

// Evaluator is a stateless dual-condition alert evaluator: a primary
// threshold condition, and (when the definition requires it) a z-score
// magnitude condition. Persistence is handled by Manager, not here.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{log: log}
}

// Evaluate checks def's condition (and z-score requirement, if any) against
// the current metric value.
func (e *Evaluator) Evaluate(def model.AlertDefinition, metricValue decimal.Decimal, zscoreValue *decimal.Decimal, threshold model.AlertThreshold) model.AlertResult {
	if !def.Enabled {
		e.log.Debug().Str("alert_type", def.AlertType).Msg("alert_disabled")
		return model.AlertResult{
			AlertType:  def.AlertType,
			SkipReason: "alert_disabled",
			Message:    fmt.Sprintf("alert %s is disabled", def.AlertType),
		}
	}

	thresholdMet := def.Condition.Evaluate(metricValue, threshold.Threshold)
	if !thresholdMet {
		e.log.Debug().
			Str("alert_type", def.AlertType).
			Str("metric_value", metricValue.String()).
			Str("threshold", threshold.Threshold.String()).
			Str("condition", string(def.Condition)).
			Msg("alert_threshold_not_met")
		return model.AlertResult{
			AlertType: def.AlertType,
			Message:   fmt.Sprintf("threshold not met: %s %s %s", metricValue, def.Condition, threshold.Threshold),
		}
	}

	if def.RequiresZScore {
		if zscoreValue == nil {
			e.log.Info().Str("alert_type", def.AlertType).Msg("alert_skipped_zscore_warmup")
			return model.AlertResult{
				AlertType:  def.AlertType,
				SkipReason: "zscore_warmup",
				Message:    "z-score not available (warmup period)",
			}
		}
		if threshold.ZScoreThreshold == nil {
			e.log.Warn().Str("alert_type", def.AlertType).Msg("alert_config_error_missing_zscore_threshold")
			return model.AlertResult{
				AlertType:  def.AlertType,
				SkipReason: "config_error",
				Message:    "z-score threshold not configured",
			}
		}
		if !zscoreValue.Abs().GreaterThan(*threshold.ZScoreThreshold) {
			e.log.Debug().
				Str("alert_type", def.AlertType).
				Str("zscore_value", zscoreValue.String()).
				Str("zscore_threshold", threshold.ZScoreThreshold.String()).
				Msg("alert_zscore_not_met")
			return model.AlertResult{
				AlertType: def.AlertType,
				Message:   fmt.Sprintf("z-score not met: |%s| <= %s", zscoreValue, threshold.ZScoreThreshold),
			}
		}
	}

	priority := def.DefaultPriority
	severity := def.DefaultSeverity
	e.log.Info().
		Str("alert_type", def.AlertType).
		Str("metric_value", metricValue.String()).
		Str("threshold", threshold.Threshold.String()).
		Msg("alert_condition_met")

	return model.AlertResult{
		Triggered: true,
		AlertType: def.AlertType,
		Priority:  &priority,
		Severity:  &severity,
		Message:   buildTriggerMessage(def, metricValue, threshold.Threshold, zscoreValue, threshold.ZScoreThreshold),
	}
}

// EvaluateWithPersistence evaluates the threshold/z-score conditions and
// additionally requires persistenceMet when def.HasPersistence().
func (e *Evaluator) EvaluateWithPersistence(def model.AlertDefinition, metricValue decimal.Decimal, zscoreValue *decimal.Decimal, threshold model.AlertThreshold, persistenceMet bool) model.AlertResult {
	result := e.Evaluate(def, metricValue, zscoreValue, threshold)
	if !result.Triggered {
		return result
	}
	if def.HasPersistence() && !persistenceMet {
		e.log.Info().
			Str("alert_type", def.AlertType).
			Msg("alert_persistence_not_met")
		return model.AlertResult{
			AlertType: def.AlertType,
			Message:   fmt.Sprintf("persistence not met: requires %ds", *def.PersistenceSeconds),
		}
	}
	return result
}

func buildTriggerMessage(def model.AlertDefinition, metricValue, threshold decimal.Decimal, zscoreValue, zscoreThreshold *decimal.Decimal) string {
	symbol := "?"
	switch def.Condition {
	case model.ConditionGT:
		symbol = ">"
	case model.ConditionLT:
		symbol = "<"
	case model.ConditionAbsGT:
		symbol = "|x| >"
	case model.ConditionAbsLT:
		symbol = "|x| <"
	}
	msg := fmt.Sprintf("%s: %s %s %s", def.MetricName, metricValue, symbol, threshold)
	if def.RequiresZScore && zscoreValue != nil && zscoreThreshold != nil {
		msg += fmt.Sprintf(" (z: %s > %s)", zscoreValue.StringFixed(2), zscoreThreshold)
	}
	return msg
}
