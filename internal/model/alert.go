package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertPriority is the urgency level of an alert.
type AlertPriority string

const (
	PriorityP1 AlertPriority = "P1" // critical, immediate action
	PriorityP2 AlertPriority = "P2" // warning, may escalate to P1
	PriorityP3 AlertPriority = "P3" // info only
)

// IsCritical reports whether the priority is P1.
func (p AlertPriority) IsCritical() bool { return p == PriorityP1 }

// IsActionable reports whether the priority is P1 or P2.
func (p AlertPriority) IsActionable() bool { return p == PriorityP1 || p == PriorityP2 }

// AlertSeverity classifies an alert's severity independent of its priority.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// AlertCondition is the comparison used to evaluate a metric against a threshold.
type AlertCondition string

const (
	ConditionGT    AlertCondition = "gt"
	ConditionLT    AlertCondition = "lt"
	ConditionAbsGT AlertCondition = "abs_gt"
	ConditionAbsLT AlertCondition = "abs_lt"
)

// Evaluate reports whether value satisfies the condition against threshold.
func (c AlertCondition) Evaluate(value, threshold decimal.Decimal) bool {
	switch c {
	case ConditionGT:
		return value.GreaterThan(threshold)
	case ConditionLT:
		return value.LessThan(threshold)
	case ConditionAbsGT:
		return value.Abs().GreaterThan(threshold)
	case ConditionAbsLT:
		return value.Abs().LessThan(threshold)
	default:
		return false
	}
}

// AlertDefinition is configuration-driven alert type behavior, loaded from alerts.yaml.
type AlertDefinition struct {
	AlertType          string
	Name               string
	MetricName         string
	DefaultPriority    AlertPriority
	DefaultSeverity    AlertSeverity
	Condition          AlertCondition
	RequiresZScore     bool
	PersistenceSeconds *int
	ThrottleSeconds    int
	EscalationSeconds  *int
	EscalatesTo        *string
	Enabled            bool
}

// HasPersistence reports whether this alert type requires persistence before firing.
func (d AlertDefinition) HasPersistence() bool {
	return d.PersistenceSeconds != nil && *d.PersistenceSeconds > 0
}

// CanEscalate reports whether this alert type has an escalation target.
func (d AlertDefinition) CanEscalate() bool {
	return d.EscalatesTo != nil
}

// AlertThreshold is the per-instrument threshold configuration for an alert type.
type AlertThreshold struct {
	Threshold       decimal.Decimal
	ZScoreThreshold *decimal.Decimal
}

// AlertResult is the outcome of evaluating one alert definition against current metrics.
type AlertResult struct {
	Triggered  bool
	AlertType  string
	Priority   *AlertPriority
	Severity   *AlertSeverity
	SkipReason string
	Message    string
}

// WasSkipped reports whether evaluation didn't trigger but has an explicit reason.
func (r AlertResult) WasSkipped() bool {
	return !r.Triggered && r.SkipReason != ""
}

// Alert is an active or historical alert instance with full lifecycle state.
type Alert struct {
	AlertID    string
	AlertType  string
	Priority   AlertPriority
	Severity   AlertSeverity
	Exchange   string
	Instrument string

	TriggerMetric    string
	TriggerValue     decimal.Decimal
	TriggerThreshold decimal.Decimal
	TriggerCondition AlertCondition

	ZScoreValue     *decimal.Decimal
	ZScoreThreshold *decimal.Decimal

	TriggeredAt    time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time

	DurationSeconds *int

	PeakValue *decimal.Decimal
	PeakAt    *time.Time

	Escalated         bool
	EscalatedAt       *time.Time
	OriginalPriority  *AlertPriority

	Context map[string]any

	ResolutionType  string
	ResolutionValue *decimal.Decimal
}

// NewAlert constructs an Alert with a generated id and the given trigger context.
func NewAlert(alertType string, priority AlertPriority, severity AlertSeverity, exchange, instrument, triggerMetric string, triggerValue, triggerThreshold decimal.Decimal, cond AlertCondition, triggeredAt time.Time) (Alert, error) {
	if alertType == "" {
		return Alert{}, fmt.Errorf("model: alert_type must not be empty")
	}
	if exchange == "" || instrument == "" {
		return Alert{}, fmt.Errorf("model: exchange and instrument must not be empty")
	}
	return Alert{
		AlertID:          uuid.NewString(),
		AlertType:        alertType,
		Priority:         priority,
		Severity:         severity,
		Exchange:         exchange,
		Instrument:       instrument,
		TriggerMetric:    triggerMetric,
		TriggerValue:     triggerValue,
		TriggerThreshold: triggerThreshold,
		TriggerCondition: cond,
		TriggeredAt:      triggeredAt,
		Context:          make(map[string]any),
	}, nil
}

// IsActive reports whether the alert has not yet been resolved.
func (a Alert) IsActive() bool { return a.ResolvedAt == nil }

// IsAcknowledged reports whether the alert has been acknowledged.
func (a Alert) IsAcknowledged() bool { return a.AcknowledgedAt != nil }

// IsEscalated reports whether the alert has been escalated.
func (a Alert) IsEscalated() bool { return a.Escalated }

// Acknowledge returns a copy of the alert marked acknowledged at ts.
func (a Alert) Acknowledge(ts time.Time) Alert {
	out := a
	out.AcknowledgedAt = &ts
	return out
}

// Resolve returns a copy of the alert marked resolved, with duration computed
// from TriggeredAt to ts.
func (a Alert) Resolve(resolutionType string, resolutionValue *decimal.Decimal, ts time.Time) Alert {
	out := a
	out.ResolvedAt = &ts
	out.ResolutionType = resolutionType
	out.ResolutionValue = resolutionValue
	duration := int(ts.Sub(a.TriggeredAt).Seconds())
	out.DurationSeconds = &duration
	return out
}

// Escalate returns a copy of the alert promoted to newPriority, recording the
// original priority and escalation time.
func (a Alert) Escalate(newPriority AlertPriority, ts time.Time) Alert {
	out := a
	orig := a.Priority
	out.OriginalPriority = &orig
	out.Priority = newPriority
	out.Escalated = true
	out.EscalatedAt = &ts
	return out
}

// UpdatePeak returns a copy with PeakValue/PeakAt updated if value is farther
// from the trigger threshold than the current peak, direction-aware per
// TriggerCondition: gt/abs_gt track the maximum absolute value seen, lt/abs_lt
// track the minimum.
func (a Alert) UpdatePeak(value decimal.Decimal, ts time.Time) Alert {
	shouldUpdate := false
	switch {
	case a.PeakValue == nil:
		shouldUpdate = true
	case a.TriggerCondition == ConditionGT || a.TriggerCondition == ConditionAbsGT:
		shouldUpdate = value.Abs().GreaterThan(a.PeakValue.Abs())
	case a.TriggerCondition == ConditionLT || a.TriggerCondition == ConditionAbsLT:
		shouldUpdate = value.Abs().LessThan(a.PeakValue.Abs())
	}
	if !shouldUpdate {
		return a
	}
	out := a
	v := value
	out.PeakValue = &v
	out.PeakAt = &ts
	return out
}
