package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

// Default gating constants, mirrored from the detection service's defaults.
const (
	DefaultThrottleSeconds   = 60
	DefaultEscalationSeconds = 300
)

// Storage is the persistence surface the Manager depends on: a dual-write
// active/historical alert store (see internal/alert/storage).
type Storage interface {
	Save(ctx context.Context, alert model.Alert) error
	GetActiveAlerts(ctx context.Context) ([]model.Alert, error)
	GetAlertsForEscalationCheck(ctx context.Context, thresholdSeconds int) ([]model.Alert, error)
	UpdateEscalation(ctx context.Context, alertID string, newPriority model.AlertPriority, escalatedAt time.Time) (model.Alert, error)
	UpdateResolution(ctx context.Context, alertID, resolutionType string, resolutionValue *decimal.Decimal, resolvedAt time.Time) (model.Alert, error)
	UpdatePeak(ctx context.Context, alertID string, peakValue decimal.Decimal, peakAt time.Time) (model.Alert, error)
}

// MetricValueFunc extracts the named metric value from an AggregatedMetrics
// package, returning false if the metric name is unknown.
type MetricValueFunc func(metricName string, metrics model.AggregatedMetrics) (decimal.Decimal, bool)

// ZScoreValueFunc extracts the named metric's rolling z-score, returning nil
// when the metric carries no z-score or the value has not yet warmed up.
type ZScoreValueFunc func(metricName string, metrics model.AggregatedMetrics) *decimal.Decimal

// Manager drives the full alert lifecycle: persistence tracking, throttling,
// deduplication, creation, escalation, and resolution, across one set of
// alert definitions applied to a continuous stream of aggregated metrics.
type Manager struct {
	storage     Storage
	evaluator   *Evaluator
	persistence *PersistenceTracker
	log         zerolog.Logger

	getMetricValue MetricValueFunc
	getZScoreValue ZScoreValueFunc

	globalThrottleSeconds int

	mu              sync.Mutex
	definitions     []model.AlertDefinition
	thresholds      map[string]model.AlertThreshold // keyed by alert_type
	lastFiredAt     map[string]time.Time            // keyed by condition key
	activeCondition map[string]string               // condition key -> active alert id
}

// NewManager constructs a Manager. definitions and thresholds are keyed
// identically: thresholds[def.AlertType] supplies the threshold for each
// definition in definitions.
func NewManager(
	storage Storage,
	definitions []model.AlertDefinition,
	thresholds map[string]model.AlertThreshold,
	getMetricValue MetricValueFunc,
	getZScoreValue ZScoreValueFunc,
	globalThrottleSeconds int,
	log zerolog.Logger,
) *Manager {
	if globalThrottleSeconds <= 0 {
		globalThrottleSeconds = DefaultThrottleSeconds
	}
	return &Manager{
		storage:               storage,
		evaluator:             NewEvaluator(log),
		persistence:           NewPersistenceTracker(),
		log:                   log,
		getMetricValue:        getMetricValue,
		getZScoreValue:        getZScoreValue,
		globalThrottleSeconds: globalThrottleSeconds,
		definitions:           definitions,
		thresholds:            thresholds,
		lastFiredAt:           make(map[string]time.Time),
		activeCondition:       make(map[string]string),
	}
}

// ProcessMetrics evaluates every alert definition against metrics, handling
// persistence tracking, throttling, deduplication, and cleared-condition
// auto-resolution, and returns any alerts newly created this call.
//
// Persistence is tracked unconditionally for every definition regardless of
// whether it ultimately triggers, so that a condition which stops being true
// clears its start time even when the alert itself never fired.
func (m *Manager) ProcessMetrics(ctx context.Context, exchange, instrument string, metrics model.AggregatedMetrics, timestamp time.Time) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var created []model.Alert
	currentConditions := make(map[string]bool)

	for _, def := range m.definitions {
		if !def.Enabled {
			continue
		}
		conditionKey := BuildConditionKey(def.AlertType, instrument, exchange)

		metricValue, ok := m.getMetricValue(def.MetricName, metrics)
		if !ok {
			continue
		}
		threshold, ok := m.thresholds[def.AlertType]
		if !ok {
			m.log.Warn().Str("alert_type", def.AlertType).Msg("alert_missing_threshold_config")
			continue
		}

		thresholdMet := def.Condition.Evaluate(metricValue, threshold.Threshold)

		// Persistence tracking runs regardless of whether the alert
		// ultimately fires, so a condition that drops never leaves a
		// stale start time behind.
		startTime, tracked := m.persistence.Track(conditionKey, thresholdMet, timestamp)
		_ = startTime

		if !thresholdMet {
			continue
		}
		currentConditions[conditionKey] = true

		var zscoreValue *decimal.Decimal
		if def.RequiresZScore {
			zscoreValue = m.getZScoreValue(def.MetricName, metrics)
		}

		persistenceMet := true
		if def.HasPersistence() {
			persistenceMet = tracked && m.persistence.IsPersistenceMet(conditionKey, *def.PersistenceSeconds, timestamp)
		}

		result := m.evaluator.EvaluateWithPersistence(def, metricValue, zscoreValue, threshold, persistenceMet)
		if !result.Triggered {
			continue
		}

		if m.isDuplicate(conditionKey) {
			if err := m.updateExistingAlertPeak(ctx, conditionKey, metricValue, timestamp); err != nil {
				m.log.Warn().Err(err).Str("alert_type", def.AlertType).Msg("alert_peak_update_failed")
			}
			continue
		}

		if m.shouldThrottle(def, conditionKey, timestamp) {
			continue
		}

		alert, err := m.createAlert(ctx, def, threshold, metricValue, zscoreValue, exchange, instrument, timestamp)
		if err != nil {
			return created, err
		}
		m.activeCondition[conditionKey] = alert.AlertID
		m.lastFiredAt[conditionKey] = timestamp
		m.persistence.Clear(conditionKey)
		created = append(created, alert)
	}

	if err := m.resolveClearedConditions(ctx, exchange, instrument, currentConditions, timestamp); err != nil {
		return created, err
	}

	return created, nil
}

// shouldThrottle reports whether a new alert for conditionKey would arrive
// within def's throttle window (falling back to the manager-wide throttle).
func (m *Manager) shouldThrottle(def model.AlertDefinition, conditionKey string, timestamp time.Time) bool {
	last, ok := m.lastFiredAt[conditionKey]
	if !ok {
		return false
	}
	throttleSeconds := def.ThrottleSeconds
	if throttleSeconds <= 0 {
		throttleSeconds = m.globalThrottleSeconds
	}
	return timestamp.Sub(last) < time.Duration(throttleSeconds)*time.Second
}

// isDuplicate reports whether conditionKey already has an active alert.
func (m *Manager) isDuplicate(conditionKey string) bool {
	_, ok := m.activeCondition[conditionKey]
	return ok
}

// createAlert builds and persists a new Alert, initializing its peak value
// at the triggering metric value and timestamp (matching the detection
// service's behavior of seeding the peak at creation rather than leaving it
// unset until the first subsequent update).
func (m *Manager) createAlert(
	ctx context.Context,
	def model.AlertDefinition,
	threshold model.AlertThreshold,
	metricValue decimal.Decimal,
	zscoreValue *decimal.Decimal,
	exchange, instrument string,
	timestamp time.Time,
) (model.Alert, error) {
	alert, err := model.NewAlert(def.AlertType, def.DefaultPriority, def.DefaultSeverity, exchange, instrument, def.MetricName, metricValue, threshold.Threshold, def.Condition, timestamp)
	if err != nil {
		return model.Alert{}, err
	}
	alert.ZScoreValue = zscoreValue
	alert.ZScoreThreshold = threshold.ZScoreThreshold
	alert = alert.UpdatePeak(metricValue, timestamp)

	if err := m.storage.Save(ctx, alert); err != nil {
		return model.Alert{}, fmt.Errorf("alert: save new alert: %w", err)
	}

	m.log.Info().
		Str("alert_id", alert.AlertID).
		Str("alert_type", alert.AlertType).
		Str("priority", string(alert.Priority)).
		Str("exchange", exchange).
		Str("instrument", instrument).
		Msg("alert_created")

	return alert, nil
}

// updateExistingAlertPeak extends the peak value of the currently active
// alert for conditionKey, if metricValue is more extreme.
func (m *Manager) updateExistingAlertPeak(ctx context.Context, conditionKey string, metricValue decimal.Decimal, timestamp time.Time) error {
	alertID, ok := m.activeCondition[conditionKey]
	if !ok {
		return nil
	}
	_, err := m.storage.UpdatePeak(ctx, alertID, metricValue, timestamp)
	return err
}

// resolveClearedConditions auto-resolves any alert whose condition is no
// longer present in currentConditions, matched by the condition key's
// ":instrument:exchange" suffix.
func (m *Manager) resolveClearedConditions(ctx context.Context, exchange, instrument string, currentConditions map[string]bool, timestamp time.Time) error {
	suffix := ":" + instrument + ":" + exchange
	for conditionKey, alertID := range m.activeCondition {
		if len(conditionKey) < len(suffix) || conditionKey[len(conditionKey)-len(suffix):] != suffix {
			continue
		}
		if currentConditions[conditionKey] {
			continue
		}

		if _, err := m.storage.UpdateResolution(ctx, alertID, "auto", nil, timestamp); err != nil {
			return fmt.Errorf("alert: auto-resolve %s: %w", alertID, err)
		}
		m.log.Info().Str("alert_id", alertID).Str("condition_key", conditionKey).Msg("alert_auto_resolved")

		delete(m.activeCondition, conditionKey)
		delete(m.lastFiredAt, conditionKey)
		m.persistence.Clear(conditionKey)
	}
	return nil
}

// CheckEscalations promotes active P2 alerts older than their escalation
// window to their definition's EscalatesTo priority and returns the alerts
// that were escalated. Definitions without an escalation target are skipped.
func (m *Manager) CheckEscalations(ctx context.Context, timestamp time.Time) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates, err := m.storage.GetAlertsForEscalationCheck(ctx, DefaultEscalationSeconds)
	if err != nil {
		return nil, fmt.Errorf("alert: get escalation candidates: %w", err)
	}

	var escalated []model.Alert
	for _, candidate := range candidates {
		if candidate.Priority != model.PriorityP2 {
			continue
		}
		def := m.definitionFor(candidate.AlertType)
		if def == nil || !def.CanEscalate() {
			continue
		}
		escalationSeconds := DefaultEscalationSeconds
		if def.EscalationSeconds != nil {
			escalationSeconds = *def.EscalationSeconds
		}
		if timestamp.Sub(candidate.TriggeredAt) < time.Duration(escalationSeconds)*time.Second {
			continue
		}

		updated, err := m.storage.UpdateEscalation(ctx, candidate.AlertID, model.AlertPriority(*def.EscalatesTo), timestamp)
		if err != nil {
			return escalated, fmt.Errorf("alert: escalate %s: %w", candidate.AlertID, err)
		}
		m.log.Info().
			Str("alert_id", candidate.AlertID).
			Str("from_priority", string(candidate.Priority)).
			Str("to_priority", string(updated.Priority)).
			Msg("alert_escalated")
		escalated = append(escalated, updated)
	}
	return escalated, nil
}

// ResolveAlert manually resolves an active alert.
func (m *Manager) ResolveAlert(ctx context.Context, alertID, resolutionType string, resolutionValue *decimal.Decimal, timestamp time.Time) (model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resolved, err := m.storage.UpdateResolution(ctx, alertID, resolutionType, resolutionValue, timestamp)
	if err != nil {
		return model.Alert{}, fmt.Errorf("alert: resolve %s: %w", alertID, err)
	}

	for conditionKey, id := range m.activeCondition {
		if id == alertID {
			delete(m.activeCondition, conditionKey)
			delete(m.lastFiredAt, conditionKey)
			m.persistence.Clear(conditionKey)
			break
		}
	}

	m.log.Info().Str("alert_id", alertID).Str("resolution_type", resolutionType).Msg("alert_resolved_manual")
	return resolved, nil
}

func (m *Manager) definitionFor(alertType string) *model.AlertDefinition {
	for i := range m.definitions {
		if m.definitions[i].AlertType == alertType {
			return &m.definitions[i]
		}
	}
	return nil
}

// ActiveConditionCount returns the number of conditions currently tracked as
// active (i.e. with a live, unresolved alert).
func (m *Manager) ActiveConditionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeCondition)
}

// ClearThrottleState drops all recorded throttle timestamps, e.g. for tests
// or after a manual reset.
func (m *Manager) ClearThrottleState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFiredAt = make(map[string]time.Time)
}

// ClearDedupState drops all active-condition tracking without resolving the
// underlying alerts; used for tests and for recovering from storage drift.
func (m *Manager) ClearDedupState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCondition = make(map[string]string)
}
