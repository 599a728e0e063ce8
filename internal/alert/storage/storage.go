// Package storage implements the dual-write alert store the alert.Manager
// depends on: Redis KV is authoritative for active-alert lookups, TimescaleDB
// is authoritative for history. A KV write failure fails the operation; a
// TSDB write failure is logged without reverting the KV state.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/surveil/internal/kv"
	"github.com/sawpanic/surveil/internal/model"
	"github.com/sawpanic/surveil/internal/tsdb"
)

const (
	tsdbRetryAttempts = 3
	tsdbRetryBaseWait = 500 * time.Millisecond
)

func errAlertNotFound(alertID string) error {
	return fmt.Errorf("storage: alert %s not found", alertID)
}

// Store is the concrete alert.Storage implementation: KV for active state,
// TSDB for lifecycle history, each call to TSDB guarded by its own circuit
// breaker so a degraded history store never blocks the active-alert path.
type Store struct {
	kv  *kv.Client
	ts  *tsdb.Client
	log zerolog.Logger
	cb  *gobreaker.CircuitBreaker
}

// Config controls the TSDB circuit breaker.
type Config struct {
	BreakerName        string
	MaxRequests        uint32
	Interval           time.Duration
	Timeout            time.Duration
	ConsecutiveFailures uint32
}

// DefaultConfig mirrors the breaker tuning the teacher applies to its
// exchange API providers, scaled down for an internal storage dependency.
func DefaultConfig() Config {
	return Config{
		BreakerName:         "alert-tsdb",
		MaxRequests:         5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// New builds a Store over an already-connected KV and TSDB client.
func New(kvClient *kv.Client, tsClient *tsdb.Client, log zerolog.Logger, cfg Config) *Store {
	settings := gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("tsdb circuit breaker state change")
		},
	}
	return &Store{
		kv:  kvClient,
		ts:  tsClient,
		log: log,
		cb:  gobreaker.NewCircuitBreaker(settings),
	}
}

// tsdbWrite runs fn through the circuit breaker, making up to
// tsdbRetryAttempts attempts with 0.5s*2^attempt backoff on failure, and logs
// (without propagating) any error that survives retries: TSDB is the
// history store, not the source of truth for whether an alert is active.
func (s *Store) tsdbWrite(ctx context.Context, op string, fn func() error) {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, retryWithBackoff(ctx, fn)
	})
	if err != nil {
		s.log.Error().Err(err).Str("op", op).Msg("tsdb write failed, active alert state in kv is unaffected")
	}
}

// retryWithBackoff calls fn up to tsdbRetryAttempts times in total, waiting
// tsdbRetryBaseWait*2^attempt between attempts, returning the last error if
// every attempt fails.
func retryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < tsdbRetryAttempts; attempt++ {
		if attempt > 0 {
			wait := tsdbRetryBaseWait * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// Save writes the new alert to KV (authoritative, must succeed) then mirrors
// it to TSDB (best-effort).
func (s *Store) Save(ctx context.Context, alert model.Alert) error {
	if err := s.kv.SetAlert(ctx, alert); err != nil {
		return err
	}
	s.tsdbWrite(ctx, "insert_alert", func() error {
		return s.ts.InsertAlert(ctx, alert)
	})
	if err := s.kv.PublishAlert(ctx, alert); err != nil {
		s.log.Warn().Err(err).Str("alert_id", alert.AlertID).Msg("publish alert failed")
	}
	return nil
}

// GetActiveAlerts reads the active set from KV, the only store that knows
// which alerts are currently open.
func (s *Store) GetActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.kv.GetActiveAlerts(ctx)
}

// GetAlertsForEscalationCheck returns active alerts that have been open at
// least thresholdSeconds and have not yet escalated.
func (s *Store) GetAlertsForEscalationCheck(ctx context.Context, thresholdSeconds int) ([]model.Alert, error) {
	active, err := s.kv.GetActiveAlerts(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Duration(thresholdSeconds) * time.Second
	out := make([]model.Alert, 0, len(active))
	for _, a := range active {
		if a.Escalated {
			continue
		}
		if time.Since(a.TriggeredAt) >= cutoff {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpdateEscalation bumps an active alert's priority in KV and mirrors the
// transition to TSDB history.
func (s *Store) UpdateEscalation(ctx context.Context, alertID string, newPriority model.AlertPriority, escalatedAt time.Time) (model.Alert, error) {
	alert, ok, err := s.kv.GetAlert(ctx, alertID)
	if err != nil {
		return model.Alert{}, err
	}
	if !ok {
		return model.Alert{}, errAlertNotFound(alertID)
	}
	original := alert.Priority
	alert = alert.Escalate(newPriority, escalatedAt)

	if err := s.kv.SetAlert(ctx, alert); err != nil {
		return model.Alert{}, err
	}
	s.tsdbWrite(ctx, "update_escalation", func() error {
		return s.ts.UpdateAlertStatus(ctx, alertID, tsdb.AlertStatusUpdate{
			Status:           "active",
			Escalated:        true,
			EscalatedAt:      &escalatedAt,
			NewPriority:      &newPriority,
			OriginalPriority: &original,
		})
	})
	return alert, nil
}

// UpdateResolution closes an active alert: it is removed from KV's active
// index (GetActiveAlerts must not return it again) and its final state is
// mirrored to TSDB.
func (s *Store) UpdateResolution(ctx context.Context, alertID, resolutionType string, resolutionValue *decimal.Decimal, resolvedAt time.Time) (model.Alert, error) {
	alert, ok, err := s.kv.GetAlert(ctx, alertID)
	if err != nil {
		return model.Alert{}, err
	}
	if !ok {
		return model.Alert{}, errAlertNotFound(alertID)
	}
	alert = alert.Resolve(resolutionType, resolutionValue, resolvedAt)

	if err := s.kv.RemoveAlert(ctx, alertID); err != nil {
		return model.Alert{}, err
	}
	duration := 0
	if alert.DurationSeconds != nil {
		duration = *alert.DurationSeconds
	}
	s.tsdbWrite(ctx, "update_resolution", func() error {
		return s.ts.UpdateAlertStatus(ctx, alertID, tsdb.AlertStatusUpdate{
			Status:          "resolved",
			ResolvedAt:      &resolvedAt,
			ResolutionType:  resolutionType,
			ResolutionValue: resolutionValue,
			DurationSeconds: &duration,
		})
	})
	return alert, nil
}

// UpdatePeak records a new extreme value reached while an alert condition
// remains active.
func (s *Store) UpdatePeak(ctx context.Context, alertID string, peakValue decimal.Decimal, peakAt time.Time) (model.Alert, error) {
	alert, ok, err := s.kv.GetAlert(ctx, alertID)
	if err != nil {
		return model.Alert{}, err
	}
	if !ok {
		return model.Alert{}, errAlertNotFound(alertID)
	}
	alert = alert.UpdatePeak(peakValue, peakAt)

	if err := s.kv.SetAlert(ctx, alert); err != nil {
		return model.Alert{}, err
	}
	s.tsdbWrite(ctx, "update_peak", func() error {
		return s.ts.UpdateAlertStatus(ctx, alertID, tsdb.AlertStatusUpdate{
			Status:    "active",
			PeakValue: &peakValue,
			PeakAt:    &peakAt,
		})
	})
	return alert, nil
}
