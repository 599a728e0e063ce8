package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sawpanic/surveil/internal/model"
)

// ConsoleChannel writes alert events as structured log lines.
type ConsoleChannel struct {
	log zerolog.Logger
}

// NewConsoleChannel constructs a ConsoleChannel.
func NewConsoleChannel(log zerolog.Logger) *ConsoleChannel {
	return &ConsoleChannel{log: log}
}

func (c *ConsoleChannel) Dispatch(_ context.Context, alert model.Alert) error {
	c.log.Warn().
		Str("alert_id", alert.AlertID).
		Str("alert_type", alert.AlertType).
		Str("priority", string(alert.Priority)).
		Str("exchange", alert.Exchange).
		Str("instrument", alert.Instrument).
		Str("trigger_metric", alert.TriggerMetric).
		Str("trigger_value", alert.TriggerValue.String()).
		Time("triggered_at", alert.TriggeredAt).
		Msg("ALERT")
	return nil
}

func (c *ConsoleChannel) DispatchEscalation(_ context.Context, alert model.Alert) error {
	c.log.Error().
		Str("alert_id", alert.AlertID).
		Str("alert_type", alert.AlertType).
		Str("priority", string(alert.Priority)).
		Str("instrument", alert.Instrument).
		Msg("ALERT ESCALATED")
	return nil
}

func (c *ConsoleChannel) DispatchResolution(_ context.Context, alert model.Alert) error {
	c.log.Info().
		Str("alert_id", alert.AlertID).
		Str("alert_type", alert.AlertType).
		Str("instrument", alert.Instrument).
		Str("resolution_type", alert.ResolutionType).
		Msg("ALERT RESOLVED")
	return nil
}
