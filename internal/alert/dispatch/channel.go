// Package dispatch routes triggered, escalated, and resolved alerts to
// notification channels (console, Slack) based on alert priority.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sawpanic/surveil/internal/model"
)

// Channel is a notification sink for alert lifecycle events.
type Channel interface {
	Dispatch(ctx context.Context, alert model.Alert) error
	DispatchEscalation(ctx context.Context, alert model.Alert) error
	DispatchResolution(ctx context.Context, alert model.Alert) error
}

// DefaultPriorityChannels maps each priority to the channel names that
// should receive it.
func DefaultPriorityChannels() map[model.AlertPriority][]string {
	return map[model.AlertPriority][]string{
		model.PriorityP1: {"console", "slack"},
		model.PriorityP2: {"console", "slack"},
		model.PriorityP3: {"console"},
	}
}

// Dispatcher fans an alert out to all channels configured for its priority.
type Dispatcher struct {
	channels         map[string]Channel
	priorityChannels map[model.AlertPriority][]string
	log              zerolog.Logger
}

// NewDispatcher constructs a Dispatcher. priorityChannels defaults to
// DefaultPriorityChannels when nil.
func NewDispatcher(channels map[string]Channel, priorityChannels map[model.AlertPriority][]string, log zerolog.Logger) *Dispatcher {
	if priorityChannels == nil {
		priorityChannels = DefaultPriorityChannels()
	}
	log.Info().Int("channel_count", len(channels)).Msg("channel_dispatcher_initialized")
	return &Dispatcher{channels: channels, priorityChannels: priorityChannels, log: log}
}

// Dispatch sends alert to every channel configured for its priority, or to
// names if explicitly provided. It returns the number of channels notified.
func (d *Dispatcher) Dispatch(ctx context.Context, alert model.Alert, names ...string) int {
	targets := names
	if len(targets) == 0 {
		targets = d.priorityChannels[alert.Priority]
	}
	if len(targets) == 0 {
		targets = []string{"console"}
	}

	sent := 0
	for _, name := range targets {
		ch, ok := d.channels[name]
		if !ok {
			d.log.Warn().Str("channel", name).Str("alert_id", alert.AlertID).Msg("channel_not_found")
			continue
		}
		if err := ch.Dispatch(ctx, alert); err != nil {
			d.log.Error().Err(err).Str("channel", name).Str("alert_id", alert.AlertID).Msg("channel_dispatch_failed")
			continue
		}
		sent++
	}
	d.log.Info().Str("alert_id", alert.AlertID).Int("dispatched_to", sent).Int("total_channels", len(targets)).Msg("alert_dispatch_complete")
	return sent
}

// DispatchEscalation notifies P1 channels that alert has been escalated.
func (d *Dispatcher) DispatchEscalation(ctx context.Context, alert model.Alert, names ...string) int {
	targets := names
	if len(targets) == 0 {
		targets = d.priorityChannels[model.PriorityP1]
	}
	sent := 0
	for _, name := range targets {
		ch, ok := d.channels[name]
		if !ok {
			continue
		}
		if err := ch.DispatchEscalation(ctx, alert); err != nil {
			d.log.Error().Err(err).Str("channel", name).Str("alert_id", alert.AlertID).Msg("escalation_dispatch_failed")
			continue
		}
		sent++
	}
	d.log.Info().Str("alert_id", alert.AlertID).Int("dispatched_to", sent).Msg("escalation_dispatch_complete")
	return sent
}

// DispatchResolution notifies the channel set the alert fired under before
// any escalation: OriginalPriority when the alert was escalated, its
// current Priority otherwise.
func (d *Dispatcher) DispatchResolution(ctx context.Context, alert model.Alert, names ...string) int {
	targets := names
	if len(targets) == 0 {
		priority := alert.Priority
		if alert.OriginalPriority != nil {
			priority = *alert.OriginalPriority
		}
		targets = d.priorityChannels[priority]
	}
	sent := 0
	for _, name := range targets {
		ch, ok := d.channels[name]
		if !ok {
			continue
		}
		if err := ch.DispatchResolution(ctx, alert); err != nil {
			d.log.Error().Err(err).Str("channel", name).Str("alert_id", alert.AlertID).Msg("resolution_dispatch_failed")
			continue
		}
		sent++
	}
	d.log.Info().Str("alert_id", alert.AlertID).Int("dispatched_to", sent).Msg("resolution_dispatch_complete")
	return sent
}
