package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/surveil/internal/model"
)

// SlackChannel posts alert events to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewSlackChannel constructs a SlackChannel posting to webhookURL.
func NewSlackChannel(webhookURL string, log zerolog.Logger) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (c *SlackChannel) post(ctx context.Context, text string) error {
	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("dispatch: marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: slack webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch: slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *SlackChannel) Dispatch(ctx context.Context, alert model.Alert) error {
	text := fmt.Sprintf(
		":rotating_light: [%s] %s on %s/%s — %s %s (value=%s)",
		alert.Priority, alert.AlertType, alert.Exchange, alert.Instrument,
		alert.TriggerMetric, alert.TriggerCondition, alert.TriggerValue.String(),
	)
	return c.post(ctx, text)
}

func (c *SlackChannel) DispatchEscalation(ctx context.Context, alert model.Alert) error {
	text := fmt.Sprintf(
		":arrow_up: Alert %s escalated to %s on %s/%s",
		alert.AlertType, alert.Priority, alert.Exchange, alert.Instrument,
	)
	return c.post(ctx, text)
}

func (c *SlackChannel) DispatchResolution(ctx context.Context, alert model.Alert) error {
	duration := 0
	if alert.DurationSeconds != nil {
		duration = *alert.DurationSeconds
	}
	text := fmt.Sprintf(
		":white_check_mark: Alert %s on %s/%s resolved (%s, %ds)",
		alert.AlertType, alert.Exchange, alert.Instrument, alert.ResolutionType, duration,
	)
	return c.post(ctx, text)
}
