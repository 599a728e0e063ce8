// Package kv provides a Redis-backed client for real-time surveillance
// state: order book snapshots, rolling z-score buffers, active alerts, and
// per-exchange health, plus pub/sub fan-out for dashboard consumers.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

// Redis key prefixes and pub/sub channel names.
const (
	keyOrderBook          = "orderbook"
	keyMetrics            = "metrics"
	keyZScore             = "zscore"
	keyAlert              = "alert"
	keyAlertsActive       = "alerts:active"
	keyAlertsByPriority   = "alerts:by_priority"
	keyAlertsByInstrument = "alerts:by_instrument"
	keyHealth             = "health"

	ChannelOrderBook = "updates:orderbook"
	ChannelMetrics   = "updates:metrics"
	ChannelAlerts    = "updates:alerts"
	ChannelHealth    = "updates:health"
)

// Config controls TTLs applied to state written through Client.
type Config struct {
	CurrentStateTTL time.Duration
	ZScoreBufferTTL time.Duration
}

// DefaultConfig returns sensible TTLs: 90s for current state, 1h for z-score buffers.
func DefaultConfig() Config {
	return Config{CurrentStateTTL: 90 * time.Second, ZScoreBufferTTL: time.Hour}
}

// Client wraps a go-redis client with the key-space conventions this system
// relies on for order books, z-score buffers, alerts, and health.
type Client struct {
	rdb *redis.Client
	cfg Config
	log zerolog.Logger
}

// New constructs a Client over an already-configured go-redis client.
func New(rdb *redis.Client, cfg Config, log zerolog.Logger) *Client {
	return &Client{rdb: rdb, cfg: cfg, log: log}
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func orderBookKey(exchange, instrument string) string {
	return fmt.Sprintf("%s:%s:%s", keyOrderBook, exchange, instrument)
}

// SetOrderBook stores a snapshot under its current-state TTL.
func (c *Client) SetOrderBook(ctx context.Context, snap model.OrderBookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("kv: marshal orderbook: %w", err)
	}
	key := orderBookKey(snap.Exchange, snap.Instrument)
	if err := c.rdb.Set(ctx, key, data, c.cfg.CurrentStateTTL).Err(); err != nil {
		return fmt.Errorf("kv: store orderbook %s: %w", key, err)
	}
	return nil
}

// GetOrderBook retrieves the current snapshot, or (zero, false) if absent.
func (c *Client) GetOrderBook(ctx context.Context, exchange, instrument string) (model.OrderBookSnapshot, bool, error) {
	data, err := c.rdb.Get(ctx, orderBookKey(exchange, instrument)).Bytes()
	if err == redis.Nil {
		return model.OrderBookSnapshot{}, false, nil
	}
	if err != nil {
		return model.OrderBookSnapshot{}, false, fmt.Errorf("kv: get orderbook: %w", err)
	}
	var snap model.OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.OrderBookSnapshot{}, false, fmt.Errorf("kv: unmarshal orderbook: %w", err)
	}
	return snap, true, nil
}

func metricsKey(exchange, instrument string) string {
	return fmt.Sprintf("%s:%s:%s", keyMetrics, exchange, instrument)
}

// SetMetrics stores the latest AggregatedMetrics under its current-state TTL.
// Pub/sub only ever carries the identifier envelope (see PublishMetrics);
// consumers like the alert pipeline call GetMetrics after a notification to
// fetch the authoritative values, same as orderbook's Set/Get pair.
func (c *Client) SetMetrics(ctx context.Context, metrics model.AggregatedMetrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("kv: marshal metrics: %w", err)
	}
	key := metricsKey(metrics.Exchange, metrics.Instrument)
	if err := c.rdb.Set(ctx, key, data, c.cfg.CurrentStateTTL).Err(); err != nil {
		return fmt.Errorf("kv: store metrics %s: %w", key, err)
	}
	return nil
}

// GetMetrics retrieves the current AggregatedMetrics, or (zero, false) if absent.
func (c *Client) GetMetrics(ctx context.Context, exchange, instrument string) (model.AggregatedMetrics, bool, error) {
	data, err := c.rdb.Get(ctx, metricsKey(exchange, instrument)).Bytes()
	if err == redis.Nil {
		return model.AggregatedMetrics{}, false, nil
	}
	if err != nil {
		return model.AggregatedMetrics{}, false, fmt.Errorf("kv: get metrics: %w", err)
	}
	var metrics model.AggregatedMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		return model.AggregatedMetrics{}, false, fmt.Errorf("kv: unmarshal metrics: %w", err)
	}
	return metrics, true, nil
}

func zscoreKey(exchange, instrument, metric string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyZScore, exchange, instrument, metric)
}

// AddZScoreSample appends value to the rolling buffer for metric and trims
// it to windowSize, atomically, refreshing the buffer's TTL.
func (c *Client) AddZScoreSample(ctx context.Context, exchange, instrument, metric string, value decimal.Decimal, windowSize int) error {
	key := zscoreKey(exchange, instrument, metric)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value.String())
		pipe.LTrim(ctx, key, int64(-windowSize), -1)
		pipe.Expire(ctx, key, c.cfg.ZScoreBufferTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: add zscore sample %s: %w", key, err)
	}
	return nil
}

// GetZScoreBuffer returns up to limit most recent samples, oldest first.
// limit<=0 returns the entire buffer.
func (c *Client) GetZScoreBuffer(ctx context.Context, exchange, instrument, metric string, limit int) ([]decimal.Decimal, error) {
	key := zscoreKey(exchange, instrument, metric)
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := c.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: get zscore buffer %s: %w", key, err)
	}
	samples := make([]decimal.Decimal, 0, len(raw))
	for _, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("kv: parse zscore sample %q: %w", v, err)
		}
		samples = append(samples, d)
	}
	return samples, nil
}

// ClearZScoreBuffer deletes the rolling buffer, e.g. on gap detection.
func (c *Client) ClearZScoreBuffer(ctx context.Context, exchange, instrument, metric string) error {
	if err := c.rdb.Del(ctx, zscoreKey(exchange, instrument, metric)).Err(); err != nil {
		return fmt.Errorf("kv: clear zscore buffer: %w", err)
	}
	return nil
}

// ZScoreBufferLength reports the current sample count without transferring
// the buffer, for warmup-progress checks.
func (c *Client) ZScoreBufferLength(ctx context.Context, exchange, instrument, metric string) (int64, error) {
	n, err := c.rdb.LLen(ctx, zscoreKey(exchange, instrument, metric)).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: zscore buffer length: %w", err)
	}
	return n, nil
}

func alertKey(alertID string) string                  { return fmt.Sprintf("%s:%s", keyAlert, alertID) }
func alertsByPriorityKey(p model.AlertPriority) string { return fmt.Sprintf("%s:%s", keyAlertsByPriority, p) }
func alertsByInstrumentKey(instrument string) string {
	return fmt.Sprintf("%s:%s", keyAlertsByInstrument, instrument)
}

// SetAlert stores an alert and maintains the active/priority/instrument
// index sets used for fast lookups. Resolved alerts are removed from the
// active set but left in the priority/instrument indexes for history.
func (c *Client) SetAlert(ctx context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("kv: marshal alert: %w", err)
	}
	key := alertKey(alert.AlertID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		if alert.IsActive() {
			pipe.SAdd(ctx, keyAlertsActive, alert.AlertID)
			pipe.SAdd(ctx, alertsByPriorityKey(alert.Priority), alert.AlertID)
			pipe.SAdd(ctx, alertsByInstrumentKey(alert.Instrument), alert.AlertID)
		} else {
			pipe.SRem(ctx, keyAlertsActive, alert.AlertID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: store alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// GetAlert retrieves an alert by id, or (zero, false) if absent.
func (c *Client) GetAlert(ctx context.Context, alertID string) (model.Alert, bool, error) {
	data, err := c.rdb.Get(ctx, alertKey(alertID)).Bytes()
	if err == redis.Nil {
		return model.Alert{}, false, nil
	}
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("kv: get alert: %w", err)
	}
	var alert model.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return model.Alert{}, false, fmt.Errorf("kv: unmarshal alert: %w", err)
	}
	return alert, true, nil
}

// GetActiveAlerts returns every active alert, newest first.
func (c *Client) GetActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	ids, err := c.rdb.SMembers(ctx, keyAlertsActive).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: smembers active alerts: %w", err)
	}
	return c.fetchAlerts(ctx, ids, func(model.Alert) bool { return true })
}

// GetAlertsByPriority returns active alerts at the given priority, newest first.
func (c *Client) GetAlertsByPriority(ctx context.Context, priority model.AlertPriority) ([]model.Alert, error) {
	ids, err := c.rdb.SInter(ctx, keyAlertsActive, alertsByPriorityKey(priority)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: sinter alerts by priority: %w", err)
	}
	return c.fetchAlerts(ctx, ids, func(a model.Alert) bool { return a.Priority == priority })
}

// GetAlertsByInstrument returns active alerts for the given instrument, newest first.
func (c *Client) GetAlertsByInstrument(ctx context.Context, instrument string) ([]model.Alert, error) {
	ids, err := c.rdb.SInter(ctx, keyAlertsActive, alertsByInstrumentKey(instrument)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: sinter alerts by instrument: %w", err)
	}
	return c.fetchAlerts(ctx, ids, func(a model.Alert) bool { return a.Instrument == instrument })
}

func (c *Client) fetchAlerts(ctx context.Context, ids []string, keep func(model.Alert) bool) ([]model.Alert, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = alertKey(id)
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: mget alerts: %w", err)
	}
	alerts := make([]model.Alert, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var alert model.Alert
		if err := json.Unmarshal([]byte(s), &alert); err != nil {
			c.log.Warn().Err(err).Msg("kv_alert_parse_failed")
			continue
		}
		if alert.IsActive() && keep(alert) {
			alerts = append(alerts, alert)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt) })
	return alerts, nil
}

// RemoveAlert deletes an alert and cleans up its index entries.
func (c *Client) RemoveAlert(ctx context.Context, alertID string) error {
	alert, found, err := c.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, alertKey(alertID))
		pipe.SRem(ctx, keyAlertsActive, alertID)
		if found {
			pipe.SRem(ctx, alertsByPriorityKey(alert.Priority), alertID)
			pipe.SRem(ctx, alertsByInstrumentKey(alert.Instrument), alertID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: remove alert %s: %w", alertID, err)
	}
	return nil
}

func healthKey(exchange string) string { return fmt.Sprintf("%s:%s", keyHealth, exchange) }

// SetHealth stores an exchange's current health status under the current-state TTL.
func (c *Client) SetHealth(ctx context.Context, health model.HealthStatus) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("kv: marshal health: %w", err)
	}
	if err := c.rdb.Set(ctx, healthKey(health.Exchange), data, c.cfg.CurrentStateTTL).Err(); err != nil {
		return fmt.Errorf("kv: store health %s: %w", health.Exchange, err)
	}
	return nil
}

// GetHealth retrieves an exchange's health status, or (zero, false) if stale/absent.
func (c *Client) GetHealth(ctx context.Context, exchange string) (model.HealthStatus, bool, error) {
	data, err := c.rdb.Get(ctx, healthKey(exchange)).Bytes()
	if err == redis.Nil {
		return model.HealthStatus{}, false, nil
	}
	if err != nil {
		return model.HealthStatus{}, false, fmt.Errorf("kv: get health: %w", err)
	}
	var health model.HealthStatus
	if err := json.Unmarshal(data, &health); err != nil {
		return model.HealthStatus{}, false, fmt.Errorf("kv: unmarshal health: %w", err)
	}
	return health, true, nil
}

// GetAllHealth scans for every exchange's health status.
func (c *Client) GetAllHealth(ctx context.Context) (map[string]model.HealthStatus, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, keyHealth+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv: scan health keys: %w", err)
	}
	if len(keys) == 0 {
		return map[string]model.HealthStatus{}, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: mget health: %w", err)
	}
	out := make(map[string]model.HealthStatus, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var health model.HealthStatus
		if err := json.Unmarshal([]byte(s), &health); err != nil {
			c.log.Warn().Err(err).Msg("kv_health_parse_failed")
			continue
		}
		out[health.Exchange] = health
	}
	return out, nil
}

// updateEnvelope is the minimal identifier payload broadcast on the
// orderbook and metrics pub/sub channels; subscribers re-read full state
// from KV rather than receive it inline. The alerts and health channels
// carry the full JSON payload instead.
type updateEnvelope struct {
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishOrderBook announces that a fresh snapshot is available at
// orderbook:<exchange>:<instrument>.
func (c *Client) PublishOrderBook(ctx context.Context, snap model.OrderBookSnapshot) error {
	data, err := json.Marshal(updateEnvelope{Exchange: snap.Exchange, Instrument: snap.Instrument, Timestamp: snap.Timestamp})
	if err != nil {
		return fmt.Errorf("kv: marshal orderbook envelope: %w", err)
	}
	if err := c.rdb.Publish(ctx, ChannelOrderBook, data).Err(); err != nil {
		return fmt.Errorf("kv: publish orderbook: %w", err)
	}
	return nil
}

// PublishMetrics announces that fresh AggregatedMetrics are available.
func (c *Client) PublishMetrics(ctx context.Context, metrics model.AggregatedMetrics) error {
	data, err := json.Marshal(updateEnvelope{Exchange: metrics.Exchange, Instrument: metrics.Instrument, Timestamp: metrics.Timestamp})
	if err != nil {
		return fmt.Errorf("kv: marshal metrics envelope: %w", err)
	}
	if err := c.rdb.Publish(ctx, ChannelMetrics, data).Err(); err != nil {
		return fmt.Errorf("kv: publish metrics: %w", err)
	}
	return nil
}

// PublishAlert fans an alert out to the alerts pub/sub channel.
func (c *Client) PublishAlert(ctx context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("kv: marshal alert for publish: %w", err)
	}
	if err := c.rdb.Publish(ctx, ChannelAlerts, data).Err(); err != nil {
		return fmt.Errorf("kv: publish alert: %w", err)
	}
	return nil
}

// PublishHealth fans a health update out to the health pub/sub channel.
func (c *Client) PublishHealth(ctx context.Context, health model.HealthStatus) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("kv: marshal health for publish: %w", err)
	}
	if err := c.rdb.Publish(ctx, ChannelHealth, data).Err(); err != nil {
		return fmt.Errorf("kv: publish health: %w", err)
	}
	return nil
}

// Subscribe returns a raw go-redis PubSub for the given channels; callers
// drain pubsub.Channel() and must Close it when done.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
