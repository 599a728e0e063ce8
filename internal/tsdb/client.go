// Package tsdb provides a TimescaleDB-backed historical store for order
// book snapshots, computed metrics, alert lifecycle history, and data gap
// markers, using database/sql through sqlx and lib/pq.
package tsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/surveil/internal/model"
)

const defaultBatchSize = 100

// Client is a historical (TimescaleDB) store for surveillance data.
type Client struct {
	db        *sqlx.DB
	timeout   time.Duration
	batchSize int
}

// Open connects to Postgres/TimescaleDB using a standard DSN.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("tsdb: connect: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{db: db, timeout: timeout, batchSize: defaultBatchSize}, nil
}

// New wraps an already-open sqlx.DB, e.g. one built over a sqlmock in tests.
func New(db *sqlx.DB, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{db: db, timeout: timeout, batchSize: defaultBatchSize}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.db.PingContext(ctx)
}

type priceLevelJSON struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

func levelsToJSON(levels []model.PriceLevel) ([]byte, error) {
	out := make([]priceLevelJSON, len(levels))
	for i, lvl := range levels {
		out[i] = priceLevelJSON{Price: lvl.Price.String(), Quantity: lvl.Quantity.String()}
	}
	return json.Marshal(out)
}

func jsonToLevels(data []byte) ([]model.PriceLevel, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []priceLevelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	levels := make([]model.PriceLevel, len(raw))
	for i, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, err
		}
		levels[i] = model.PriceLevel{Price: price, Quantity: qty}
	}
	return levels, nil
}

// InsertOrderBookSnapshots batch-inserts snapshots into order_book_snapshots.
func (c *Client) InsertOrderBookSnapshots(ctx context.Context, snapshots []model.OrderBookSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("tsdb: begin orderbook insert: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO order_book_snapshots (
			exchange, instrument, timestamp, local_timestamp, sequence_id,
			best_bid, best_ask, mid_price, spread_abs, spread_bps,
			bids_json, asks_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	inserted := 0
	for _, snap := range snapshots {
		bidsJSON, err := levelsToJSON(snap.Bids)
		if err != nil {
			return inserted, fmt.Errorf("tsdb: marshal bids: %w", err)
		}
		asksJSON, err := levelsToJSON(snap.Asks)
		if err != nil {
			return inserted, fmt.Errorf("tsdb: marshal asks: %w", err)
		}

		bestBid, bidOK := snap.BestBid()
		bestAsk, askOK := snap.BestAsk()
		mid, midOK := snap.MidPrice()
		spreadAbs, spreadOK := snap.Spread()
		spreadBps, bpsOK := snap.SpreadBps()

		if _, err := tx.ExecContext(ctx, query,
			snap.Exchange, snap.Instrument, snap.Timestamp, snap.LocalTimestamp, snap.SequenceID,
			nullableDecimal(bestBid.Price, bidOK), nullableDecimal(bestAsk.Price, askOK), nullableDecimal(mid, midOK),
			nullableDecimal(spreadAbs, spreadOK), nullableDecimal(spreadBps, bpsOK),
			bidsJSON, asksJSON,
		); err != nil {
			return inserted, fmt.Errorf("tsdb: insert orderbook snapshot: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("tsdb: commit orderbook insert: %w", err)
	}
	return inserted, nil
}

func nullableDecimal(d decimal.Decimal, ok bool) sql.NullString {
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// QueryOrderBookSnapshots returns snapshots for an instrument within
// [startTime, endTime], newest first, bounded by limit.
func (c *Client) QueryOrderBookSnapshots(ctx context.Context, exchange, instrument string, startTime, endTime time.Time, limit int) ([]model.OrderBookSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `
		SELECT exchange, instrument, timestamp, local_timestamp, sequence_id, bids_json, asks_json
		FROM order_book_snapshots
		WHERE exchange = $1 AND instrument = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp DESC
		LIMIT $5`

	rows, err := c.db.QueryxContext(ctx, query, exchange, instrument, startTime, endTime, limit)
	if err != nil {
		return nil, fmt.Errorf("tsdb: query orderbook snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.OrderBookSnapshot
	for rows.Next() {
		var exch, inst string
		var ts, localTS time.Time
		var seqID int64
		var bidsJSON, asksJSON []byte
		if err := rows.Scan(&exch, &inst, &ts, &localTS, &seqID, &bidsJSON, &asksJSON); err != nil {
			return nil, fmt.Errorf("tsdb: scan orderbook snapshot: %w", err)
		}
		bids, err := jsonToLevels(bidsJSON)
		if err != nil {
			return nil, fmt.Errorf("tsdb: unmarshal bids: %w", err)
		}
		asks, err := jsonToLevels(asksJSON)
		if err != nil {
			return nil, fmt.Errorf("tsdb: unmarshal asks: %w", err)
		}
		snap, err := model.NewOrderBookSnapshot(exch, inst, ts, localTS, seqID, bids, asks)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// MetricSample is one (exchange, instrument, timestamp) -> (value, zscore) row.
type MetricSample struct {
	Exchange   string
	Instrument string
	Timestamp  time.Time
	Value      decimal.Decimal
	ZScore     *decimal.Decimal
}

// InsertMetrics batch-inserts named metric samples into the generic metrics table.
func (c *Client) InsertMetrics(ctx context.Context, metricName string, samples []MetricSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("tsdb: begin metrics insert: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO metrics (metric_name, exchange, instrument, timestamp, value, zscore)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, s := range samples {
		var zscore sql.NullString
		if s.ZScore != nil {
			zscore = sql.NullString{String: s.ZScore.String(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query, metricName, s.Exchange, s.Instrument, s.Timestamp, s.Value.String(), zscore); err != nil {
			return 0, fmt.Errorf("tsdb: insert metric %s: %w", metricName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("tsdb: commit metrics insert: %w", err)
	}
	return len(samples), nil
}

// QueryMetrics returns samples for metricName/exchange/instrument within the
// time range, ascending by timestamp.
func (c *Client) QueryMetrics(ctx context.Context, metricName, exchange, instrument string, startTime, endTime time.Time) ([]MetricSample, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `
		SELECT exchange, instrument, timestamp, value, zscore
		FROM metrics
		WHERE metric_name = $1 AND exchange = $2 AND instrument = $3
		  AND timestamp >= $4 AND timestamp <= $5
		ORDER BY timestamp ASC`

	rows, err := c.db.QueryxContext(ctx, query, metricName, exchange, instrument, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("tsdb: query metrics %s: %w", metricName, err)
	}
	defer rows.Close()

	var samples []MetricSample
	for rows.Next() {
		var exch, inst, value string
		var ts time.Time
		var zscore sql.NullString
		if err := rows.Scan(&exch, &inst, &ts, &value, &zscore); err != nil {
			return nil, fmt.Errorf("tsdb: scan metric: %w", err)
		}
		v, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("tsdb: parse metric value: %w", err)
		}
		sample := MetricSample{Exchange: exch, Instrument: inst, Timestamp: ts, Value: v}
		if zscore.Valid {
			z, err := decimal.NewFromString(zscore.String)
			if err != nil {
				return nil, fmt.Errorf("tsdb: parse metric zscore: %w", err)
			}
			sample.ZScore = &z
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// BasisSample is one basis_metrics row: perp/spot mids and the computed
// basis for one (perp instrument, venue, timestamp).
type BasisSample struct {
	PerpInstrument string
	SpotInstrument string
	Exchange       string
	Timestamp      time.Time
	PerpMid        decimal.Decimal
	SpotMid        decimal.Decimal
	BasisAbs       decimal.Decimal
	BasisBps       decimal.Decimal
	ZScore         *decimal.Decimal
}

// InsertBasisMetrics batch-inserts basis samples into the dedicated
// basis_metrics table (distinct from the generic metrics table since basis
// carries both legs' mids).
func (c *Client) InsertBasisMetrics(ctx context.Context, samples []BasisSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("tsdb: begin basis metrics insert: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO basis_metrics (perp_instrument, spot_instrument, exchange, timestamp, perp_mid, spot_mid, basis_abs, basis_bps, zscore)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, s := range samples {
		var zscore sql.NullString
		if s.ZScore != nil {
			zscore = sql.NullString{String: s.ZScore.String(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query,
			s.PerpInstrument, s.SpotInstrument, s.Exchange, s.Timestamp,
			s.PerpMid.String(), s.SpotMid.String(), s.BasisAbs.String(), s.BasisBps.String(), zscore,
		); err != nil {
			return 0, fmt.Errorf("tsdb: insert basis metric: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("tsdb: commit basis metrics insert: %w", err)
	}
	return len(samples), nil
}

// InsertAlert records an alert at creation time (lifecycle updates use UpdateAlertStatus).
func (c *Client) InsertAlert(ctx context.Context, alert model.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var zscoreValue, zscoreThreshold sql.NullString
	if alert.ZScoreValue != nil {
		zscoreValue = sql.NullString{String: alert.ZScoreValue.String(), Valid: true}
	}
	if alert.ZScoreThreshold != nil {
		zscoreThreshold = sql.NullString{String: alert.ZScoreThreshold.String(), Valid: true}
	}

	const query = `
		INSERT INTO alerts (
			alert_id, alert_type, priority, severity, exchange, instrument,
			trigger_metric, trigger_value, trigger_threshold, trigger_condition,
			zscore_value, zscore_threshold, triggered_at, peak_value, peak_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'active')`

	var peakValue, peakAt any
	if alert.PeakValue != nil {
		peakValue = alert.PeakValue.String()
	}
	if alert.PeakAt != nil {
		peakAt = *alert.PeakAt
	}

	_, err := c.db.ExecContext(ctx, query,
		alert.AlertID, alert.AlertType, string(alert.Priority), string(alert.Severity), alert.Exchange, alert.Instrument,
		alert.TriggerMetric, alert.TriggerValue.String(), alert.TriggerThreshold.String(), string(alert.TriggerCondition),
		zscoreValue, zscoreThreshold, alert.TriggeredAt, peakValue, peakAt,
	)
	if err != nil {
		return fmt.Errorf("tsdb: insert alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// AlertStatusUpdate describes the lifecycle fields that change on an alert
// event (resolution, escalation, or peak update).
type AlertStatusUpdate struct {
	Status           string
	ResolvedAt       *time.Time
	ResolutionType   string
	ResolutionValue  *decimal.Decimal
	DurationSeconds  *int
	Escalated        bool
	EscalatedAt      *time.Time
	NewPriority      *model.AlertPriority
	OriginalPriority *model.AlertPriority
	PeakValue        *decimal.Decimal
	PeakAt           *time.Time
}

// UpdateAlertStatus records a lifecycle transition for alertID.
func (c *Client) UpdateAlertStatus(ctx context.Context, alertID string, update AlertStatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `
		UPDATE alerts SET
			status = $2,
			resolved_at = COALESCE($3, resolved_at),
			resolution_type = COALESCE(NULLIF($4, ''), resolution_type),
			resolution_value = COALESCE($5, resolution_value),
			duration_seconds = COALESCE($6, duration_seconds),
			escalated = escalated OR $7,
			escalated_at = COALESCE($8, escalated_at),
			priority = COALESCE($9, priority),
			original_priority = COALESCE($10, original_priority),
			peak_value = COALESCE($11, peak_value),
			peak_at = COALESCE($12, peak_at)
		WHERE alert_id = $1`

	var resolutionValue, peakValue any
	if update.ResolutionValue != nil {
		resolutionValue = update.ResolutionValue.String()
	}
	if update.PeakValue != nil {
		peakValue = update.PeakValue.String()
	}
	var newPriority, originalPriority any
	if update.NewPriority != nil {
		newPriority = string(*update.NewPriority)
	}
	if update.OriginalPriority != nil {
		originalPriority = string(*update.OriginalPriority)
	}

	_, err := c.db.ExecContext(ctx, query,
		alertID, update.Status, update.ResolvedAt, update.ResolutionType, resolutionValue,
		update.DurationSeconds, update.Escalated, update.EscalatedAt, newPriority, originalPriority,
		peakValue, update.PeakAt,
	)
	if err != nil {
		return fmt.Errorf("tsdb: update alert status %s: %w", alertID, err)
	}
	return nil
}

// InsertGapMarker records a detected data gap.
func (c *Client) InsertGapMarker(ctx context.Context, gap model.GapMarker) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `
		INSERT INTO data_gaps (exchange, instrument, gap_start, gap_end, reason, sequence_gap_size)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var seqGapSize sql.NullInt64
	if size, ok := gap.SequenceGapSize(); ok {
		seqGapSize = sql.NullInt64{Int64: size, Valid: true}
	}

	_, err := c.db.ExecContext(ctx, query, gap.Exchange, gap.Instrument, gap.GapStart, gap.GapEnd, gap.Reason, seqGapSize)
	if err != nil {
		return fmt.Errorf("tsdb: insert gap marker: %w", err)
	}
	return nil
}

// QueryGapMarkers returns gap markers for an instrument within a time range.
func (c *Client) QueryGapMarkers(ctx context.Context, exchange, instrument string, startTime, endTime time.Time) ([]model.GapMarker, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `
		SELECT exchange, instrument, gap_start, gap_end, reason
		FROM data_gaps
		WHERE exchange = $1 AND instrument = $2 AND gap_start >= $3 AND gap_start <= $4
		ORDER BY gap_start DESC`

	rows, err := c.db.QueryxContext(ctx, query, exchange, instrument, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("tsdb: query gap markers: %w", err)
	}
	defer rows.Close()

	var gaps []model.GapMarker
	for rows.Next() {
		var exch, inst, reason string
		var gapStart, gapEnd time.Time
		if err := rows.Scan(&exch, &inst, &gapStart, &gapEnd, &reason); err != nil {
			return nil, fmt.Errorf("tsdb: scan gap marker: %w", err)
		}
		gap, err := model.NewGapMarker(exch, inst, gapStart, gapEnd, reason, nil, nil)
		if err != nil {
			continue
		}
		gaps = append(gaps, gap)
	}
	return gaps, rows.Err()
}

// GetActiveAlertsCount returns the count of currently active alerts by alert type.
func (c *Client) GetActiveAlertsCount(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `
		SELECT alert_type, COUNT(*)
		FROM alerts
		WHERE status = 'active'
		GROUP BY alert_type`

	rows, err := c.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tsdb: query active alert counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var alertType string
		var count int64
		if err := rows.Scan(&alertType, &count); err != nil {
			return nil, fmt.Errorf("tsdb: scan active alert count: %w", err)
		}
		counts[alertType] = count
	}
	return counts, rows.Err()
}
