package tsdb

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/surveil/internal/model"
)

func newTestClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB, time.Second), mock
}

func testSnap(t *testing.T) model.OrderBookSnapshot {
	t.Helper()
	bid, err := model.NewPriceLevel(decimal.NewFromInt(100), decimal.NewFromInt(1))
	require.NoError(t, err)
	ask, err := model.NewPriceLevel(decimal.NewFromInt(101), decimal.NewFromInt(1))
	require.NoError(t, err)
	now := time.Now()
	snap, err := model.NewOrderBookSnapshot("binance", "BTC-USDT-PERP", now, now, 1, []model.PriceLevel{bid}, []model.PriceLevel{ask})
	require.NoError(t, err)
	return snap
}

func TestClient_Ping(t *testing.T) {
	c, mock := newTestClient(t)
	mock.ExpectPing()
	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_InsertOrderBookSnapshots(t *testing.T) {
	c, mock := newTestClient(t)
	snap := testSnap(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO order_book_snapshots").
		WithArgs(snap.Exchange, snap.Instrument, snap.Timestamp, snap.LocalTimestamp, snap.SequenceID,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := c.InsertOrderBookSnapshots(context.Background(), []model.OrderBookSnapshot{snap})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_InsertOrderBookSnapshots_Empty(t *testing.T) {
	c, _ := newTestClient(t)
	n, err := c.InsertOrderBookSnapshots(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestClient_QueryOrderBookSnapshots(t *testing.T) {
	c, mock := newTestClient(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"exchange", "instrument", "timestamp", "local_timestamp", "sequence_id", "bids_json", "asks_json"}).
		AddRow("binance", "BTC-USDT-PERP", now, now, int64(1), []byte(`[{"price":"100","quantity":"1"}]`), []byte(`[{"price":"101","quantity":"1"}]`))

	mock.ExpectQuery("SELECT exchange, instrument, timestamp, local_timestamp, sequence_id, bids_json, asks_json").
		WithArgs("binance", "BTC-USDT-PERP", now.Add(-time.Hour), now, 10).
		WillReturnRows(rows)

	snaps, err := c.QueryOrderBookSnapshots(context.Background(), "binance", "BTC-USDT-PERP", now.Add(-time.Hour), now, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "binance", snaps[0].Exchange)
}

func TestClient_InsertMetrics(t *testing.T) {
	c, mock := newTestClient(t)
	samples := []MetricSample{{
		Exchange:   "binance",
		Instrument: "BTC-USDT-PERP",
		Timestamp:  time.Now(),
		Value:      decimal.NewFromFloat(3.5),
	}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metrics").
		WithArgs("spread_bps", "binance", "BTC-USDT-PERP", sqlmock.AnyArg(), "3.5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := c.InsertMetrics(context.Background(), "spread_bps", samples)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClient_QueryMetrics(t *testing.T) {
	c, mock := newTestClient(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"exchange", "instrument", "timestamp", "value", "zscore"}).
		AddRow("binance", "BTC-USDT-PERP", now, "3.5", "2.1")

	mock.ExpectQuery("SELECT exchange, instrument, timestamp, value, zscore").
		WithArgs("spread_bps", "binance", "BTC-USDT-PERP", now.Add(-time.Hour), now).
		WillReturnRows(rows)

	samples, err := c.QueryMetrics(context.Background(), "spread_bps", "binance", "BTC-USDT-PERP", now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.NotNil(t, samples[0].ZScore)
	assert.True(t, samples[0].ZScore.Equal(decimal.NewFromFloat(2.1)))
}

func TestClient_InsertAlert(t *testing.T) {
	c, mock := newTestClient(t)
	alert, err := model.NewAlert("spread_warning", model.PriorityP2, model.SeverityWarning, "binance", "BTC-USDT-PERP", "spread_bps", decimal.NewFromInt(5), decimal.NewFromInt(3), model.ConditionGT, time.Now())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO alerts").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, c.InsertAlert(context.Background(), alert))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_UpdateAlertStatus(t *testing.T) {
	c, mock := newTestClient(t)
	mock.ExpectExec("UPDATE alerts SET").WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.UpdateAlertStatus(context.Background(), "alert-1", AlertStatusUpdate{Status: "resolved"})
	require.NoError(t, err)
}

func TestClient_InsertAndQueryGapMarkers(t *testing.T) {
	c, mock := newTestClient(t)
	now := time.Now()
	gap, err := model.NewGapMarker("binance", "BTC-USDT-PERP", now.Add(-time.Minute), now, "sequence_backwards", nil, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO data_gaps").WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, c.InsertGapMarker(context.Background(), gap))

	rows := sqlmock.NewRows([]string{"exchange", "instrument", "gap_start", "gap_end", "reason"}).
		AddRow("binance", "BTC-USDT-PERP", now.Add(-time.Minute), now, "sequence_backwards")
	mock.ExpectQuery("SELECT exchange, instrument, gap_start, gap_end, reason").
		WithArgs("binance", "BTC-USDT-PERP", now.Add(-time.Hour), now).
		WillReturnRows(rows)

	gaps, err := c.QueryGapMarkers(context.Background(), "binance", "BTC-USDT-PERP", now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "sequence_backwards", gaps[0].Reason)
}

func TestClient_GetActiveAlertsCount(t *testing.T) {
	c, mock := newTestClient(t)
	rows := sqlmock.NewRows([]string{"alert_type", "count"}).
		AddRow("spread_warning", int64(3)).
		AddRow("basis_warning", int64(1))

	mock.ExpectQuery("SELECT alert_type, COUNT").WillReturnRows(rows)

	counts, err := c.GetActiveAlertsCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["spread_warning"])
	assert.Equal(t, int64(1), counts["basis_warning"])
}
