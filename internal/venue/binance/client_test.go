package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/surveil/internal/config"
)

func testExchangeConfig(wsURL, restURL string) config.ExchangeConfig {
	return config.ExchangeConfig{
		Enabled:            true,
		WebsocketEndpoints: []string{wsURL},
		RestEndpoints:      []string{restURL},
		Connection: config.ConnectionConfig{
			RateLimit:      1200,
			ReconnectDelay: time.Second,
			MaxAttempts:    3,
			PingInterval:   20 * time.Second,
		},
	}
}

func TestNew_RequiresWebsocketEndpoint(t *testing.T) {
	_, err := New("binance", config.ExchangeConfig{}, true, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_SubscribeBindsInstrumentsAndBuildsStreamURL(t *testing.T) {
	c, err := New("binance", testExchangeConfig("wss://fstream.binance.com/stream", "https://fapi.binance.com"), true, zerolog.Nop())
	require.NoError(t, err)

	instruments := []config.Instrument{{
		ID:          "BTC-USDT-PERP",
		DepthLevels: 20,
		VenueSymbols: map[string]config.VenueSymbol{
			"binance": {Symbol: "BTCUSDT", Stream: "btcusdt@depth@100ms"},
		},
	}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))

	binding, ok := c.bindingForSymbol("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-PERP", binding.InstrumentID)
	assert.Equal(t, 20, binding.DepthLevels)
	assert.Contains(t, c.streamURL(), "btcusdt@depth@100ms")
}

func TestClient_SubscribeDefaultsDepthWhenUnset(t *testing.T) {
	c, err := New("binance", testExchangeConfig("wss://x", "https://x"), true, zerolog.Nop())
	require.NoError(t, err)

	instruments := []config.Instrument{{
		ID: "BTC-USDT-PERP",
		VenueSymbols: map[string]config.VenueSymbol{
			"binance": {Symbol: "BTCUSDT", Stream: "btcusdt@depth@100ms"},
		},
	}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))
	binding, _ := c.bindingForSymbol("BTCUSDT")
	assert.Equal(t, 20, binding.DepthLevels)
}

func TestClient_SubscribeSkipsInstrumentsWithoutThisVenue(t *testing.T) {
	c, err := New("binance", testExchangeConfig("wss://x", "https://x"), true, zerolog.Nop())
	require.NoError(t, err)

	instruments := []config.Instrument{{ID: "ETH-USDT-PERP", VenueSymbols: map[string]config.VenueSymbol{
		"okx": {Symbol: "ETH-USDT-SWAP"},
	}}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))
	_, ok := c.bindingForSymbol("ETH-USDT-SWAP")
	assert.False(t, ok)
}

func TestClient_DetectGap_DelegatesToVenuePackage(t *testing.T) {
	c, err := New("binance", testExchangeConfig("wss://x", "https://x"), true, zerolog.Nop())
	require.NoError(t, err)

	reason, isGap := c.DetectGap(10, 9)
	assert.True(t, isGap)
	assert.Equal(t, "sequence_backwards", reason)

	reason, isGap = c.DetectGap(10, 11)
	assert.False(t, isGap)
	assert.Empty(t, reason)
}

func TestClient_HealthCheck_ReflectsCountersAndState(t *testing.T) {
	c, err := New("binance", testExchangeConfig("wss://x", "https://x"), true, zerolog.Nop())
	require.NoError(t, err)

	c.gapTimestamps = []time.Time{time.Now(), time.Now()}
	c.reconnectCount = 1
	health := c.HealthCheck()
	assert.Equal(t, "binance", health.Exchange)
	assert.Equal(t, 2, health.GapsLastHour)
	assert.Equal(t, 1, health.ReconnectCount)
}

func TestClient_GetOrderBookREST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(restDepthResponse{
			LastUpdateID: 42,
			Bids:         []rawLevel{{"100", "1"}},
			Asks:         []rawLevel{{"101", "1"}},
		})
	}))
	defer server.Close()

	c, err := New("binance", testExchangeConfig("wss://x", server.URL), true, zerolog.Nop())
	require.NoError(t, err)
	instruments := []config.Instrument{{
		ID: "BTC-USDT-PERP", DepthLevels: 20,
		VenueSymbols: map[string]config.VenueSymbol{"binance": {Symbol: "BTCUSDT"}},
	}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))

	snap, err := c.GetOrderBookREST(context.Background(), "BTC-USDT-PERP", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.SequenceID)
	assert.Len(t, snap.Bids, 1)
}

func TestClient_GetOrderBookREST_UnknownInstrument(t *testing.T) {
	c, err := New("binance", testExchangeConfig("wss://x", "https://x"), true, zerolog.Nop())
	require.NoError(t, err)
	_, err = c.GetOrderBookREST(context.Background(), "NOPE", 20)
	assert.Error(t, err)
}

func TestClient_GetTickerREST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"symbol": "BTCUSDT", "bidPrice": "100.1", "askPrice": "100.2",
		})
	}))
	defer server.Close()

	c, err := New("binance", testExchangeConfig("wss://x", server.URL), true, zerolog.Nop())
	require.NoError(t, err)
	instruments := []config.Instrument{{
		ID: "BTC-USDT-PERP",
		VenueSymbols: map[string]config.VenueSymbol{"binance": {Symbol: "BTCUSDT"}},
	}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))

	update, err := c.GetTickerREST(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT-PERP", update.Instrument)
	assert.False(t, update.BestBid.IsZero())
}

func TestClient_HandleFuturesDepth_InSequenceAppliesDiffAndPublishes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(restDepthResponse{
			LastUpdateID: 100,
			Bids:         []rawLevel{{"100", "1"}},
			Asks:         []rawLevel{{"101", "1"}},
		})
	}))
	defer server.Close()

	c, err := New("binance", testExchangeConfig("wss://x", server.URL), true, zerolog.Nop())
	require.NoError(t, err)
	instruments := []config.Instrument{{
		ID: "BTC-USDT-PERP", DepthLevels: 20,
		VenueSymbols: map[string]config.VenueSymbol{"binance": {Symbol: "BTCUSDT", Stream: "btcusdt@depth@100ms"}},
	}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))
	binding, _ := c.bindingForSymbol("BTCUSDT")

	// First event resyncs since book isn't synced yet.
	first := mustMarshal(t, futuresDepthEvent{FirstUpdateID: 95, FinalUpdateID: 101, PrevFinalID: 94, EventTime: time.Now().UnixMilli()})
	require.NoError(t, c.handleFuturesDepth(context.Background(), binding, first))

	book := c.bookFor("BTC-USDT-PERP")
	assert.True(t, book.synced)

	// Second event is in-sequence: PrevFinalID must equal lastUpdateID.
	second := mustMarshal(t, futuresDepthEvent{
		FirstUpdateID: book.lastUpdateID + 1, FinalUpdateID: book.lastUpdateID + 2, PrevFinalID: book.lastUpdateID,
		Bids: []rawLevel{{"99", "2"}}, EventTime: time.Now().UnixMilli(),
	})
	require.NoError(t, c.handleFuturesDepth(context.Background(), binding, second))
	assert.Equal(t, int64(103), book.lastUpdateID)

	select {
	case snap := <-c.orderBookCh:
		assert.Equal(t, "BTC-USDT-PERP", snap.Instrument)
	case <-time.After(time.Second):
		t.Fatal("expected a published snapshot")
	}
}

func TestClient_HandleFuturesDepth_GapTriggersResync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(restDepthResponse{
			LastUpdateID: 500,
			Bids:         []rawLevel{{"100", "1"}},
			Asks:         []rawLevel{{"101", "1"}},
		})
	}))
	defer server.Close()

	c, err := New("binance", testExchangeConfig("wss://x", server.URL), true, zerolog.Nop())
	require.NoError(t, err)
	instruments := []config.Instrument{{
		ID: "BTC-USDT-PERP", DepthLevels: 20,
		VenueSymbols: map[string]config.VenueSymbol{"binance": {Symbol: "BTCUSDT", Stream: "btcusdt@depth@100ms"}},
	}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))
	binding, _ := c.bindingForSymbol("BTCUSDT")

	book := c.bookFor("BTC-USDT-PERP")
	book.synced = true
	book.lastUpdateID = 100

	// A PrevFinalID that doesn't match and is backwards relative to our
	// last applied id is a detected gap, forcing a resync via REST. Note
	// FinalUpdateID must stay >= lastUpdateID or the event is dropped as
	// stale before the gap check ever runs.
	ev := mustMarshal(t, futuresDepthEvent{FirstUpdateID: 51, FinalUpdateID: 150, PrevFinalID: 50, EventTime: time.Now().UnixMilli()})
	require.NoError(t, c.handleFuturesDepth(context.Background(), binding, ev))

	select {
	case marker := <-c.gapCh:
		assert.Equal(t, "sequence_backwards", marker.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a gap marker")
	}
	assert.Equal(t, int64(500), book.lastUpdateID)
}

func TestClient_HandleSpotDepth_FullResendEachMessage(t *testing.T) {
	c, err := New("binance", testExchangeConfig("wss://x", "https://x"), false, zerolog.Nop())
	require.NoError(t, err)
	instruments := []config.Instrument{{
		ID: "BTC-USDT-SPOT", DepthLevels: 20,
		VenueSymbols: map[string]config.VenueSymbol{"binance": {Symbol: "BTCUSDT", Stream: "btcusdt@depth20"}},
	}}
	require.NoError(t, c.Subscribe(context.Background(), instruments))
	binding, _ := c.bindingForSymbol("BTCUSDT")

	ev := mustMarshal(t, spotDepthEvent{LastUpdateID: 10, Bids: []rawLevel{{"100", "1"}}, Asks: []rawLevel{{"101", "1"}}})
	require.NoError(t, c.handleSpotDepth(context.Background(), binding, ev))

	book := c.bookFor("BTC-USDT-SPOT")
	assert.True(t, book.synced)
	assert.Equal(t, int64(10), book.lastUpdateID)

	select {
	case snap := <-c.orderBookCh:
		assert.Equal(t, "BTC-USDT-SPOT", snap.Instrument)
	case <-time.After(time.Second):
		t.Fatal("expected a published snapshot")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
