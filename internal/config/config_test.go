package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangesYAML = `
exchanges:
  binance:
    enabled: true
    websocket_endpoints: ["wss://fstream.binance.com/ws"]
    rest_endpoints: ["https://fapi.binance.com"]
    connection:
      rate_limit: 1200
      reconnect_delay: 1s
      max_attempts: 10
      ping_interval: 20s
      ping_timeout: 10s
    streams:
      orderbook_depth: 20
      speed: 100ms
      channel: depth
  okx:
    enabled: false
    websocket_endpoints: []
    connection:
      rate_limit: 20
      reconnect_delay: 1s
      max_attempts: 5
      ping_interval: 20s
      ping_timeout: 10s
`

const instrumentsYAML = `
instruments:
  - id: BTC-USDT-PERP
    name: Bitcoin Perpetual
    type: perpetual
    base: BTC
    quote: USDT
    enabled: true
    depth_levels: 20
    venue_symbols:
      binance:
        symbol: BTCUSDT
        stream: btcusdt@depth@100ms
  - id: BTC-USDT-SPOT
    name: Bitcoin Spot
    type: spot
    base: BTC
    quote: USDT
    enabled: true
    depth_levels: 20
    venue_symbols:
      binance:
        symbol: BTCUSDT
        stream: btcusdt@depth20
basis_pairs:
  - perp: BTC-USDT-PERP
    spot: BTC-USDT-SPOT
`

const alertsYAML = `
global:
  throttle_s: 60
  dedup_window_s: 120
  auto_resolve: true
priorities:
  P1:
    channels: ["console", "slack"]
  P2:
    channels: ["console"]
    escalation: 300
definitions:
  spread_warning:
    name: Spread Warning
    metric_name: spread_bps
    default_priority: P2
    severity: warning
    condition: gt
    requires_zscore: true
    enabled: true
thresholds:
  "*":
    spread_warning:
      threshold: "3.0"
      zscore_threshold: "2.0"
channels:
  console:
    type: console
`

const featuresYAML = `
zscore:
  enabled: true
  window_size: 300
  min_samples: 30
  min_std: "0.0001"
  reset_on_gap: true
gap_handling:
  mark_gaps: true
  gap_threshold_seconds: 30
  alert_on_gap: true
data_capture:
  realtime_interval_ms: 1000
  storage_interval_seconds: 1
storage:
  kv:
    current_state_ttl_s: 60
    zscore_buffer_ttl_s: 600
    alert_dedup_ttl_s: 120
  tsdb:
    retention_days:
      metrics: 30
logging:
  format: json
  level: info
`

func writeConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"exchanges.yaml":   exchangesYAML,
		"instruments.yaml": instrumentsYAML,
		"alerts.yaml":      alertsYAML,
		"features.yaml":    featuresYAML,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoad_AllFourDocuments(t *testing.T) {
	dir := writeConfigDir(t)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Len(t, cfg.Exchanges.EnabledExchanges(), 1)
	assert.Len(t, cfg.Instruments.EnabledInstruments(), 2)
	assert.True(t, cfg.Features.ZScore.Enabled)
	assert.Contains(t, cfg.Alerts.Definitions, "spread_warning")
}

func TestLoad_CrossValidationCatchesUnknownExchange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exchanges.yaml"), []byte(exchangesYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alerts.yaml"), []byte(alertsYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "features.yaml"), []byte(featuresYAML), 0o644))

	badInstruments := `
instruments:
  - id: BTC-USDT-PERP
    name: Bitcoin Perpetual
    type: perpetual
    base: BTC
    quote: USDT
    enabled: true
    venue_symbols:
      kraken:
        symbol: XBTUSDT
        stream: book
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instruments.yaml"), []byte(badInstruments), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestExchangesConfig_ValidateRejectsMissingEndpoints(t *testing.T) {
	cfg := ExchangesConfig{Exchanges: map[string]ExchangeConfig{
		"binance": {Enabled: true, Connection: ConnectionConfig{MaxAttempts: 5, ReconnectDelay: 1}},
	}}
	assert.Error(t, cfg.Validate())
}

func TestInstrumentsConfig_BasisPairValidation(t *testing.T) {
	cfg := InstrumentsConfig{
		Instruments: []Instrument{
			{ID: "BTC-USDT-PERP", Type: InstrumentPerpetual},
			{ID: "BTC-USDT-SPOT", Type: InstrumentSpot},
		},
		BasisPairs: []BasisPair{{Perp: "BTC-USDT-PERP", Spot: "BTC-USDT-SPOT"}},
	}
	assert.NoError(t, cfg.Validate())

	spot, ok := cfg.SpotForPerp("BTC-USDT-PERP")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-SPOT", spot)

	badCfg := InstrumentsConfig{
		Instruments: []Instrument{{ID: "BTC-USDT-PERP", Type: InstrumentPerpetual}},
		BasisPairs:  []BasisPair{{Perp: "BTC-USDT-PERP", Spot: "UNKNOWN"}},
	}
	assert.Error(t, badCfg.Validate())
}

func TestAlertsConfig_RequiresZScoreThresholdConfigured(t *testing.T) {
	cfg := AlertsConfig{
		Definitions: map[string]AlertDefinitionConfig{
			"spread_warning": {Condition: "gt", RequiresZScore: true},
		},
		Thresholds: map[string]map[string]ThresholdConfig{},
	}
	assert.Error(t, cfg.Validate())

	cfg.Thresholds = map[string]map[string]ThresholdConfig{
		"*": {"spread_warning": {Threshold: "3.0", ZScoreThreshold: strPtr("2.0")}},
	}
	assert.NoError(t, cfg.Validate())
}

func TestAlertsConfig_DefinitionsForInstrument_WildcardFallback(t *testing.T) {
	cfg := AlertsConfig{
		Definitions: map[string]AlertDefinitionConfig{
			"spread_warning": {Condition: "gt", Enabled: true, MetricName: "spread_bps", DefaultPriority: "P2", Severity: "warning"},
		},
		Thresholds: map[string]map[string]ThresholdConfig{
			"*": {"spread_warning": {Threshold: "3.0"}},
		},
	}
	defs, thresholds, err := cfg.DefinitionsForInstrument("BTC-USDT-PERP")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Contains(t, thresholds, "spread_warning")
	assert.True(t, thresholds["spread_warning"].Threshold.Equal(decimal.NewFromFloat(3.0)))
}

func strPtr(s string) *string { return &s }
