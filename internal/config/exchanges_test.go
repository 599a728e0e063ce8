package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadExchangesConfig_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exchanges.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exchangesYAML), 0o644))

	cfg, err := LoadExchangesConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Exchanges["binance"].Enabled)
	assert.False(t, cfg.Exchanges["okx"].Enabled)
}

func TestLoadExchangesConfig_MissingFile(t *testing.T) {
	_, err := LoadExchangesConfig("/nonexistent/exchanges.yaml")
	assert.Error(t, err)
}

func TestExchangesConfig_ValidateIgnoresDisabledExchanges(t *testing.T) {
	cfg := ExchangesConfig{Exchanges: map[string]ExchangeConfig{
		"okx": {Enabled: false},
	}}
	assert.NoError(t, cfg.Validate())
}

func TestExchangesConfig_ValidateRejectsNonPositiveReconnectDelay(t *testing.T) {
	cfg := ExchangesConfig{Exchanges: map[string]ExchangeConfig{
		"binance": {
			Enabled:            true,
			WebsocketEndpoints: []string{"wss://example"},
			Connection:         ConnectionConfig{MaxAttempts: 5, ReconnectDelay: 0},
		},
	}}
	assert.Error(t, cfg.Validate())
}

func TestExchangesConfig_EnabledExchanges(t *testing.T) {
	cfg := ExchangesConfig{Exchanges: map[string]ExchangeConfig{
		"binance": {Enabled: true},
		"okx":     {Enabled: false},
	}}
	enabled := cfg.EnabledExchanges()
	assert.Len(t, enabled, 1)
	_, ok := enabled["binance"]
	assert.True(t, ok)
}
