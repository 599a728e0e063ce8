package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInstrumentsConfig_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(instrumentsYAML), 0o644))

	cfg, err := LoadInstrumentsConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Instruments, 2)
	spot, ok := cfg.SpotForPerp("BTC-USDT-PERP")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-SPOT", spot)
}

func TestInstrumentsConfig_ValidateRejectsDuplicateID(t *testing.T) {
	cfg := InstrumentsConfig{Instruments: []Instrument{
		{ID: "BTC-USDT-PERP", Type: InstrumentPerpetual},
		{ID: "BTC-USDT-PERP", Type: InstrumentSpot},
	}}
	assert.Error(t, cfg.Validate())
}

func TestInstrumentsConfig_ValidateRejectsUnknownType(t *testing.T) {
	cfg := InstrumentsConfig{Instruments: []Instrument{
		{ID: "BTC-USDT-PERP", Type: "future"},
	}}
	assert.Error(t, cfg.Validate())
}

func TestInstrumentsConfig_ValidateRejectsWronglyTypedBasisPair(t *testing.T) {
	cfg := InstrumentsConfig{
		Instruments: []Instrument{
			{ID: "A", Type: InstrumentSpot},
			{ID: "B", Type: InstrumentSpot},
		},
		BasisPairs: []BasisPair{{Perp: "A", Spot: "B"}},
	}
	assert.Error(t, cfg.Validate())
}

func TestInstrumentsConfig_SpotForPerp_NoMatch(t *testing.T) {
	cfg := InstrumentsConfig{}
	_, ok := cfg.SpotForPerp("BTC-USDT-PERP")
	assert.False(t, ok)
}

func TestInstrumentsConfig_EnabledInstruments(t *testing.T) {
	cfg := InstrumentsConfig{Instruments: []Instrument{
		{ID: "A", Type: InstrumentSpot, Enabled: true},
		{ID: "B", Type: InstrumentSpot, Enabled: false},
	}}
	assert.Len(t, cfg.EnabledInstruments(), 1)
}
