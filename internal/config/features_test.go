package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFeaturesConfig_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "features.yaml")
	require.NoError(t, os.WriteFile(path, []byte(featuresYAML), 0o644))

	cfg, err := LoadFeaturesConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.ZScore.WindowSize)
	assert.Equal(t, 30, cfg.ZScore.MinSamples)
}

func TestZScoreConfig_MinStdDecimal_DefaultsWhenBlank(t *testing.T) {
	cfg := ZScoreConfig{}
	d, err := cfg.MinStdDecimal()
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.0001")))
}

func TestZScoreConfig_MinStdDecimal_ParsesConfigured(t *testing.T) {
	cfg := ZScoreConfig{MinStd: "0.001"}
	d, err := cfg.MinStdDecimal()
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.001")))
}

func TestGapHandlingConfig_GapThreshold(t *testing.T) {
	cfg := GapHandlingConfig{GapThresholdSeconds: 30}
	assert.Equal(t, 30*time.Second, cfg.GapThreshold())
}

func TestFeaturesConfig_Validate_RejectsWindowSmallerThanMinSamples(t *testing.T) {
	cfg := FeaturesConfig{ZScore: ZScoreConfig{Enabled: true, WindowSize: 10, MinSamples: 30}}
	assert.Error(t, cfg.Validate())
}

func TestFeaturesConfig_Validate_RejectsBadLoggingFormat(t *testing.T) {
	cfg := FeaturesConfig{Logging: LoggingConfig{Format: "xml"}}
	assert.Error(t, cfg.Validate())
}

func TestFeaturesConfig_Validate_AcceptsDisabledZScoreRegardlessOfWindow(t *testing.T) {
	cfg := FeaturesConfig{ZScore: ZScoreConfig{Enabled: false, WindowSize: 0, MinSamples: 0}}
	assert.NoError(t, cfg.Validate())
}

func TestFeaturesConfig_KVTTLs(t *testing.T) {
	cfg := FeaturesConfig{Storage: StorageConfig{KV: KVStorageConfig{
		CurrentStateTTLSecs: 60,
		ZScoreBufferTTLSecs: 600,
	}}}
	currentState, zscoreBuffer := cfg.KVTTLs()
	assert.Equal(t, 60*time.Second, currentState)
	assert.Equal(t, 600*time.Second, zscoreBuffer)
}
