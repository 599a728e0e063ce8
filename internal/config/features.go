package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ZScoreConfig mirrors features.zscore.
type ZScoreConfig struct {
	Enabled              bool   `yaml:"enabled"`
	WindowSize           int    `yaml:"window_size"`
	MinSamples           int    `yaml:"min_samples"`
	MinStd               string `yaml:"min_std"`
	WarmupLogInterval    int    `yaml:"warmup_log_interval"`
	ResetOnGap           bool   `yaml:"reset_on_gap"`
	ResetOnGapThreshold  int    `yaml:"reset_on_gap_threshold"`
}

// MinStdDecimal parses MinStd, defaulting to metrics.DefaultMinStd's value
// (0.0001) when left blank.
func (c ZScoreConfig) MinStdDecimal() (decimal.Decimal, error) {
	if c.MinStd == "" {
		return decimal.RequireFromString("0.0001"), nil
	}
	return decimal.NewFromString(c.MinStd)
}

// GapHandlingConfig mirrors features.gap_handling.
type GapHandlingConfig struct {
	MarkGaps            bool `yaml:"mark_gaps"`
	GapThresholdSeconds int  `yaml:"gap_threshold_seconds"`
	AlertOnGap          bool `yaml:"alert_on_gap"`
	TrackSequenceIDs    bool `yaml:"track_sequence_ids"`
}

// GapThreshold returns the configured time-gap threshold as a Duration.
func (c GapHandlingConfig) GapThreshold() time.Duration {
	return time.Duration(c.GapThresholdSeconds) * time.Second
}

// DataCaptureConfig mirrors features.data_capture.
type DataCaptureConfig struct {
	RealtimeIntervalMs   int `yaml:"realtime_interval_ms"`
	StorageIntervalSecs  int `yaml:"storage_interval_seconds"`
	DepthLevels          int `yaml:"depth_levels"`
}

// KVStorageConfig mirrors features.storage.kv.
type KVStorageConfig struct {
	CurrentStateTTLSecs int `yaml:"current_state_ttl_s"`
	ZScoreBufferTTLSecs int `yaml:"zscore_buffer_ttl_s"`
	AlertDedupTTLSecs   int `yaml:"alert_dedup_ttl_s"`
}

// TSDBStorageConfig mirrors features.storage.tsdb.
type TSDBStorageConfig struct {
	RetentionDays     map[string]int `yaml:"retention_days"`
	CompressAfterDays int            `yaml:"compress_after_days"`
}

// StorageConfig mirrors features.storage.
type StorageConfig struct {
	KV   KVStorageConfig   `yaml:"kv"`
	TSDB TSDBStorageConfig `yaml:"tsdb"`
}

// LoggingConfig mirrors features.logging.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// FeaturesConfig is the top-level features.yaml document.
type FeaturesConfig struct {
	ZScore      ZScoreConfig      `yaml:"zscore"`
	GapHandling GapHandlingConfig `yaml:"gap_handling"`
	DataCapture DataCaptureConfig `yaml:"data_capture"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Validate checks the zscore window/min-sample relationship and the
// logging format enum.
func (c FeaturesConfig) Validate() error {
	if c.ZScore.Enabled {
		if c.ZScore.WindowSize <= 0 {
			return fmt.Errorf("config: features.zscore.window_size must be positive")
		}
		if c.ZScore.MinSamples <= 0 {
			return fmt.Errorf("config: features.zscore.min_samples must be positive")
		}
		if c.ZScore.WindowSize < c.ZScore.MinSamples {
			return fmt.Errorf("config: features.zscore.window_size (%d) must be >= min_samples (%d)", c.ZScore.WindowSize, c.ZScore.MinSamples)
		}
		if _, err := c.ZScore.MinStdDecimal(); err != nil {
			return fmt.Errorf("config: features.zscore.min_std invalid: %w", err)
		}
	}
	switch c.Logging.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("config: features.logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// KVTTLs converts the KV TTL fields into the current-state and z-score
// buffer durations that kv.Config carries.
func (c FeaturesConfig) KVTTLs() (currentState, zscoreBuffer time.Duration) {
	currentState = time.Duration(c.Storage.KV.CurrentStateTTLSecs) * time.Second
	zscoreBuffer = time.Duration(c.Storage.KV.ZScoreBufferTTLSecs) * time.Second
	return
}

// LoadFeaturesConfig reads and validates features.yaml from path.
func LoadFeaturesConfig(path string) (FeaturesConfig, error) {
	var cfg FeaturesConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read features config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse features config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: invalid features config: %w", err)
	}
	return cfg, nil
}
