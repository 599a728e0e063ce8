package config

import (
	"fmt"
	"path/filepath"
)

// Config bundles the four declarative documents loaded from one CONFIG_PATH
// directory: exchanges.yaml, instruments.yaml, alerts.yaml, features.yaml.
type Config struct {
	Exchanges   ExchangesConfig
	Instruments InstrumentsConfig
	Alerts      AlertsConfig
	Features    FeaturesConfig
}

// Load reads and validates all four documents from dir, failing fatally at
// the startup boundary if any is missing or malformed.
func Load(dir string) (Config, error) {
	var cfg Config
	var err error

	cfg.Exchanges, err = LoadExchangesConfig(filepath.Join(dir, "exchanges.yaml"))
	if err != nil {
		return cfg, err
	}
	cfg.Instruments, err = LoadInstrumentsConfig(filepath.Join(dir, "instruments.yaml"))
	if err != nil {
		return cfg, err
	}
	cfg.Alerts, err = LoadAlertsConfig(filepath.Join(dir, "alerts.yaml"))
	if err != nil {
		return cfg, err
	}
	cfg.Features, err = LoadFeaturesConfig(filepath.Join(dir, "features.yaml"))
	if err != nil {
		return cfg, err
	}

	if err := cfg.crossValidate(); err != nil {
		return cfg, fmt.Errorf("config: cross-document validation failed: %w", err)
	}
	return cfg, nil
}

// crossValidate checks references between documents that each document
// can't validate on its own: every instrument's venue_symbols must name an
// exchange present in exchanges.yaml.
func (c Config) crossValidate() error {
	for _, inst := range c.Instruments.Instruments {
		for venue := range inst.VenueSymbols {
			if _, ok := c.Exchanges.Exchanges[venue]; !ok {
				return fmt.Errorf("instrument %q references unknown exchange %q", inst.ID, venue)
			}
		}
	}
	return nil
}
