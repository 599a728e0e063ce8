package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InstrumentType distinguishes perpetual futures from spot instruments.
type InstrumentType string

const (
	InstrumentPerpetual InstrumentType = "perpetual"
	InstrumentSpot      InstrumentType = "spot"
)

// VenueSymbol maps one instrument to a venue's wire-format symbol and
// stream names.
type VenueSymbol struct {
	Symbol          string `yaml:"symbol"`
	Stream          string `yaml:"stream"`
	TickerStream    string `yaml:"ticker_stream,omitempty"`
	MarkPriceStream string `yaml:"mark_price_stream,omitempty"`
	InstType        string `yaml:"inst_type,omitempty"`
}

// Instrument is one tradable instrument's configuration across every venue
// that lists it.
type Instrument struct {
	ID           string                 `yaml:"id"`
	Name         string                 `yaml:"name"`
	Type         InstrumentType         `yaml:"type"`
	Base         string                 `yaml:"base"`
	Quote        string                 `yaml:"quote"`
	Enabled      bool                   `yaml:"enabled"`
	VenueSymbols map[string]VenueSymbol `yaml:"venue_symbols"`
	DepthLevels  int                    `yaml:"depth_levels"`
}

// BasisPair ties a perpetual instrument id to its spot counterpart for
// basis computation.
type BasisPair struct {
	Perp string `yaml:"perp"`
	Spot string `yaml:"spot"`
}

// InstrumentsConfig is the top-level instruments.yaml document.
type InstrumentsConfig struct {
	Instruments []Instrument `yaml:"instruments"`
	BasisPairs  []BasisPair  `yaml:"basis_pairs"`
}

// Validate checks instrument ids are unique, types are recognized, and
// basis pairs reference real, correctly-typed instruments.
func (c InstrumentsConfig) Validate() error {
	ids := make(map[string]Instrument, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.ID == "" {
			return fmt.Errorf("config: instrument missing id")
		}
		if _, dup := ids[inst.ID]; dup {
			return fmt.Errorf("config: duplicate instrument id %q", inst.ID)
		}
		if inst.Type != InstrumentPerpetual && inst.Type != InstrumentSpot {
			return fmt.Errorf("config: instrument %q has invalid type %q", inst.ID, inst.Type)
		}
		ids[inst.ID] = inst
	}
	for _, pair := range c.BasisPairs {
		perp, ok := ids[pair.Perp]
		if !ok {
			return fmt.Errorf("config: basis pair references unknown perp instrument %q", pair.Perp)
		}
		spot, ok := ids[pair.Spot]
		if !ok {
			return fmt.Errorf("config: basis pair references unknown spot instrument %q", pair.Spot)
		}
		if perp.Type != InstrumentPerpetual {
			return fmt.Errorf("config: basis pair perp %q is not type perpetual", pair.Perp)
		}
		if spot.Type != InstrumentSpot {
			return fmt.Errorf("config: basis pair spot %q is not type spot", pair.Spot)
		}
	}
	return nil
}

// EnabledInstruments returns only the instruments configured as enabled.
func (c InstrumentsConfig) EnabledInstruments() []Instrument {
	out := make([]Instrument, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Enabled {
			out = append(out, inst)
		}
	}
	return out
}

// SpotForPerp returns the configured spot counterpart instrument id for a
// perpetual, if any basis pair names one.
func (c InstrumentsConfig) SpotForPerp(perpID string) (string, bool) {
	for _, pair := range c.BasisPairs {
		if pair.Perp == perpID {
			return pair.Spot, true
		}
	}
	return "", false
}

// LoadInstrumentsConfig reads and validates instruments.yaml from path.
func LoadInstrumentsConfig(path string) (InstrumentsConfig, error) {
	var cfg InstrumentsConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read instruments config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse instruments config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: invalid instruments config: %w", err)
	}
	return cfg, nil
}
