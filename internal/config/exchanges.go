// Package config loads the four declarative YAML documents this system is
// configured from (exchanges, instruments, alerts, features), one struct per
// document, validated at load time the way
// internal/config/providers.go's ProvidersConfig is in the teacher repo.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig is per-venue transport tuning.
type ConnectionConfig struct {
	RateLimit      int           `yaml:"rate_limit"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
}

// StreamsConfig names the channel/depth/speed parameters for a venue's feeds.
type StreamsConfig struct {
	OrderbookDepth int    `yaml:"orderbook_depth"`
	Speed          string `yaml:"speed"`
	Channel        string `yaml:"channel"`
}

// ExchangeConfig is one venue's full connection configuration.
type ExchangeConfig struct {
	Enabled            bool             `yaml:"enabled"`
	WebsocketEndpoints []string         `yaml:"websocket_endpoints"`
	RestEndpoints      []string         `yaml:"rest_endpoints"`
	Connection         ConnectionConfig `yaml:"connection"`
	Streams            StreamsConfig    `yaml:"streams"`
}

// ExchangesConfig is the top-level exchanges.yaml document.
type ExchangesConfig struct {
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
}

// Validate checks every enabled exchange carries the minimum wiring needed
// to connect: at least one websocket endpoint and a positive max-attempts.
func (c ExchangesConfig) Validate() error {
	for name, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		if len(ex.WebsocketEndpoints) == 0 {
			return fmt.Errorf("config: exchange %q is enabled but has no websocket_endpoints", name)
		}
		if ex.Connection.MaxAttempts <= 0 {
			return fmt.Errorf("config: exchange %q connection.max_attempts must be positive", name)
		}
		if ex.Connection.ReconnectDelay <= 0 {
			return fmt.Errorf("config: exchange %q connection.reconnect_delay must be positive", name)
		}
	}
	return nil
}

// EnabledExchanges returns only the exchanges configured as enabled.
func (c ExchangesConfig) EnabledExchanges() map[string]ExchangeConfig {
	out := make(map[string]ExchangeConfig)
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			out[name] = ex
		}
	}
	return out
}

// LoadExchangesConfig reads and validates exchanges.yaml from path.
func LoadExchangesConfig(path string) (ExchangesConfig, error) {
	var cfg ExchangesConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read exchanges config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse exchanges config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: invalid exchanges config: %w", err)
	}
	return cfg, nil
}
