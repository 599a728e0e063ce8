package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/surveil/internal/model"
)

// GlobalAlertConfig is the alerts.yaml `global` block.
type GlobalAlertConfig struct {
	ThrottleSeconds  int  `yaml:"throttle_s"`
	DedupWindowSecs  int  `yaml:"dedup_window_s"`
	AutoResolve      bool `yaml:"auto_resolve"`
}

// PriorityConfig names the channels and escalation window for one priority tier.
type PriorityConfig struct {
	Channels   []string `yaml:"channels"`
	Escalation *int     `yaml:"escalation,omitempty"`
	Color      string   `yaml:"color,omitempty"`
}

// AlertDefinitionConfig is the YAML shape of one alerts.definitions entry,
// decimal-free so it can be unmarshaled directly; ToModel converts it.
type AlertDefinitionConfig struct {
	Name               string `yaml:"name"`
	MetricName         string `yaml:"metric_name"`
	DefaultPriority    string `yaml:"default_priority"`
	Severity           string `yaml:"severity"`
	Condition          string `yaml:"condition"`
	RequiresZScore     bool   `yaml:"requires_zscore"`
	PersistenceSeconds *int   `yaml:"persistence_seconds,omitempty"`
	ThrottleSeconds    int    `yaml:"throttle_seconds,omitempty"`
	EscalationSeconds  *int   `yaml:"escalation_seconds,omitempty"`
	EscalatesTo        *string `yaml:"escalates_to,omitempty"`
	Enabled            bool   `yaml:"enabled"`
}

// ToModel converts the YAML config into the domain AlertDefinition, keyed
// by alertType (the YAML map key, not stored redundantly in the document).
func (c AlertDefinitionConfig) ToModel(alertType string) (model.AlertDefinition, error) {
	cond := model.AlertCondition(c.Condition)
	switch cond {
	case model.ConditionGT, model.ConditionLT, model.ConditionAbsGT, model.ConditionAbsLT:
	default:
		return model.AlertDefinition{}, fmt.Errorf("config: alert %q has invalid condition %q", alertType, c.Condition)
	}
	return model.AlertDefinition{
		AlertType:          alertType,
		Name:               c.Name,
		MetricName:         c.MetricName,
		DefaultPriority:    model.AlertPriority(c.DefaultPriority),
		DefaultSeverity:    model.AlertSeverity(c.Severity),
		Condition:          cond,
		RequiresZScore:     c.RequiresZScore,
		PersistenceSeconds: c.PersistenceSeconds,
		ThrottleSeconds:    c.ThrottleSeconds,
		EscalationSeconds:  c.EscalationSeconds,
		EscalatesTo:        c.EscalatesTo,
		Enabled:            c.Enabled,
	}, nil
}

// ThresholdConfig is the YAML shape of one threshold entry.
type ThresholdConfig struct {
	Threshold       string  `yaml:"threshold"`
	ZScoreThreshold *string `yaml:"zscore_threshold,omitempty"`
}

// ToModel parses the decimal strings into a domain AlertThreshold.
func (c ThresholdConfig) ToModel() (model.AlertThreshold, error) {
	threshold, err := decimal.NewFromString(c.Threshold)
	if err != nil {
		return model.AlertThreshold{}, fmt.Errorf("config: invalid threshold %q: %w", c.Threshold, err)
	}
	out := model.AlertThreshold{Threshold: threshold}
	if c.ZScoreThreshold != nil {
		z, err := decimal.NewFromString(*c.ZScoreThreshold)
		if err != nil {
			return model.AlertThreshold{}, fmt.Errorf("config: invalid zscore_threshold %q: %w", *c.ZScoreThreshold, err)
		}
		out.ZScoreThreshold = &z
	}
	return out, nil
}

// ChannelConfig is a named notification channel's configuration.
type ChannelConfig struct {
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// AlertsConfig is the top-level alerts.yaml document.
type AlertsConfig struct {
	Global      GlobalAlertConfig                             `yaml:"global"`
	Priorities  map[string]PriorityConfig                      `yaml:"priorities"`
	Definitions map[string]AlertDefinitionConfig                `yaml:"definitions"`
	Thresholds  map[string]map[string]ThresholdConfig `yaml:"thresholds"` // instrument -> alert_type -> threshold
	Channels    map[string]ChannelConfig                       `yaml:"channels"`
}

// Validate checks every definition requiring a z-score threshold has one
// configured under at least one instrument entry (the "*" wildcard or any
// specific instrument), per §3's AlertThreshold invariant. Individual
// threshold entries without a zscore_threshold are not rejected.
func (c AlertsConfig) Validate() error {
	for alertType, def := range c.Definitions {
		cond := model.AlertCondition(def.Condition)
		switch cond {
		case model.ConditionGT, model.ConditionLT, model.ConditionAbsGT, model.ConditionAbsLT:
		default:
			return fmt.Errorf("config: alert %q has invalid condition %q", alertType, def.Condition)
		}
		if def.RequiresZScore {
			if !c.hasZScoreThresholdSomewhere(alertType) {
				return fmt.Errorf("config: alert %q requires_zscore but no threshold configures a zscore_threshold", alertType)
			}
		}
	}
	return nil
}

func (c AlertsConfig) hasZScoreThresholdSomewhere(alertType string) bool {
	for _, byType := range c.Thresholds {
		if th, ok := byType[alertType]; ok && th.ZScoreThreshold != nil {
			return true
		}
	}
	return false
}

// DefinitionsForInstrument returns every AlertDefinition, enabled or not,
// paired with the threshold that applies to instrument, falling back to the
// "*" wildcard threshold entry when no instrument-specific one exists.
// Disabled definitions are included; the Manager skips them.
func (c AlertsConfig) DefinitionsForInstrument(instrument string) ([]model.AlertDefinition, map[string]model.AlertThreshold, error) {
	var defs []model.AlertDefinition
	thresholds := make(map[string]model.AlertThreshold)

	for alertType, defCfg := range c.Definitions {
		def, err := defCfg.ToModel(alertType)
		if err != nil {
			return nil, nil, err
		}
		thCfg, ok := c.Thresholds[instrument][alertType]
		if !ok {
			thCfg, ok = c.Thresholds["*"][alertType]
		}
		if !ok {
			continue // no threshold configured for this instrument at all; skip, don't fail the whole load
		}
		threshold, err := thCfg.ToModel()
		if err != nil {
			return nil, nil, err
		}
		defs = append(defs, def)
		thresholds[alertType] = threshold
	}
	return defs, thresholds, nil
}

// PriorityChannels converts the YAML priorities block into the
// priority->channel-names map the dispatch.Dispatcher expects.
func (c AlertsConfig) PriorityChannels() map[model.AlertPriority][]string {
	out := make(map[model.AlertPriority][]string, len(c.Priorities))
	for name, p := range c.Priorities {
		out[model.AlertPriority(name)] = p.Channels
	}
	return out
}

// LoadAlertsConfig reads and validates alerts.yaml from path.
func LoadAlertsConfig(path string) (AlertsConfig, error) {
	var cfg AlertsConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read alerts config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse alerts config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: invalid alerts config: %w", err)
	}
	return cfg, nil
}
