package payable

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the pipeline's tunable policy values.
type Config struct {
	// MatchThreshold is the minimum two-way match score that lets an
	// invoice proceed without human review. Range (0, 1].
	MatchThreshold float64 `yaml:"match_threshold" json:"match_threshold"`

	// TwoWayTolerancePct is the allowed percentage deviation between
	// invoice total and PO total before the amount score degrades.
	TwoWayTolerancePct float64 `yaml:"two_way_tolerance_pct" json:"two_way_tolerance_pct"`

	// AutoApproveLimit is the invoice amount at or below which approval
	// is granted automatically after reconciliation.
	AutoApproveLimit float64 `yaml:"auto_approve_limit" json:"auto_approve_limit"`

	// NotifyParties are notified when a workflow reaches NOTIFY.
	NotifyParties []string `yaml:"notify_parties" json:"notify_parties"`

	// ReviewURLBase, when set, prefixes checkpoint IDs to build the
	// review link placed on queue entries.
	ReviewURLBase string `yaml:"review_url_base" json:"review_url_base"`
}

// DefaultConfig returns the policy values used when none are provided.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:     0.90,
		TwoWayTolerancePct: 5.0,
		AutoApproveLimit:   10000.0,
		NotifyParties:      []string{"vendor", "finance_team"},
		ReviewURLBase:      "https://reviews.internal/checkpoints",
	}
}

// LoadConfigFile loads a Config from a YAML file. Fields not present in
// the file keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(yamlData, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config for values that would break the pipeline.
func (c Config) Validate() error {
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold must be in (0, 1], got %v", c.MatchThreshold)
	}
	if c.TwoWayTolerancePct < 0 {
		return fmt.Errorf("two_way_tolerance_pct must be non-negative, got %v", c.TwoWayTolerancePct)
	}
	if c.AutoApproveLimit < 0 {
		return fmt.Errorf("auto_approve_limit must be non-negative, got %v", c.AutoApproveLimit)
	}
	return nil
}
