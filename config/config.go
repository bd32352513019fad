package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Hard protocol ceilings. Admin-adjustable parameters may never exceed these.
const (
	MaxSettlementCooldown = 24 * time.Hour
	MaxYieldDeltaBps      = 10000 // 100%
)

type Config struct {
	// Node configuration
	NodeID   string `json:"node_id" yaml:"node_id"`
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Settlement configuration
	Settlement SettlementConfig `json:"settlement" yaml:"settlement"`

	// Batch configuration
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// Relayer configuration
	Relayer RelayerConfig `json:"relayer" yaml:"relayer"`

	// API configuration
	API APIConfig `json:"api" yaml:"api"`

	// Vaults registered at startup
	Vaults []VaultConfig `json:"vaults" yaml:"vaults"`
}

type VaultConfig struct {
	Name         string `json:"name" yaml:"name"`
	Asset        string `json:"asset" yaml:"asset"`
	KTokenSymbol string `json:"ktoken_symbol" yaml:"ktoken_symbol"`
	ShareSymbol  string `json:"share_symbol" yaml:"share_symbol"`
	Decimals     uint8  `json:"decimals" yaml:"decimals"`
}

type SettlementConfig struct {
	// Cooldown between proposing a settlement and executing it.
	// Gives guardians a review window before supply changes become final.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`

	// Maximum yield/loss delta per settlement, in basis points of the
	// reference base (10000 = 100%).
	MaxYieldDeltaBps int64 `json:"max_yield_delta_bps" yaml:"max_yield_delta_bps"`

	// Typical cadence between settlements. Enforced by the relayer
	// schedule, not by the engine itself.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

type BatchConfig struct {
	// How long a batch stays open before the relayer closes it.
	CutoffDuration time.Duration `json:"cutoff_duration" yaml:"cutoff_duration"`
}

type RelayerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Poll interval for proposals whose cooldown may have elapsed.
	ExecutePollInterval time.Duration `json:"execute_poll_interval" yaml:"execute_poll_interval"`
}

type APIConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	EnableCORS bool   `json:"enable_cors" yaml:"enable_cors"`
}

// Load returns the default configuration
func Load() (*Config, error) {
	return &Config{
		NodeID:   "kam-router",
		DataDir:  "./data",
		LogLevel: "info",
		Settlement: SettlementConfig{
			Cooldown:         1 * time.Hour,
			MaxYieldDeltaBps: 1000, // 10%
			Interval:         8 * time.Hour,
		},
		Batch: BatchConfig{
			CutoffDuration: 4 * time.Hour,
		},
		Relayer: RelayerConfig{
			Enabled:             true,
			ExecutePollInterval: 1 * time.Minute,
		},
		API: APIConfig{
			ListenAddr: ":8080",
			EnableCORS: true,
		},
		Vaults: []VaultConfig{
			{
				Name:         "kusd-main",
				Asset:        "USDC",
				KTokenSymbol: "kUSD",
				ShareSymbol:  "stkUSD",
				Decimals:     6,
			},
		},
	}, nil
}

// LoadFile loads the default configuration and overlays a YAML file on top
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UnmarshalYAML accepts human-readable durations ("2h", "30m") and leaves
// absent fields at their defaults
func (s *SettlementConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Cooldown         string `yaml:"cooldown"`
		MaxYieldDeltaBps *int64 `yaml:"max_yield_delta_bps"`
		Interval         string `yaml:"interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Cooldown != "" {
		d, err := time.ParseDuration(raw.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid settlement cooldown %q: %v", raw.Cooldown, err)
		}
		s.Cooldown = d
	}
	if raw.MaxYieldDeltaBps != nil {
		s.MaxYieldDeltaBps = *raw.MaxYieldDeltaBps
	}
	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid settlement interval %q: %v", raw.Interval, err)
		}
		s.Interval = d
	}

	return nil
}

func (b *BatchConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		CutoffDuration string `yaml:"cutoff_duration"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.CutoffDuration != "" {
		d, err := time.ParseDuration(raw.CutoffDuration)
		if err != nil {
			return fmt.Errorf("invalid batch cutoff duration %q: %v", raw.CutoffDuration, err)
		}
		b.CutoffDuration = d
	}

	return nil
}

func (r *RelayerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled             *bool  `yaml:"enabled"`
		ExecutePollInterval string `yaml:"execute_poll_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Enabled != nil {
		r.Enabled = *raw.Enabled
	}
	if raw.ExecutePollInterval != "" {
		d, err := time.ParseDuration(raw.ExecutePollInterval)
		if err != nil {
			return fmt.Errorf("invalid execute poll interval %q: %v", raw.ExecutePollInterval, err)
		}
		r.ExecutePollInterval = d
	}

	return nil
}

// Validate checks configured parameters against protocol ceilings
func (c *Config) Validate() error {
	if c.Settlement.Cooldown <= 0 {
		return fmt.Errorf("settlement cooldown must be positive, got %v", c.Settlement.Cooldown)
	}

	if c.Settlement.Cooldown > MaxSettlementCooldown {
		return fmt.Errorf("settlement cooldown %v exceeds ceiling %v",
			c.Settlement.Cooldown, MaxSettlementCooldown)
	}

	if c.Settlement.MaxYieldDeltaBps <= 0 || c.Settlement.MaxYieldDeltaBps > MaxYieldDeltaBps {
		return fmt.Errorf("max yield delta %d bps out of range (0, %d]",
			c.Settlement.MaxYieldDeltaBps, MaxYieldDeltaBps)
	}

	if c.Batch.CutoffDuration <= 0 {
		return fmt.Errorf("batch cutoff duration must be positive, got %v", c.Batch.CutoffDuration)
	}

	return nil
}
