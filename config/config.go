package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smart-protocol/smart/internal/yield"
)

// Config holds all configurable parameters of a node
type Config struct {
	Port         int                 `json:"port" yaml:"port"`
	StorageDir   string              `json:"storage_dir" yaml:"storage_dir"`
	EventLogPath string              `json:"eventlog_path" yaml:"eventlog_path"`
	GenesisPath  string              `json:"genesis_path" yaml:"genesis_path"`
	Token        TokenConfig         `json:"token" yaml:"token"`
	Roles        map[string][]string `json:"roles" yaml:"roles"`           // operation -> addresses
	Identities   map[string][]string `json:"identities" yaml:"identities"` // identity id -> wallets
	Yield        *YieldConfig        `json:"yield,omitempty" yaml:"yield,omitempty"`
	Network      NetworkConfig       `json:"network" yaml:"network"`
}

type TokenConfig struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

// YieldConfig describes the fixed yield schedule. The schedule starts
// StartOffset seconds after the node boots.
type YieldConfig struct {
	StartOffset  uint64 `json:"start_offset" yaml:"start_offset"`
	Duration     uint64 `json:"duration" yaml:"duration"`
	Interval     uint64 `json:"interval" yaml:"interval"`
	RateBps      uint64 `json:"rate_bps" yaml:"rate_bps"`
	Basis        string `json:"basis" yaml:"basis"`
	Address      string `json:"address" yaml:"address"`             // reserve address of the engine
	PaymentAsset string `json:"payment_asset" yaml:"payment_asset"` // symbol of the in-memory asset
}

// NetworkConfig holds client-side latency simulation settings
type NetworkConfig struct {
	DelayEnabled bool `json:"delay_enabled" yaml:"delay_enabled"`
	MinDelayMs   int  `json:"min_delay_ms" yaml:"min_delay_ms"`
	MaxDelayMs   int  `json:"max_delay_ms" yaml:"max_delay_ms"`
}

// Default returns a config for a local in-memory node
func Default() *Config {
	return &Config{
		Port: 8545,
		Token: TokenConfig{
			Name:     "SMART Bond",
			Symbol:   "BOND",
			Decimals: 18,
		},
	}
}

// Load reads a config file. Files ending in .yaml or .yml are parsed as
// YAML, everything else as JSON. Missing fields keep their defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads config/config.json from the current directory
func LoadDefault() (*Config, error) {
	return Load("config/config.json")
}

// Validate checks the parts of the config that can be checked without
// building the ledger
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Token.Symbol == "" {
		return fmt.Errorf("token symbol is required")
	}
	if c.Network.MaxDelayMs < c.Network.MinDelayMs {
		return fmt.Errorf("network max_delay_ms %d below min_delay_ms %d", c.Network.MaxDelayMs, c.Network.MinDelayMs)
	}
	if y := c.Yield; y != nil {
		if y.Duration == 0 || y.Interval == 0 || y.RateBps == 0 {
			return fmt.Errorf("yield duration, interval and rate_bps must be positive")
		}
		if periods := y.Duration / y.Interval; periods > yield.MaxPeriods || (periods == yield.MaxPeriods && y.Duration%y.Interval != 0) {
			return fmt.Errorf("yield schedule exceeds %d periods", yield.MaxPeriods)
		}
		if y.Address == "" {
			return fmt.Errorf("yield address is required")
		}
	}
	return nil
}
