// Package config assembles the PBFT engine's local configuration: the
// storage, logging and metrics bootstrap settings plus the duration/size
// parameters that mirror the sawtooth.consensus.pbft.* on-chain settings
// keys. The node's identity and peer list are not part of it. It follows the
// teacher's generate-defaults-then-persist shape (GenerageConfig /
// ReadConfig / WriteConfigToFile) rather than reinventing one.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const defaultConfigPath = "pbft-config.json"

// Config is the local, file-persisted half of engine configuration. The
// durations and sizes here are used as loaded: nothing reads them from
// on-chain settings. The peer list is not stored here; it comes from the
// peers file at startup and from the on-chain peers setting at each commit.
type Config struct {
	// StateDir, when non-empty, selects the bitcask-backed persistence
	// store; empty means in-memory (tests, ephemeral nodes).
	StateDir string `json:"state_dir"`

	LogLevel   string `json:"log_level"`
	LogConsole bool   `json:"log_console"`
	LogPath    string `json:"log_path"`

	MetricsAddr string `json:"metrics_addr"`

	BlockDuration          time.Duration `json:"block_duration"`
	MessageTimeout         time.Duration `json:"message_timeout"`
	ViewChangeDuration     time.Duration `json:"view_change_duration"`
	ForcedViewChangePeriod uint64        `json:"forced_view_change_period"`
	MaxLogSize             uint64        `json:"max_log_size"`
}

// Default returns the configuration a freshly bootstrapped node starts
// from when no config file exists yet.
func Default() *Config {
	return &Config{
		LogLevel:               "info",
		LogConsole:             true,
		MetricsAddr:            ":9091",
		BlockDuration:          1 * time.Second,
		MessageTimeout:         10 * time.Millisecond,
		ViewChangeDuration:     5 * time.Second,
		ForcedViewChangePeriod: 100,
		MaxLogSize:             1000,
	}
}

// Load reads path if it exists, otherwise synthesizes and persists
// defaults, mirroring the teacher's GenerageConfig behavior.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.WriteToFile(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return ReadConfig(path)
}

// WriteToFile persists cfg as indented JSON, same framing the teacher uses.
func (cfg *Config) WriteToFile(path string) error {
	if path == "" {
		path = defaultConfigPath
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config to %s: %w", path, err)
	}
	return nil
}

// ReadConfig loads and decodes a persisted config file.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config from %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
