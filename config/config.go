// Package config provides layered configuration loading for hypo-core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the sync engine.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Discovery   DiscoveryConfig  `yaml:"discovery" json:"discovery"`
	Pairing     PairingConfig    `yaml:"pairing" json:"pairing"`
	Transport   TransportConfig  `yaml:"transport" json:"transport"`
	KeyStore    KeyStoreConfig   `yaml:"keystore" json:"keystore"`
	History     HistoryConfig    `yaml:"history" json:"history"`
	Logging     LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics" json:"metrics"`
	Health      HealthConfig     `yaml:"health" json:"health"`
}

// DiscoveryConfig controls mDNS/DNS-SD peer discovery (C4).
type DiscoveryConfig struct {
	ServiceName     string        `yaml:"service_name" json:"service_name"`
	Domain          string        `yaml:"domain" json:"domain"`
	StaleAfter      time.Duration `yaml:"stale_after" json:"stale_after"`
	RegisterBackoff time.Duration `yaml:"register_backoff" json:"register_backoff"`
}

// PairingConfig controls C7 PairingSession lifetimes.
type PairingConfig struct {
	ChallengeTTL     time.Duration `yaml:"challenge_ttl" json:"challenge_ttl"`
	ClockSkew        time.Duration `yaml:"clock_skew" json:"clock_skew"`
	ReplayWindowSize int           `yaml:"replay_window_size" json:"replay_window_size"`
	RelayCodeTTL     time.Duration `yaml:"relay_code_ttl" json:"relay_code_ttl"`
}

// TransportConfig controls C5/C6/C8 timeouts and frame ceilings.
type TransportConfig struct {
	LanFirstTimeout   time.Duration `yaml:"lan_first_timeout" json:"lan_first_timeout"`
	DialTimeout       time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval" json:"ping_interval"`
	MaxBackoff        time.Duration `yaml:"max_backoff" json:"max_backoff"`
	SendQueueSize     int           `yaml:"send_queue_size" json:"send_queue_size"`
	MaxFrameBytes     int           `yaml:"max_frame_bytes" json:"max_frame_bytes"`
	MaxAttachmentByte int           `yaml:"max_attachment_bytes" json:"max_attachment_bytes"`
	CloudURL          string        `yaml:"cloud_url" json:"cloud_url"`
	CloudPinnedSHA256 string        `yaml:"cloud_pinned_sha256" json:"cloud_pinned_sha256"`
	PreferenceFile    string        `yaml:"preference_file" json:"preference_file"`
	LanListenAddr     string        `yaml:"lan_listen_addr" json:"lan_listen_addr"`
}

// KeyStoreConfig mirrors the teacher's encrypted-file-vault shape (C2).
type KeyStoreConfig struct {
	Type          string `yaml:"type" json:"type"` // "file" or "memory"
	Directory     string `yaml:"directory" json:"directory"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// HistoryConfig bounds the clipboard history store.
type HistoryConfig struct {
	MaxEntries      int           `yaml:"max_entries" json:"max_entries"`
	AutoDeleteAfter time.Duration `yaml:"auto_delete_after" json:"auto_delete_after"`
	PlaintextDebug  bool          `yaml:"plaintext_debug" json:"plaintext_debug"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig controls the prometheus /metrics surface (C11).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig controls the /health readiness surface.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML (or JSON) file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes configuration to path, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills in zero-valued fields with hypo's baseline configuration.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Discovery.ServiceName == "" {
		cfg.Discovery.ServiceName = "_hypo._tcp"
	}
	if cfg.Discovery.Domain == "" {
		cfg.Discovery.Domain = "local."
	}
	if cfg.Discovery.StaleAfter == 0 {
		cfg.Discovery.StaleAfter = 90 * time.Second
	}
	if cfg.Discovery.RegisterBackoff == 0 {
		cfg.Discovery.RegisterBackoff = 2 * time.Second
	}

	if cfg.Pairing.ChallengeTTL == 0 {
		cfg.Pairing.ChallengeTTL = 2 * time.Minute
	}
	if cfg.Pairing.ClockSkew == 0 {
		cfg.Pairing.ClockSkew = 30 * time.Second
	}
	if cfg.Pairing.ReplayWindowSize == 0 {
		cfg.Pairing.ReplayWindowSize = 32
	}
	if cfg.Pairing.RelayCodeTTL == 0 {
		cfg.Pairing.RelayCodeTTL = 10 * time.Minute
	}

	if cfg.Transport.LanFirstTimeout == 0 {
		cfg.Transport.LanFirstTimeout = 3 * time.Second
	}
	if cfg.Transport.DialTimeout == 0 {
		cfg.Transport.DialTimeout = 5 * time.Second
	}
	if cfg.Transport.WriteTimeout == 0 {
		cfg.Transport.WriteTimeout = 10 * time.Second
	}
	if cfg.Transport.ReadTimeout == 0 {
		cfg.Transport.ReadTimeout = 60 * time.Second
	}
	if cfg.Transport.PingInterval == 0 {
		cfg.Transport.PingInterval = 30 * time.Second
	}
	if cfg.Transport.MaxBackoff == 0 {
		cfg.Transport.MaxBackoff = 30 * time.Second
	}
	if cfg.Transport.SendQueueSize == 0 {
		cfg.Transport.SendQueueSize = 64
	}
	if cfg.Transport.MaxFrameBytes == 0 {
		cfg.Transport.MaxFrameBytes = 20 * 1024 * 1024
	}
	if cfg.Transport.MaxAttachmentByte == 0 {
		cfg.Transport.MaxAttachmentByte = 10 * 1024 * 1024
	}
	if cfg.Transport.PreferenceFile == "" {
		cfg.Transport.PreferenceFile = ".hypo/last_transport"
	}
	if cfg.Transport.LanListenAddr == "" {
		cfg.Transport.LanListenAddr = ":7760"
	}

	if cfg.KeyStore.Type == "" {
		cfg.KeyStore.Type = "file"
	}
	if cfg.KeyStore.Directory == "" {
		cfg.KeyStore.Directory = ".hypo/keys"
	}

	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = 200
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9477"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":9478"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}
}
