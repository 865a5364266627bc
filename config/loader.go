package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{ConfigDir: "config"}
}

// ValidationIssue describes one configuration problem found by Validate.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // "error" or "warn"
}

// Load loads configuration with automatic environment detection, falling back
// through <env>.yaml -> default.yaml -> config.yaml -> built-in defaults.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{}
				setDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		for _, issue := range ValidateConfiguration(cfg) {
			if issue.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", issue.Field, issue.Message)
			}
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with HYPO_* environment variables,
// which take precedence over file contents and ${VAR} substitution.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("HYPO_DISCOVERY_SERVICE_NAME"); v != "" {
		cfg.Discovery.ServiceName = v
	}
	if v := os.Getenv("HYPO_KEYSTORE_DIR"); v != "" {
		cfg.KeyStore.Directory = v
	}
	if v := os.Getenv("HYPO_CLOUD_URL"); v != "" {
		cfg.Transport.CloudURL = v
	}
	if v := os.Getenv("HYPO_CLOUD_PINNED_SHA256"); v != "" {
		cfg.Transport.CloudPinnedSHA256 = v
	}
	if v := os.Getenv("HYPO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HYPO_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	switch os.Getenv("HYPO_METRICS_ENABLED") {
	case "true":
		cfg.Metrics.Enabled = true
	case "false":
		cfg.Metrics.Enabled = false
	}
	if v := os.Getenv("HYPO_HISTORY_PLAINTEXT_DEBUG"); v == "true" {
		cfg.History.PlaintextDebug = true
	}
}

// ValidateConfiguration checks for invalid combinations a Load call should reject.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Pairing.ChallengeTTL <= 0 {
		issues = append(issues, ValidationIssue{"pairing.challenge_ttl", "must be positive", "error"})
	}
	if cfg.Pairing.ClockSkew < 0 {
		issues = append(issues, ValidationIssue{"pairing.clock_skew", "must not be negative", "error"})
	}
	if cfg.Pairing.ReplayWindowSize <= 0 {
		issues = append(issues, ValidationIssue{"pairing.replay_window_size", "must be positive", "error"})
	}
	if cfg.Transport.MaxFrameBytes <= 0 {
		issues = append(issues, ValidationIssue{"transport.max_frame_bytes", "must be positive", "error"})
	}
	if cfg.Transport.MaxAttachmentByte > cfg.Transport.MaxFrameBytes {
		issues = append(issues, ValidationIssue{"transport.max_attachment_bytes", "must not exceed max_frame_bytes", "error"})
	}
	if cfg.Transport.LanFirstTimeout <= 0 {
		issues = append(issues, ValidationIssue{"transport.lan_first_timeout", "must be positive", "error"})
	}
	if cfg.History.MaxEntries <= 0 {
		issues = append(issues, ValidationIssue{"history.max_entries", "must be positive", "error"})
	}
	if cfg.History.PlaintextDebug {
		issues = append(issues, ValidationIssue{"history.plaintext_debug", "sends clipboard content over the wire unencrypted, development only", "warn"})
	}
	if cfg.KeyStore.Type != "file" && cfg.KeyStore.Type != "memory" {
		issues = append(issues, ValidationIssue{"keystore.type", "must be \"file\" or \"memory\"", "error"})
	}

	return issues
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{ConfigDir: "config", Environment: environment})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
