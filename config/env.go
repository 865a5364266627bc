package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig substitutes environment variables in a fixed set of config string fields
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Discovery.ServiceName = SubstituteEnvVars(cfg.Discovery.ServiceName)
	cfg.Discovery.Domain = SubstituteEnvVars(cfg.Discovery.Domain)

	cfg.Transport.CloudURL = SubstituteEnvVars(cfg.Transport.CloudURL)
	cfg.Transport.CloudPinnedSHA256 = SubstituteEnvVars(cfg.Transport.CloudPinnedSHA256)
	cfg.Transport.PreferenceFile = SubstituteEnvVars(cfg.Transport.PreferenceFile)

	cfg.KeyStore.Type = SubstituteEnvVars(cfg.KeyStore.Type)
	cfg.KeyStore.Directory = SubstituteEnvVars(cfg.KeyStore.Directory)
	cfg.KeyStore.PassphraseEnv = SubstituteEnvVars(cfg.KeyStore.PassphraseEnv)

	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
	cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
	cfg.Logging.FilePath = SubstituteEnvVars(cfg.Logging.FilePath)

	cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
	cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
}

// GetEnvironment returns the current environment from HYPO_ENV or defaults to development
func GetEnvironment() string {
	env := os.Getenv("HYPO_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
