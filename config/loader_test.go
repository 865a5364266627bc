package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigDir(t *testing.T) {
	cfg, err := Load(LoaderOptions{ConfigDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	assert.Equal(t, "_hypo._tcp", cfg.Discovery.ServiceName)
	assert.Equal(t, 32, cfg.Pairing.ReplayWindowSize)
	assert.Equal(t, 20*1024*1024, cfg.Transport.MaxFrameBytes)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
discovery:
  service_name: _hypo-staging._tcp
pairing:
  challenge_ttl: 1m
`), 0644))

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "nonexistent-env"})
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "_hypo-staging._tcp", cfg.Discovery.ServiceName)
	assert.Equal(t, "30s", cfg.Pairing.ClockSkew.String())
}

func TestEnvironmentOverridesTakePrecedence(t *testing.T) {
	t.Setenv("HYPO_LOG_LEVEL", "debug")
	cfg, err := Load(LoaderOptions{ConfigDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateConfigurationRejectsBadValues(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Transport.MaxAttachmentByte = cfg.Transport.MaxFrameBytes + 1

	issues := ValidateConfiguration(cfg)
	require.NotEmpty(t, issues)

	found := false
	for _, i := range issues {
		if i.Field == "transport.max_attachment_bytes" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Discovery.ServiceName = "_hypo-custom._tcp"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "_hypo-custom._tcp", loaded.Discovery.ServiceName)
}
