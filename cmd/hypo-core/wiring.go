package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hypo-app/hypo-core/config"
	"github.com/hypo-app/hypo-core/internal/identity"
	"github.com/hypo-app/hypo-core/internal/keystore"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/pairedstore"
)

// loadConfig loads configuration from configDir, falling back to hypo's
// built-in defaults when no config files are present.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildLogger constructs the structured logger cfg asks for.
func buildLogger(cfg *config.Config) logger.Logger {
	var out io.Writer = os.Stdout
	level := parseLevel(cfg.Logging.Level)
	l := logger.NewLogger(out, level)
	l.SetPrettyPrint(cfg.Logging.Format == "pretty")
	return l
}

func parseLevel(s string) logger.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return logger.DebugLevel
	case "WARN":
		return logger.WarnLevel
	case "ERROR":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

// loadIdentity loads (or creates on first run) this installation's device
// identity under dataDir.
func loadIdentity() (*identity.Device, error) {
	name, _ := os.Hostname()
	dev, err := identity.LoadOrCreate(filepath.Join(dataDir, "identity.json"), name, runtime.GOOS)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return dev, nil
}

// openKeyStore constructs the C2 KeyStore cfg.KeyStore asks for.
func openKeyStore(cfg *config.Config) (keystore.KeyStore, error) {
	switch cfg.KeyStore.Type {
	case "memory":
		return keystore.NewMemoryVault(), nil
	default:
		passphrase := os.Getenv(cfg.KeyStore.PassphraseEnv)
		return keystore.NewFileVault(cfg.KeyStore.Directory, passphrase)
	}
}

// openPairedStore opens the durable paired-device roster under dataDir.
func openPairedStore() (*pairedstore.Store, error) {
	return pairedstore.Open(filepath.Join(dataDir, "paired_devices.json"))
}
