package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/eco/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "eco"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# eco configuration
# Run: eco --help

# Optional: override the SQLite database location.
# Can also be set via ECO_DB_PATH or --db-path.
# db_path: ~/.config/eco/eco.db

# Promotion policy. Environment overrides: ECO_PROMOTION_THRESHOLD,
# ECO_ALLOW_TIER_JUMPS, ECO_OVERRIDE_KEYS (comma separated).
# promotion_threshold: 0.75
# allow_tier_jumps: false
# override_keys: [gate_pass, manual_override]

# Event ids remembered per agent for duplicate detection (ECO_RECENT_ID_WINDOW).
# recent_id_window: 4096

# Optional: broadcast accepted events to NATS (ECO_NATS_URL, ECO_NATS_SUBJECT).
# nats_url: nats://127.0.0.1:4222
# nats_subject: eco.events
`
