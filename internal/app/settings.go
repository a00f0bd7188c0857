package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/deltaknight858/Eco-sub001/internal/provenance"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys. Pointer fields distinguish an
// explicit zero from an absent key.
type Settings struct {
	DBPath             string   `yaml:"db_path"`
	PromotionThreshold *float64 `yaml:"promotion_threshold"`
	AllowTierJumps     *bool    `yaml:"allow_tier_jumps"`
	OverrideKeys       []string `yaml:"override_keys"`
	RecentIDWindow     int      `yaml:"recent_id_window"`
	NATSURL            string   `yaml:"nats_url"`
	NATSSubject        string   `yaml:"nats_subject"`
}

// Config is the effective runtime configuration: defaults, then
// config.yaml, then environment variables.
type Config struct {
	PromotionThreshold float64  `json:"promotion_threshold" env:"ECO_PROMOTION_THRESHOLD"`
	AllowTierJumps     bool     `json:"allow_tier_jumps" env:"ECO_ALLOW_TIER_JUMPS"`
	OverrideKeys       []string `json:"override_keys" env:"ECO_OVERRIDE_KEYS" envSeparator:","`
	RecentIDWindow     int      `json:"recent_id_window" env:"ECO_RECENT_ID_WINDOW"`
	NATSURL            string   `json:"nats_url,omitempty" env:"ECO_NATS_URL"`
	NATSSubject        string   `json:"nats_subject" env:"ECO_NATS_SUBJECT"`
}

const (
	defaultRecentIDWindow = 4096
	maxRecentIDWindow     = 1 << 20
	defaultNATSSubject    = "eco.events"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	p := provenance.DefaultPolicy()
	return Config{
		PromotionThreshold: p.PromotionThreshold,
		AllowTierJumps:     p.AllowTierJumps,
		OverrideKeys:       p.OverrideKeys,
		RecentIDWindow:     defaultRecentIDWindow,
		NATSSubject:        defaultNATSSubject,
	}
}

// Policy returns the provenance policy described by c.
func (c Config) Policy() provenance.Policy {
	return provenance.Policy{
		PromotionThreshold: c.PromotionThreshold,
		AllowTierJumps:     c.AllowTierJumps,
		OverrideKeys:       append([]string(nil), c.OverrideKeys...),
	}
}

// EffectiveConfig merges defaults, config.yaml and ECO_* environment
// variables, in increasing precedence, and validates the result.
func EffectiveConfig() (Config, error) {
	cfg := DefaultConfig()

	s, err := LoadSettings()
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.apply(s)

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.RecentIDWindow <= 0 {
		cfg.RecentIDWindow = defaultRecentIDWindow
	}
	if cfg.RecentIDWindow > maxRecentIDWindow {
		cfg.RecentIDWindow = maxRecentIDWindow
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = defaultNATSSubject
	}
	if err := cfg.Policy().Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid promotion policy: %w", err)
	}
	return cfg, nil
}

// EffectivePolicy returns the validated provenance policy.
func EffectivePolicy() (provenance.Policy, error) {
	cfg, err := EffectiveConfig()
	if err != nil {
		return provenance.Policy{}, err
	}
	return cfg.Policy(), nil
}

func (c *Config) apply(s Settings) {
	if s.PromotionThreshold != nil {
		c.PromotionThreshold = *s.PromotionThreshold
	}
	if s.AllowTierJumps != nil {
		c.AllowTierJumps = *s.AllowTierJumps
	}
	if s.OverrideKeys != nil {
		c.OverrideKeys = append([]string(nil), s.OverrideKeys...)
	}
	if s.RecentIDWindow > 0 {
		c.RecentIDWindow = s.RecentIDWindow
	}
	if s.NATSURL != "" {
		c.NATSURL = s.NATSURL
	}
	if s.NATSSubject != "" {
		c.NATSSubject = s.NATSSubject
	}
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// settingsPaths lists config files in lookup order.
func settingsPaths() ([]string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(string(os.PathSeparator), "etc", "eco", "config.yaml"),
		"config.yaml",
	}, nil
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/eco/config.yaml
// 2) /etc/eco/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		paths, err := settingsPaths()
		if err != nil {
			settingsErr = err
			return
		}
		for _, p := range paths {
			s, err := loadSettingsFile(p)
			if err == nil {
				settings = s
				return
			}
			if !errors.Is(err, os.ErrNotExist) {
				settingsErr = err
				return
			}
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}
