// Package config loads the module manifest and host environment settings.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dimworks/modhost/errors"
)

// ModuleEntry describes one guest module in the manifest.
type ModuleEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Path points at the compiled bytecode on disk.
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// Manifest lists the modules a session starts with.
type Manifest struct {
	Modules []ModuleEntry `yaml:"modules"`
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest invariants: names present and unique, paths set.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Modules))
	for i, entry := range m.Modules {
		if entry.Name == "" {
			return errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("module %d: name is required", i))
		}
		if _, dup := seen[entry.Name]; dup {
			return errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("module %q listed twice", entry.Name))
		}
		seen[entry.Name] = struct{}{}
		if entry.Path == "" {
			return errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("module %q: path is required", entry.Name))
		}
	}
	return nil
}

// Env holds host settings taken from the environment.
type Env struct {
	// TickRate is the simulation frequency in ticks per second.
	TickRate int `env:"MODHOST_TICK_RATE" envDefault:"60"`
	// MemoryLimitPages caps guest memory in 64KB pages.
	MemoryLimitPages uint32 `env:"MODHOST_MEMORY_LIMIT_PAGES" envDefault:"1024"`
	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `env:"MODHOST_LOG_LEVEL" envDefault:"info"`
	// PollInterval is how often module bytecode files are checked for
	// changes, in milliseconds. 0 disables hot reload.
	PollInterval int `env:"MODHOST_POLL_INTERVAL_MS" envDefault:"1000"`
}

// LoadEnv parses host settings from the process environment.
func LoadEnv() (Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse environment")
	}
	if cfg.TickRate <= 0 {
		return Env{}, errors.InvalidInput(errors.PhaseConfig, "MODHOST_TICK_RATE must be positive")
	}
	return cfg, nil
}
