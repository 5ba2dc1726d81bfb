package statectx

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a scope.
type Config struct {
	// DefaultGracePeriod is how long an auto-mounted instance outlives its
	// last reader when the acquire call does not set one.
	DefaultGracePeriod time.Duration `env:"DEFAULT_GRACE_PERIOD" envDefault:"0s" yaml:"default_grace_period"`
	// LenientTolerance is how long a lenient reader waits for a writer to be
	// mounted before logging a wiring error. Manager-driven mounts land one
	// flush after the acquire, so this must cover at least one flush under
	// load.
	LenientTolerance time.Duration `env:"LENIENT_TOLERANCE" envDefault:"1s" yaml:"lenient_tolerance"`
	// StorePurgeDelay is how long a store with no readers stays memoized.
	StorePurgeDelay time.Duration `env:"STORE_PURGE_DELAY" envDefault:"100ms" yaml:"store_purge_delay"`
	// Diagnostics enables dependency-cycle tracking.
	Diagnostics bool `env:"DIAGNOSTICS" envDefault:"true" yaml:"diagnostics"`
	// MaxFlushPasses bounds the passes of one Flush so that a computation
	// cycle that never settles cannot spin forever.
	MaxFlushPasses int `env:"MAX_FLUSH_PASSES" envDefault:"100" yaml:"max_flush_passes"`
}

// EnvPrefix prefixes every environment variable read by LoadEnv.
const EnvPrefix = "STATECTX_"

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DefaultGracePeriod: 0,
		LenientTolerance:   time.Second,
		StorePurgeDelay:    100 * time.Millisecond,
		Diagnostics:        true,
		MaxFlushPasses:     100,
	}
}

// LoadEnv reads STATECTX_* environment variables on top of the defaults.
func LoadEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML config file on top of the defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects negative durations and a non-positive pass limit.
func (c Config) Validate() error {
	switch {
	case c.DefaultGracePeriod < 0:
		return fmt.Errorf("default grace period must not be negative: %s", c.DefaultGracePeriod)
	case c.LenientTolerance < 0:
		return fmt.Errorf("lenient tolerance must not be negative: %s", c.LenientTolerance)
	case c.StorePurgeDelay < 0:
		return fmt.Errorf("store purge delay must not be negative: %s", c.StorePurgeDelay)
	case c.MaxFlushPasses <= 0:
		return fmt.Errorf("max flush passes must be positive: %d", c.MaxFlushPasses)
	}
	return nil
}
