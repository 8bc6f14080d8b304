package engine

import (
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/hostbridge/errors"
)

// StackAlign is the granularity of module shadow stacks.
const StackAlign = 65536

// Config holds configuration for engine creation.
type Config struct {
	// MemoryModule is the import module of the shared memory ("env").
	MemoryModule string `toml:"memory-module"`

	// InitialPages and MaxPages bound the shared memory, in 64KiB pages.
	InitialPages uint32 `toml:"initial-pages"`
	MaxPages     uint32 `toml:"max-pages"`

	// Threads enables the threads proposal and makes the memory shared.
	// Without it the pool reports unsupported concurrency.
	Threads bool `toml:"threads"`

	// MaxWorkers caps the pool size; 0 means no cap.
	MaxWorkers int `toml:"max-workers"`

	// StackSize is passed to bridge_start. 0 keeps the module default.
	StackSize uint32 `toml:"stack-size"`

	// Debug logs handle and closure lifecycle events.
	Debug bool `toml:"debug"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		MemoryModule: "env",
		InitialPages: 17,
		MaxPages:     16384,
		Threads:      true,
		MaxWorkers:   runtime.NumCPU(),
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("parse error in %s", path).
			Cause(err).
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. Errors carry the offending TOML key
// as their path.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(key).
			Detail(format, args...).
			Build()
	}
	switch {
	case c.MemoryModule == "":
		return invalid("memory-module", "must not be empty")
	case c.InitialPages == 0:
		return invalid("initial-pages", "must be at least 1")
	case c.MaxPages < c.InitialPages:
		return invalid("max-pages", "%d is below initial-pages %d", c.MaxPages, c.InitialPages)
	case c.MaxPages > 65536:
		return invalid("max-pages", "%d exceeds 65536", c.MaxPages)
	case c.MaxWorkers < 0:
		return invalid("max-workers", "must not be negative")
	case c.StackSize%StackAlign != 0:
		return invalid("stack-size", "invalid stack size %d: must be a multiple of %d", c.StackSize, StackAlign)
	}
	return nil
}
