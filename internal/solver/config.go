// Package solver wires the position store, async writer, resource
// monitors, and the enumerate/compact/retrograde engine phases into the
// five top-level operations the CLI exposes: solve, enumerate-only,
// evaluate-only, query, and compact.
package solver

import (
	"fmt"

	"github.com/hailam/kalahsolve/internal/engine"
	"github.com/hailam/kalahsolve/internal/storage"
)

// Config is every tunable a solve run needs, independent of how the CLI
// gathers it (flags, env, defaults).
type Config struct {
	Pits  int
	Seeds int

	StorePath  string
	Durability storage.Durability

	EngineKind  engine.SolverKind
	EngineDedup engine.DedupMode
	Workers     int

	// MemoryThrottledBytes / MemoryCriticalBytes are available-RAM
	// thresholds; zero selects the package defaults.
	MemoryThrottledBytes uint64
	MemoryCriticalBytes  uint64

	// DiskFatalBytes is the free-space floor below which a run aborts;
	// zero selects monitor.DefaultFatalBytes computed from the volume.
	DiskFatalBytes uint64
}

const (
	defaultMemoryThrottledBytes = 4 << 30
	defaultMemoryCriticalBytes  = 2 << 30
)

// Validate checks the configuration is internally consistent before a run
// starts, so obviously-wrong input fails fast with a config-kind error
// rather than surfacing as a confusing storage or invariant failure deep
// into a multi-hour run.
func (c Config) Validate() error {
	if c.Pits < 1 {
		return wrapErr(ErrKindConfig, "validate", fmt.Errorf("pits must be >= 1, got %d", c.Pits))
	}
	if c.Seeds < 1 {
		return wrapErr(ErrKindConfig, "validate", fmt.Errorf("seeds must be >= 1, got %d", c.Seeds))
	}
	if c.StorePath == "" {
		return wrapErr(ErrKindConfig, "validate", fmt.Errorf("store path must be set"))
	}
	return nil
}

func (c Config) engineConfig() engine.Config {
	cfg := engine.DefaultConfig(c.Pits, c.Seeds)
	cfg.Kind = c.EngineKind
	cfg.Dedup = c.EngineDedup
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	return cfg
}

func (c Config) memoryThrottledBytes() uint64 {
	if c.MemoryThrottledBytes > 0 {
		return c.MemoryThrottledBytes
	}
	return defaultMemoryThrottledBytes
}

func (c Config) memoryCriticalBytes() uint64 {
	if c.MemoryCriticalBytes > 0 {
		return c.MemoryCriticalBytes
	}
	return defaultMemoryCriticalBytes
}
