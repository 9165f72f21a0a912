package session

import (
	"context"
	"fmt"
	"time"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds session configuration from YAML.
type Config struct {
	// Store specifies the repository type: "memory", "file" or "redis".
	// Default: "memory"
	Store string `yaml:"store"`

	// BaseDir is the directory for file-based storage.
	// Default: ~/.cardiobot/sessions
	BaseDir string `yaml:"base_dir"`

	// IdleTTL is how long an untouched session is kept.
	IdleTTL time.Duration `yaml:"idle_ttl"`

	// SweepSchedule is a cron expression for the idle sweep.
	SweepSchedule string `yaml:"sweep_schedule"`

	// Redis configures the "redis" store.
	Redis RedisConfig `yaml:"redis"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Store:         StoreMemory,
		IdleTTL:       24 * time.Hour,
		SweepSchedule: DefaultSweepSchedule,
	}
}

// Open builds the repository selected by cfg.Store.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch cfg.Store {
	case "", StoreMemory:
		return NewMemoryRepository(), nil
	case StoreFile:
		return NewFileRepository(cfg.BaseDir)
	case StoreRedis:
		return NewRedisRepository(ctx, cfg.Redis, cfg.IdleTTL)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
