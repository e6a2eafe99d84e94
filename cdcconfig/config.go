// Package cdcconfig provides read-only process configuration for the CDC-aware
// commit-log allocator, loaded once from environment variables.
package cdcconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is a plain, read-only value injected into the allocator and size
// tracker at construction time; there is no package-level configuration
// singleton inside the core.
type Config struct {
	CDCEnabled                  bool
	CDCTotalSpaceMB             uint32
	CDCRawDirectory             string
	CDCFreeSpaceCheckIntervalMS uint32
	CommitLogSegmentSizeMB      uint32
	CommitLogDirectory          string
}

// Load reads configuration from environment variables, applying the same
// defaults as the source system: a 4096 MB CDC budget, a 250 ms recalc
// interval, and no CDC tracking unless explicitly enabled.
func Load() (*Config, error) {
	cfg := &Config{
		CDCEnabled:                  getEnvBool("CDC_ENABLED", false),
		CDCTotalSpaceMB:             getEnvUint32("CDC_TOTAL_SPACE_MB", 4096),
		CDCRawDirectory:             getEnv("CDC_RAW_DIRECTORY", "/var/lib/commitlog/cdc_raw"),
		CDCFreeSpaceCheckIntervalMS: getEnvUint32("CDC_FREE_SPACE_CHECK_INTERVAL_MS", 250),
		CommitLogSegmentSizeMB:      getEnvUint32("COMMITLOG_SEGMENT_SIZE_MB", 32),
		CommitLogDirectory:          getEnv("COMMITLOG_DIRECTORY", "/var/lib/commitlog"),
	}

	if cfg.CDCEnabled && cfg.CDCRawDirectory == "" {
		return nil, fmt.Errorf("cdcconfig: CDC_RAW_DIRECTORY is required when CDC_ENABLED is true")
	}
	if cfg.CommitLogSegmentSizeMB == 0 {
		return nil, fmt.Errorf("cdcconfig: COMMITLOG_SEGMENT_SIZE_MB must be greater than zero")
	}

	return cfg, nil
}

// BudgetBytes is cdc_total_space_mb x 1_048_576, immutable for the process
// lifetime.
func (c *Config) BudgetBytes() int64 {
	return int64(c.CDCTotalSpaceMB) * 1024 * 1024
}

// DefaultSegmentBytes is the nominal segment size used when reserving budget
// for a new Permitted segment.
func (c *Config) DefaultSegmentBytes() uint64 {
	return uint64(c.CommitLogSegmentSizeMB) * 1024 * 1024
}

// RecalcInterval is the minimum spacing between recalc rate-limiter permits.
func (c *Config) RecalcInterval() time.Duration {
	return time.Duration(c.CDCFreeSpaceCheckIntervalMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvUint32(key string, fallback uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
