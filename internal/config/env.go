package config

import (
	"fmt"
	"os"
	"strconv"
)

// FromEnv overlays POW_* environment variables onto cfg. Unset or empty
// variables leave the current value alone; unparsable numbers are an error.
func FromEnv(cfg *Config) error {
	if v := os.Getenv("POW_LISTEN_ADDR"); v != "" {
		cfg.Coordinator.ListenAddr = v
	}
	if v := os.Getenv("POW_ADMIN_ADDR"); v != "" {
		cfg.Coordinator.AdminAddr = v
	}
	if v := os.Getenv("POW_COORDINATOR_ADDR"); v != "" {
		cfg.Worker.CoordinatorAddr = v
	}
	if v := os.Getenv("POW_SEED"); v != "" {
		cfg.Search.Seed = v
	}
	if v := os.Getenv("POW_ZERO_PREFIX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POW_ZERO_PREFIX: %w", err)
		}
		cfg.Search.ZeroPrefix = n
	}
	if v := os.Getenv("POW_STEP"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("POW_STEP: %w", err)
		}
		cfg.Search.Step = n
	}
	if v := os.Getenv("POW_UNIT_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POW_UNIT_COUNT: %w", err)
		}
		cfg.Coordinator.UnitCount = n
	}
	if v := os.Getenv("POW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("POW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}
