package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/router"
)

// TuningConfig is the optional YAML file with router tuning knobs. Every
// field falls back to the router defaults when absent.
type TuningConfig struct {
	Router struct {
		PersistAttempts     int           `yaml:"persist_attempts"`
		PersistRetryDelay   time.Duration `yaml:"persist_retry_delay"`
		LedgerTTL           time.Duration `yaml:"ledger_ttl"`
		ClockUpdateInterval time.Duration `yaml:"clock_update_interval"`
		FinishedGrace       time.Duration `yaml:"finished_grace"`
	} `yaml:"router"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func loadTuning(path string) (*TuningConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg TuningConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// routerConfig merges the YAML tuning over the defaults.
func (t *TuningConfig) routerConfig() router.Config {
	cfg := router.DefaultConfig()
	if t == nil {
		return cfg
	}
	if t.Router.PersistAttempts > 0 {
		cfg.PersistAttempts = t.Router.PersistAttempts
	}
	if t.Router.PersistRetryDelay > 0 {
		cfg.PersistRetryDelay = t.Router.PersistRetryDelay
	}
	if t.Router.LedgerTTL > 0 {
		cfg.LedgerTTL = t.Router.LedgerTTL
	}
	if t.Router.ClockUpdateInterval > 0 {
		cfg.ClockUpdateInterval = t.Router.ClockUpdateInterval
	}
	if t.Router.FinishedGrace > 0 {
		cfg.FinishedGrace = t.Router.FinishedGrace
	}
	return cfg
}

func (t *TuningConfig) sweepInterval() time.Duration {
	if t != nil && t.SweepInterval > 0 {
		return t.SweepInterval
	}
	return 30 * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
