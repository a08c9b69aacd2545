package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, expands ${ENV_VAR} references,
// merges it over DefaultConfig, and validates the result.
//
// A missing path is not an error: the built-in defaults are returned as-is,
// mirroring deployments that configure entirely through environment
// variables (see DatabaseConfig, which is usually supplied that way).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, NewLoadError(path, err)
		}

		expanded := ExpandEnv(raw)

		var fileCfg Config
		if err := yaml.Unmarshal(expanded, &fileCfg); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}

		mergeConfig(cfg, &fileCfg)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	return cfg, nil
}

// mergeWorkerConfig overlays non-zero fields of src onto dst.
func mergeWorkerConfig(dst *WorkerConfig, src WorkerConfig) {
	if src.WorkerCount != 0 {
		dst.WorkerCount = src.WorkerCount
	}
	if src.PollInterval != 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.PollIntervalJitter != 0 {
		dst.PollIntervalJitter = src.PollIntervalJitter
	}
	if src.HeartbeatInterval != 0 {
		dst.HeartbeatInterval = src.HeartbeatInterval
	}
	if src.GracefulShutdownTimeout != 0 {
		dst.GracefulShutdownTimeout = src.GracefulShutdownTimeout
	}
	if src.ReaperInterval != 0 {
		dst.ReaperInterval = src.ReaperInterval
	}
	if src.StaleAfter != 0 {
		dst.StaleAfter = src.StaleAfter
	}
}

// mergeModeConfig overlays non-zero fields of src onto dst.
func mergeModeConfig(dst *ModeConfig, src *ModeConfig) {
	if src.StepCap != 0 {
		dst.StepCap = src.StepCap
	}
	if src.TokenCap != 0 {
		dst.TokenCap = src.TokenCap
	}
	if src.CostCapCents != 0 {
		dst.CostCapCents = src.CostCapCents
	}
	if src.WallClock != 0 {
		dst.WallClock = src.WallClock
	}
	if src.MaxFootprintFiles != 0 {
		dst.MaxFootprintFiles = src.MaxFootprintFiles
	}
	if src.MaxFootprintLines != 0 {
		dst.MaxFootprintLines = src.MaxFootprintLines
	}
}

// mergeConfig overlays non-zero fields of src onto dst. Only fields a
// deployment is expected to override are merged field-by-field; Modes and
// Tools.Timeouts are merged per-key so a partial override doesn't wipe out
// the untouched defaults.
func mergeConfig(dst, src *Config) {
	if src.Database.Host != "" {
		dst.Database.Host = src.Database.Host
	}
	if src.Database.Port != 0 {
		dst.Database.Port = src.Database.Port
	}
	if src.Database.User != "" {
		dst.Database.User = src.Database.User
	}
	if src.Database.Password != "" {
		dst.Database.Password = src.Database.Password
	}
	if src.Database.Database != "" {
		dst.Database.Database = src.Database.Database
	}
	if src.Database.SSLMode != "" {
		dst.Database.SSLMode = src.Database.SSLMode
	}
	if src.Database.MaxOpenConns != 0 {
		dst.Database.MaxOpenConns = src.Database.MaxOpenConns
	}
	if src.Database.MaxIdleConns != 0 {
		dst.Database.MaxIdleConns = src.Database.MaxIdleConns
	}
	if src.Database.ConnMaxLifetime != 0 {
		dst.Database.ConnMaxLifetime = src.Database.ConnMaxLifetime
	}
	if src.Database.ConnMaxIdleTime != 0 {
		dst.Database.ConnMaxIdleTime = src.Database.ConnMaxIdleTime
	}

	mergeWorkerConfig(&dst.Queue, src.Queue)

	for mode, override := range src.Modes {
		if override == nil {
			continue
		}
		if dst.Modes == nil {
			dst.Modes = map[Mode]*ModeConfig{}
		}
		base, ok := dst.Modes[mode]
		if !ok || base == nil {
			def := DefaultModeConfig(mode)
			dst.Modes[mode] = def
			base = def
		}
		mergeModeConfig(base, override)
	}

	if src.Tools.DefaultTimeout != 0 {
		dst.Tools.DefaultTimeout = src.Tools.DefaultTimeout
	}
	for name, d := range src.Tools.Timeouts {
		if dst.Tools.Timeouts == nil {
			dst.Tools.Timeouts = make(map[string]time.Duration, len(src.Tools.Timeouts))
		}
		dst.Tools.Timeouts[name] = d
	}
}
