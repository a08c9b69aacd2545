package config

import "time"

// DefaultConfig returns the built-in configuration defaults. Callers load a
// YAML file over this to override individual fields.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "jobcore",
			Database:        "jobcore",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		Queue: DefaultWorkerConfig(),
		Modes: map[Mode]*ModeConfig{
			ModeMechanic: DefaultModeConfig(ModeMechanic),
			ModeGenius:   DefaultModeConfig(ModeGenius),
		},
		Tools: ToolConfig{
			DefaultTimeout: 30 * time.Second,
		},
	}
}

// DefaultWorkerConfig returns the built-in queue/worker defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		HeartbeatInterval:       10 * time.Second,
		GracefulShutdownTimeout: 15 * time.Minute,
		ReaperInterval:          10 * time.Second,
		StaleAfter:              30 * time.Second,
	}
}

// DefaultModeConfig returns the built-in budget defaults for a mode. The
// mechanic/genius wall-clock split (60s/300s) and the separate token-cap
// split (50000/200000) are kept as configuration rather than constants:
// neither ratio is claimed authoritative.
func DefaultModeConfig(mode Mode) *ModeConfig {
	switch mode {
	case ModeMechanic:
		return &ModeConfig{
			StepCap:           20,
			TokenCap:          50_000,
			CostCapCents:      200,
			WallClock:         60 * time.Second,
			MaxFootprintFiles: 5,
			MaxFootprintLines: 200,
		}
	case ModeGenius:
		return &ModeConfig{
			StepCap:           60,
			TokenCap:          200_000,
			CostCapCents:      2000,
			WallClock:         300 * time.Second,
			MaxFootprintFiles: 20,
			MaxFootprintLines: 1000,
		}
	default:
		return &ModeConfig{
			StepCap:           20,
			TokenCap:          50_000,
			CostCapCents:      200,
			WallClock:         60 * time.Second,
			MaxFootprintFiles: 5,
			MaxFootprintLines: 200,
		}
	}
}
