// Package config loads and validates jobcore's runtime configuration: the
// database connection, per-mode job caps, and the queue/worker tuning knobs.
package config

import "time"

// Mode is the worker-pool selector. It governs default budget caps, mutation
// footprint limits, and which worker pool may claim a job.
type Mode string

// Supported modes.
const (
	ModeMechanic Mode = "mechanic"
	ModeGenius   Mode = "genius"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeMechanic, ModeGenius:
		return true
	default:
		return false
	}
}

// Config is the root configuration tree for a jobcore process.
type Config struct {
	Database DatabaseConfig        `yaml:"database"`
	Queue    WorkerConfig          `yaml:"queue"`
	Modes    map[Mode]*ModeConfig  `yaml:"modes"`
	Tools    ToolConfig            `yaml:"tools"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// WorkerConfig controls how the queue is polled, claimed, and reaped.
// Generalized to be mode-agnostic: the
// worker count and poll/heartbeat timings apply per mode-scoped pool.
type WorkerConfig struct {
	WorkerCount             int           `yaml:"worker_count"`
	PollInterval            time.Duration `yaml:"poll_interval"`
	PollIntervalJitter      time.Duration `yaml:"poll_interval_jitter"`
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
	ReaperInterval          time.Duration `yaml:"reaper_interval"`
	StaleAfter              time.Duration `yaml:"stale_after"`
}

// ModeConfig holds the default budget caps and footprint limits for one mode.
type ModeConfig struct {
	StepCap         int           `yaml:"step_cap"`
	TokenCap        int           `yaml:"token_cap"`
	CostCapCents    int           `yaml:"cost_cap_cents"`
	WallClock       time.Duration `yaml:"wall_clock"`
	MaxFootprintFiles int         `yaml:"max_footprint_files"`
	MaxFootprintLines int         `yaml:"max_footprint_lines"`
}

// ToolConfig holds per-tool invocation timeouts.
type ToolConfig struct {
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	Timeouts       map[string]time.Duration `yaml:"timeouts"`
}

// TimeoutFor returns the configured timeout for a named tool, falling back
// to DefaultTimeout when the tool has no override.
func (t ToolConfig) TimeoutFor(name string) time.Duration {
	if d, ok := t.Timeouts[name]; ok && d > 0 {
		return d
	}
	return t.DefaultTimeout
}

// ForMode returns the ModeConfig for m, or nil if unconfigured.
func (c *Config) ForMode(m Mode) *ModeConfig {
	return c.Modes[m]
}
