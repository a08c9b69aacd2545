package config

import "fmt"

// Validator validates a Config comprehensively, failing fast on the first
// error with a clear message, database first and then the sections that
// depend on it.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates the database, queue, and per-mode sections in turn.
func (v *Validator) ValidateAll() error {
	if err := v.validateDatabase(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateModes(); err != nil {
		return fmt.Errorf("mode validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	d := v.cfg.Database
	if d.Host == "" {
		return NewValidationError("database.host", fmt.Errorf("must not be empty"))
	}
	if d.Port <= 0 {
		return NewValidationError("database.port", fmt.Errorf("must be positive"))
	}
	if d.MaxIdleConns > d.MaxOpenConns {
		return NewValidationError("database.max_idle_conns",
			fmt.Errorf("cannot exceed max_open_conns (%d)", d.MaxOpenConns))
	}
	if d.MaxOpenConns < 1 {
		return NewValidationError("database.max_open_conns", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue.worker_count", fmt.Errorf("must be at least 1"))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue.poll_interval", fmt.Errorf("must be positive"))
	}
	if q.StaleAfter <= 0 {
		return NewValidationError("queue.stale_after", fmt.Errorf("must be positive"))
	}
	if q.HeartbeatInterval <= 0 {
		return NewValidationError("queue.heartbeat_interval", fmt.Errorf("must be positive"))
	}
	if q.HeartbeatInterval >= q.StaleAfter {
		return NewValidationError("queue.heartbeat_interval",
			fmt.Errorf("must be smaller than stale_after (%s), or every live worker would be reaped", q.StaleAfter))
	}
	return nil
}

func (v *Validator) validateModes() error {
	if len(v.cfg.Modes) == 0 {
		return NewValidationError("modes", fmt.Errorf("at least one mode must be configured"))
	}
	for mode, mc := range v.cfg.Modes {
		if !mode.Valid() {
			return NewValidationError("modes", fmt.Errorf("unknown mode %q", mode))
		}
		if mc == nil {
			return NewValidationError(fmt.Sprintf("modes.%s", mode), fmt.Errorf("must not be nil"))
		}
		if mc.StepCap < 0 {
			return NewValidationError(fmt.Sprintf("modes.%s.step_cap", mode), fmt.Errorf("must not be negative"))
		}
		if mc.TokenCap < 0 {
			return NewValidationError(fmt.Sprintf("modes.%s.token_cap", mode), fmt.Errorf("must not be negative"))
		}
		if mc.CostCapCents < 0 {
			return NewValidationError(fmt.Sprintf("modes.%s.cost_cap_cents", mode), fmt.Errorf("must not be negative"))
		}
		if mc.WallClock <= 0 {
			return NewValidationError(fmt.Sprintf("modes.%s.wall_clock", mode), fmt.Errorf("must be positive"))
		}
	}
	return nil
}
