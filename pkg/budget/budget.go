// Package budget tracks per-job spend against caps. Generalizes a
// per-iteration state counter (which only counted iterations and
// consecutive timeouts) into the full (steps, tokens, cost, time) accounting
// the job state machine requires.
package budget

import "time"

// Reason is why a budget is exhausted.
type Reason string

// Supported reasons.
const (
	ReasonSteps Reason = "steps"
	ReasonTokens Reason = "tokens"
	ReasonCost  Reason = "cost"
	ReasonTime  Reason = "time"
)

// Budget wraps an in-memory snapshot of a job's caps and usage. charge() is
// only a reservation; AgentLoop is responsible for keeping this in sync with
// the durable counters via Store.UpdateBudget before acting on the result.
type Budget struct {
	StepCap      int
	TokenCap     int
	CostCapCents int
	WallClock    time.Duration

	StepsUsed     int
	TokensUsed    int
	CostUsedCents int

	StartedAt time.Time
}

// New creates a Budget from caps, a per-mode wall clock, and a job start
// time. Usage starts wherever the caller's snapshot says it is (e.g.
// reloaded counters after a requeue).
func New(stepCap, tokenCap, costCapCents int, wallClock time.Duration, startedAt time.Time, stepsUsed, tokensUsed, costUsedCents int) *Budget {
	return &Budget{
		StepCap:       stepCap,
		TokenCap:      tokenCap,
		CostCapCents:  costCapCents,
		WallClock:     wallClock,
		StepsUsed:     stepsUsed,
		TokensUsed:    tokensUsed,
		CostUsedCents: costUsedCents,
		StartedAt:     startedAt,
	}
}

// Charge reserves the given increments in memory. All deltas must be ≥ 0.
func (b *Budget) Charge(steps, tokens, costCents int) {
	b.StepsUsed += steps
	b.TokensUsed += tokens
	b.CostUsedCents += costCents
}

// Exhausted reports which cap, if any, has been breached. Checks are
// evaluated in a fixed order (steps, tokens, cost, time) since only the
// first breach is reported and callers need a deterministic choice.
func (b *Budget) Exhausted(now time.Time) (Reason, bool) {
	switch {
	case b.StepsUsed >= b.StepCap:
		return ReasonSteps, true
	case b.TokensUsed > b.TokenCap:
		return ReasonTokens, true
	case b.CostUsedCents > b.CostCapCents:
		return ReasonCost, true
	case b.WallClock > 0 && !b.StartedAt.IsZero() && now.Sub(b.StartedAt) > b.WallClock:
		return ReasonTime, true
	default:
		return "", false
	}
}
