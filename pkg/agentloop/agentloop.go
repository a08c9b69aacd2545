// Package agentloop implements the bounded, cooperative per-job step loop:
// iterate, check abort conditions, call the planner, parse the decision,
// execute tools, append events, loop. Consecutive-failure tracking is
// generalized here from timeouts to verification-tool failures. The
// execution context, LLM client, and tool executor collapse onto this
// module's planner.Planner and tools.Registry boundaries; AgentLoop itself
// implements queue.Executor so a WorkerPool can drive it without knowing
// anything about budgets, tools, or planners.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgebound/jobcore/pkg/budget"
	"github.com/forgebound/jobcore/pkg/config"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/planner"
	"github.com/forgebound/jobcore/pkg/queue"
	"github.com/forgebound/jobcore/pkg/store"
	"github.com/forgebound/jobcore/pkg/tools"
)

// eventLedger is the one ledger operation AgentLoop needs: appending an
// event and getting back its assigned sequence. Declared as a narrow
// interface here (rather than depending on *ledger.Ledger directly) so a
// fake can stand in for it in tests without a real database connection.
type eventLedger interface {
	Append(ctx context.Context, ev models.Event) (models.Event, error)
}

// maxVerificationRetries is the number of consecutive verification-tool
// failures AgentLoop tolerates before escalating: up to three immediate
// retry cycles, and on the fourth consecutive failure it escalates.
const maxVerificationRetries = 3

// ModeConfigFunc resolves the budget caps and footprint limits for a mode.
// Matches config.Config.ForMode, defined as a func type here so AgentLoop
// doesn't need to import the whole config tree.
type ModeConfigFunc func(models.Mode) *config.ModeConfig

// AgentLoop drives one job from claim to terminal Outcome. At most one
// AgentLoop runs per job at a time (the WorkerPool enforces this by
// construction: a job is claimed by exactly one worker).
type AgentLoop struct {
	store      store.Store
	registry   tools.Registry
	planner    planner.Planner
	ledger     eventLedger
	modeConfig ModeConfigFunc
	toolConfig config.ToolConfig
}

// New wires an AgentLoop. toolConfig supplies per-tool invocation timeouts:
// every external call gets an explicit timeout.
func New(st store.Store, registry tools.Registry, pl planner.Planner, lg eventLedger, modeConfig ModeConfigFunc, toolConfig config.ToolConfig) *AgentLoop {
	return &AgentLoop{
		store:      st,
		registry:   registry,
		planner:    pl,
		ledger:     lg,
		modeConfig: modeConfig,
		toolConfig: toolConfig,
	}
}

var _ queue.Executor = (*AgentLoop)(nil)

// Execute implements queue.Executor. It never panics out to the caller on an
// expected failure: every error kind the loop knows about becomes an
// ExecutionResult. An unexpected panic is the Worker boundary's job to catch,
// not this loop's.
func (a *AgentLoop) Execute(ctx context.Context, job *models.Job) *queue.ExecutionResult {
	modeCfg := a.modeConfig(job.Mode)
	if modeCfg == nil {
		return &queue.ExecutionResult{Status: models.StatusFailed, Reason: fmt.Sprintf("no mode config for %q", job.Mode)}
	}

	startedAt := time.Now()
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}
	b := budget.New(job.Caps.StepCap, job.Caps.TokenCap, job.Caps.CostCapCents, modeCfg.WallClock,
		startedAt, job.Used.StepsUsed, job.Used.TokensUsed, job.Used.CostUsedCents)

	history, err := a.store.ListEvents(ctx, job.ID, 0)
	if err != nil {
		return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "loading history", Err: err}
	}

	run := &run{
		loop:      a,
		job:       job,
		modeCfg:   modeCfg,
		budget:    b,
		history:   history,
		traceID:   uuid.NewString(),
		toolNames: toolNameSet(a.registry.List()),
	}
	return run.execute(ctx)
}

func toolNameSet(defs []tools.Definition) map[string]tools.Definition {
	m := make(map[string]tools.Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return m
}

// run holds the mutable state of a single AgentLoop.Execute call.
type run struct {
	loop    *AgentLoop
	job     *models.Job
	modeCfg *config.ModeConfig
	budget  *budget.Budget
	history []models.Event
	traceID string

	toolNames             map[string]tools.Definition
	verificationFailures int
}

func (r *run) execute(ctx context.Context) *queue.ExecutionResult {
	for {
		if cancelled, err := r.checkCancellation(ctx); err != nil {
			return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "checking cancellation", Err: err}
		} else if cancelled {
			return &queue.ExecutionResult{Status: models.StatusAborted}
		}

		if reason, exhausted := r.budget.Exhausted(time.Now()); exhausted {
			r.appendEvent(ctx, models.EventError, nil, nil, nil, fmt.Sprintf("budget exhausted: %s", reason), nil, nil)
			return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "budget_" + string(reason)}
		}

		decision, err := r.loop.planner.Propose(ctx, planner.Request{
			Job:     r.job,
			Goal:    r.job.Goal,
			History: r.history,
			Tools:   r.loop.registry.List(),
		})
		if err != nil {
			r.appendEvent(ctx, models.EventError, nil, nil, nil, fmt.Sprintf("planner error: %v", err), nil, nil)
			return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "planner_error", Err: err}
		}

		switch decision.Kind {
		case planner.KindAnswer:
			r.appendEvent(ctx, models.EventCompletion, nil, nil, nil, decision.Answer, &decision.TokensUsed, &decision.CostCents)
			r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, "completed")
			return &queue.ExecutionResult{Status: models.StatusSucceeded}

		case planner.KindEscalate:
			r.appendEvent(ctx, models.EventEscalation, nil, nil, nil, decision.EscalationReason, &decision.TokensUsed, &decision.CostCents)
			r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, "escalated")
			return &queue.ExecutionResult{Status: models.StatusWaitingHuman, Reason: decision.EscalationReason}

		case planner.KindCall:
			if result := r.handleCall(ctx, decision); result != nil {
				return result
			}

		default:
			r.appendEvent(ctx, models.EventError, nil, nil, nil, fmt.Sprintf("planner returned unknown decision kind %q", decision.Kind), nil, nil)
			return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "planner_invalid_decision"}
		}
	}
}

// handleCall executes one planner-requested tool call. It returns a non-nil
// ExecutionResult only when the job must stop (a tool error, cancellation
// seen just before a mutating call, or repeated verification failures
// escalating); otherwise the loop continues. Budget exhaustion is not
// checked here but at the top of the next loop iteration.
func (r *run) handleCall(ctx context.Context, decision planner.Decision) *queue.ExecutionResult {
	toolName := decision.ToolName
	call := tools.Call{Name: toolName, Params: decision.Params}

	def, ok := r.toolNames[toolName]
	t, registered := r.loop.registry.Get(toolName)
	if !ok || !registered {
		r.appendEvent(ctx, models.EventToolResult, &toolName, decision.Params, []byte(`"unknown tool"`),
			fmt.Sprintf("unknown tool %q", toolName), nil, nil)
		r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, "unknown_tool")
		return nil
	}

	if def.Category == tools.Mutating {
		declared, err := tools.DeclaredFootprint(call)
		if err == nil && declared.Exceeds(r.modeCfg.MaxFootprintFiles, r.modeCfg.MaxFootprintLines) {
			r.appendEvent(ctx, models.EventToolResult, &toolName, decision.Params, nil,
				fmt.Sprintf("footprint %+v exceeds %s limits (%d files/%d lines)", declared, r.job.Mode, r.modeCfg.MaxFootprintFiles, r.modeCfg.MaxFootprintLines),
				nil, nil)
			r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, "footprint_rejected")
			return nil
		}

		// Re-check cancellation immediately before committing a mutating
		// call: checked again before any mutating tool call.
		if cancelled, err := r.checkCancellation(ctx); err != nil {
			return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "checking cancellation", Err: err}
		} else if cancelled {
			return &queue.ExecutionResult{Status: models.StatusAborted}
		}
	}

	toolCtx := ctx
	if timeout := r.loop.toolConfig.TimeoutFor(toolName); timeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.appendEvent(ctx, models.EventToolCall, &toolName, decision.Params, nil, "", nil, nil)

	result, err := t.Execute(toolCtx, call)
	if err != nil {
		r.appendEvent(ctx, models.EventToolResult, &toolName, decision.Params, nil, err.Error(), nil, nil)
		r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, "tool_fatal")
		return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "tool_error", Err: err}
	}

	r.appendEvent(ctx, models.EventToolResult, &toolName, decision.Params, result.Content, result.Summary, nil, nil)

	if def.Verification {
		if result.IsError {
			r.verificationFailures++
			if r.verificationFailures > maxVerificationRetries {
				r.appendEvent(ctx, models.EventEscalation, nil, nil, nil,
					fmt.Sprintf("%s failed %d consecutive times", toolName, r.verificationFailures), nil, nil)
				r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, "verification_failed_repeatedly")
				return &queue.ExecutionResult{Status: models.StatusWaitingHuman, Reason: "verification_failed_repeatedly"}
			}
		} else {
			r.verificationFailures = 0
		}
	}

	if result.IsError && !result.Recoverable {
		r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, "tool_fatal")
		return &queue.ExecutionResult{Status: models.StatusFailed, Reason: "tool_error", Err: fmt.Errorf("%s: %s", toolName, result.Summary)}
	}

	r.charge(ctx, 1, decision.TokensUsed, decision.CostCents, fmt.Sprintf("ran %s", toolName))
	return nil
}

// checkCancellation reports whether the job has been cancelled, either by
// operator request (reflected in the job's persisted status) or by the
// worker's own context being cancelled (shutdown escalation).
func (r *run) checkCancellation(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	current, err := r.loop.store.GetJob(ctx, r.job.ID)
	if err != nil {
		return false, err
	}
	return current.Status == models.StatusCancelling, nil
}

// appendEvent writes one ledger event and, on success, folds it into this
// run's local history so the next Planner call sees it without a re-query.
func (r *run) appendEvent(ctx context.Context, kind models.EventKind, toolName *string, params, result []byte, summary string, tokensUsed, costCents *int) {
	ev := models.Event{
		JobID:      r.job.ID,
		TraceID:    r.traceID,
		Kind:       kind,
		ToolName:   toolName,
		Params:     params,
		Result:     result,
		Summary:    summary,
		TokensUsed: tokensUsed,
		CostCents:  costCents,
	}
	appended, err := r.loop.ledger.Append(ctx, ev)
	if err != nil {
		return
	}
	r.history = append(r.history, appended)
}

// charge reserves the increment in memory and durably persists it via
// Store.UpdateBudget before the loop acts on the result, keeping the two in
// sync. A failed durable write (e.g. rejected by the steps_within_cap check
// constraint) desyncs the in-memory and durable counters, so it is logged
// rather than swallowed even though the in-memory reservation already
// happened and the loop must still act on the result.
func (r *run) charge(ctx context.Context, steps, tokens, costCents int, currentAction string) {
	r.budget.Charge(steps, tokens, costCents)
	action := currentAction
	if err := r.loop.store.UpdateBudget(ctx, r.job.ID, steps, tokens, costCents, &action); err != nil {
		slog.Error("durable budget update failed, in-memory and durable counters now out of sync",
			"job_id", r.job.ID, "error", err)
	}
}
