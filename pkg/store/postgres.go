package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgebound/jobcore/pkg/errkind"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/statemachine"
)

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The pool's migrations are assumed
// to already be applied (see database.NewClient).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const jobColumns = `id, goal, mode, agent_type, status, repo_path, conversation_id, parent_job_id,
	step_cap, token_cap, cost_cap_cents, steps_used, tokens_used, cost_used_cents,
	claimant, created_at, started_at, last_heartbeat_at, cancel_requested_at, finished_at,
	current_action, last_error, escalation_reason`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.Goal, &j.Mode, &j.AgentType, &j.Status, &j.RepoPath, &j.ConversationID, &j.ParentJobID,
		&j.Caps.StepCap, &j.Caps.TokenCap, &j.Caps.CostCapCents, &j.Used.StepsUsed, &j.Used.TokensUsed, &j.Used.CostUsedCents,
		&j.Claimant, &j.CreatedAt, &j.StartedAt, &j.LastHeartbeatAt, &j.CancelRequestedAt, &j.FinishedAt,
		&j.CurrentAction, &j.LastError, &j.EscalationReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errkind.New(errkind.NotFound, "store.scanJob", "job not found")
		}
		return nil, errkind.Wrap(errkind.Retryable, "store.scanJob", "scanning job row", err)
	}
	return &j, nil
}

// InsertJob implements Store.
func (s *PostgresStore) InsertJob(ctx context.Context, p InsertJobParams) (*models.Job, error) {
	if p.Goal == "" || p.RepoPath == "" || p.AgentType == "" {
		return nil, errkind.New(errkind.Validation, "store.InsertJob", "goal, agent_type, and repo_path are required")
	}
	if !p.Mode.Valid() {
		return nil, errkind.New(errkind.Validation, "store.InsertJob", fmt.Sprintf("unknown mode %q", p.Mode))
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO jobs (id, goal, mode, agent_type, status, repo_path, conversation_id, parent_job_id,
			step_cap, token_cap, cost_cap_cents)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, $8, $9, $10)
		RETURNING %s`, jobColumns),
		p.ID, p.Goal, p.Mode, p.AgentType, p.RepoPath, p.ConversationID, p.ParentJobID,
		p.Caps.StepCap, p.Caps.TokenCap, p.Caps.CostCapCents,
	)

	job, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		const uniqueViolation = "23505"
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, errkind.Wrap(errkind.Conflict, "store.InsertJob", "job id already exists", err)
		}
		return nil, err
	}
	return job, nil
}

// GetJob implements Store.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns), id)
	return scanJob(row)
}

// UpdateJobFields implements Store.
func (s *PostgresStore) UpdateJobFields(ctx context.Context, id uuid.UUID, delta models.JobFields) error {
	sets := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if delta.CurrentAction != nil {
		sets = append(sets, "current_action = "+arg(*delta.CurrentAction))
	}
	if delta.LastError != nil {
		sets = append(sets, "last_error = "+arg(*delta.LastError))
	}
	if delta.EscalationReason != nil {
		sets = append(sets, "escalation_reason = "+arg(*delta.EscalationReason))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = %s", joinComma(sets), arg(id))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return errkind.Wrap(errkind.Retryable, "store.UpdateJobFields", "updating job fields", err)
	}
	if tag.RowsAffected() == 0 {
		return errkind.New(errkind.NotFound, "store.UpdateJobFields", "job not found")
	}
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// UpdateBudget implements Store. Increments are applied atomically; callers
// must pass non-negative deltas (budget usage only ever increases).
func (s *PostgresStore) UpdateBudget(ctx context.Context, id uuid.UUID, deltaSteps, deltaTokens, deltaCostCents int, currentAction *string) error {
	if deltaSteps < 0 || deltaTokens < 0 || deltaCostCents < 0 {
		return errkind.New(errkind.Validation, "store.UpdateBudget", "budget deltas must be non-negative")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET steps_used = steps_used + $1,
		    tokens_used = tokens_used + $2,
		    cost_used_cents = cost_used_cents + $3,
		    current_action = COALESCE($4, current_action)
		WHERE id = $5`,
		deltaSteps, deltaTokens, deltaCostCents, currentAction, id,
	)
	if err != nil {
		return errkind.Wrap(errkind.Retryable, "store.UpdateBudget", "updating budget", err)
	}
	if tag.RowsAffected() == 0 {
		return errkind.New(errkind.NotFound, "store.UpdateBudget", "job not found")
	}
	return nil
}

// ClaimOne implements the claim protocol: oldest-first
// FIFO within a mode, FOR UPDATE SKIP LOCKED so concurrent claimants never
// collide, and a cancelling row found mid-scan is finished off as aborted
// instead of ever being handed to a worker.
func (s *PostgresStore) ClaimOne(ctx context.Context, mode models.Mode, claimant string) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.Retryable, "store.ClaimOne", "beginning transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE mode = $1 AND status IN ('queued', 'cancelling')
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, jobColumns), mode)

	job, err := scanJob(row)
	if err != nil {
		if errkind.Is(err, errkind.NotFound) {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now()

	if job.Status == models.StatusCancelling {
		eff, terr := statemachine.Transition(job.Status, statemachine.EventFinishCancel)
		if terr != nil {
			return nil, terr
		}
		if err := applyTransition(ctx, tx, job.ID, eff, now, ""); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, errkind.Wrap(errkind.Retryable, "store.ClaimOne", "committing finish_cancel", err)
		}
		return nil, nil
	}

	eff, err := statemachine.Transition(job.Status, statemachine.EventClaim)
	if err != nil {
		return nil, err
	}
	if err := applyClaim(ctx, tx, job.ID, eff, claimant, now); err != nil {
		return nil, err
	}

	row = tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns), job.ID)
	claimed, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errkind.Wrap(errkind.Retryable, "store.ClaimOne", "committing claim", err)
	}
	return claimed, nil
}

func applyClaim(ctx context.Context, tx pgx.Tx, id uuid.UUID, eff statemachine.Effects, claimant string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = $1,
		    claimant = $2,
		    started_at = COALESCE(started_at, $3),
		    last_heartbeat_at = $3
		WHERE id = $4`,
		eff.NewStatus, claimant, now, id,
	)
	if err != nil {
		return errkind.Wrap(errkind.Retryable, "store.applyClaim", "claiming job", err)
	}
	return nil
}

// applyTransition applies a statemachine.Effects to a job row, covering every
// non-claim transition (complete/fail/finish_cancel/requeue/cancel_req/
// escalate/resume). reason is written to last_error or escalation_reason
// depending on the target status.
func applyTransition(ctx context.Context, tx pgx.Tx, id uuid.UUID, eff statemachine.Effects, now time.Time, reason string) error {
	sets := []string{"status = $1"}
	args := []any{eff.NewStatus}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if eff.SetFinishedAt {
		sets = append(sets, "finished_at = "+arg(now))
	}
	if eff.SetCancelRequestedAt {
		sets = append(sets, "cancel_requested_at = "+arg(now))
	}
	if eff.ClearClaimant {
		sets = append(sets, "claimant = NULL")
	}
	if eff.ClearStartedAt {
		sets = append(sets, "started_at = NULL")
	}
	if eff.ClearLastHeartbeatAt {
		sets = append(sets, "last_heartbeat_at = NULL")
	}
	if eff.NewStatus == models.StatusFailed {
		sets = append(sets, "last_error = "+arg(reason))
	}
	if eff.NewStatus == models.StatusWaitingHuman {
		sets = append(sets, "escalation_reason = "+arg(reason))
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = %s", joinComma(sets), arg(id))
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return errkind.Wrap(errkind.Retryable, "store.applyTransition", "applying transition", err)
	}
	if tag.RowsAffected() == 0 {
		return errkind.New(errkind.NotFound, "store.applyTransition", "job not found")
	}
	return nil
}

func (s *PostgresStore) transitionByID(ctx context.Context, id uuid.UUID, ev statemachine.Event, now time.Time, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errkind.Wrap(errkind.Retryable, "store.transitionByID", "beginning transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current models.Status
	if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errkind.New(errkind.NotFound, "store.transitionByID", "job not found")
		}
		return errkind.Wrap(errkind.Retryable, "store.transitionByID", "locking job row", err)
	}

	eff, err := statemachine.Transition(current, ev)
	if err != nil {
		return err
	}
	if err := applyTransition(ctx, tx, id, eff, now, reason); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errkind.Wrap(errkind.Retryable, "store.transitionByID", "committing transition", err)
	}
	return nil
}

// SetHeartbeat implements Store. A no-op (not an error) if the job is not
// currently claim-holding.
func (s *PostgresStore) SetHeartbeat(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat_at = $1
		WHERE id = $2 AND status IN ('running', 'cancelling')`, now, id)
	if err != nil {
		return errkind.Wrap(errkind.Retryable, "store.SetHeartbeat", "updating heartbeat", err)
	}
	return nil
}

// RequestCancel implements Store. Legal from both queued and running (the
// two source states the state diagram names for cancel_req).
func (s *PostgresStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	return s.transitionByID(ctx, id, statemachine.EventCancelRequest, time.Now(), "")
}

// Complete implements Store: running → succeeded.
func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.transitionByID(ctx, id, statemachine.EventComplete, now, "")
}

// Fail implements Store: running → failed, recording the reason as last_error.
func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, now time.Time, reason string) error {
	return s.transitionByID(ctx, id, statemachine.EventFail, now, reason)
}

// FinishCancel implements Store: cancelling → aborted.
func (s *PostgresStore) FinishCancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.transitionByID(ctx, id, statemachine.EventFinishCancel, now, "")
}

// Escalate implements Store: running → waiting_human, recording the reason.
func (s *PostgresStore) Escalate(ctx context.Context, id uuid.UUID, now time.Time, reason string) error {
	return s.transitionByID(ctx, id, statemachine.EventEscalate, now, reason)
}

// Resume implements Store: waiting_human → queued, preserving budget.
func (s *PostgresStore) Resume(ctx context.Context, id uuid.UUID) error {
	return s.transitionByID(ctx, id, statemachine.EventResume, time.Now(), "")
}

// Requeue implements Store: running → queued, preserving budget.
func (s *PostgresStore) Requeue(ctx context.Context, id uuid.UUID) error {
	return s.transitionByID(ctx, id, statemachine.EventRequeue, time.Now(), "")
}

// RequeueStale implements the Reaper's sweep: every running
// job whose heartbeat predates the cutoff is requeued in one statement, so
// two reapers racing on the same snapshot can't double-requeue a row.
func (s *PostgresStore) RequeueStale(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	cutoff := now.Add(-staleAfter)
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued', claimant = NULL, started_at = NULL, last_heartbeat_at = NULL
		WHERE status = 'running'
		  AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)`, cutoff)
	if err != nil {
		return 0, errkind.Wrap(errkind.Retryable, "store.RequeueStale", "sweeping stale jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListEvents implements Store.
func (s *PostgresStore) ListEvents(ctx context.Context, jobID uuid.UUID, sinceSequence int64) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, trace_id, sequence, kind, tool_name, params, result, summary, tokens_used, cost_cents, created_at
		FROM events
		WHERE job_id = $1 AND sequence > $2
		ORDER BY sequence ASC`, jobID, sinceSequence)
	if err != nil {
		return nil, errkind.Wrap(errkind.Retryable, "store.ListEvents", "querying events", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.TraceID, &e.Sequence, &e.Kind, &e.ToolName,
			&e.Params, &e.Result, &e.Summary, &e.TokensUsed, &e.CostCents, &e.CreatedAt); err != nil {
			return nil, errkind.Wrap(errkind.Retryable, "store.ListEvents", "scanning event row", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Retryable, "store.ListEvents", "iterating events", err)
	}
	return events, nil
}

// AppendEvent implements Store. Inserts exactly one row and assigns the next
// monotone per-job sequence, locking the job row first so concurrent
// appenders for the same job serialize rather than racing on MAX(sequence).
func (s *PostgresStore) AppendEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Event{}, errkind.Wrap(errkind.Retryable, "store.AppendEvent", "beginning transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lockedID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM jobs WHERE id = $1 FOR UPDATE`, ev.JobID).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Event{}, errkind.New(errkind.NotFound, "store.AppendEvent", "job not found")
		}
		return models.Event{}, errkind.Wrap(errkind.Retryable, "store.AppendEvent", "locking job row", err)
	}

	var nextSeq int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE job_id = $1`, ev.JobID).Scan(&nextSeq); err != nil {
		return models.Event{}, errkind.Wrap(errkind.Retryable, "store.AppendEvent", "computing next sequence", err)
	}

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Sequence = nextSeq

	row := tx.QueryRow(ctx, `
		INSERT INTO events (id, job_id, trace_id, sequence, kind, tool_name, params, result, summary, tokens_used, cost_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		ev.ID, ev.JobID, ev.TraceID, ev.Sequence, ev.Kind, ev.ToolName, ev.Params, ev.Result, ev.Summary, ev.TokensUsed, ev.CostCents,
	)
	if err := row.Scan(&ev.CreatedAt); err != nil {
		return models.Event{}, errkind.Wrap(errkind.Retryable, "store.AppendEvent", "inserting event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Event{}, errkind.Wrap(errkind.Retryable, "store.AppendEvent", "committing event append", err)
	}
	return ev, nil
}

// EnsureConversation implements Store.
func (s *PostgresStore) EnsureConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO conversations (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return errkind.Wrap(errkind.Retryable, "store.EnsureConversation", "inserting conversation", err)
	}
	return nil
}
