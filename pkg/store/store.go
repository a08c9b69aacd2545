// Package store is the durable job queue: the only component allowed to
// read or write the jobs/events/conversations tables. Every compound
// operation here runs inside a single transaction with a row lock, the same
// shape as a claim-one-row-with-skip-locked plus a stale-sweep pair
// (pkg/queue/worker.go, pkg/queue/orphan.go) — just built directly on
// pgx/v5 instead of through ent's generated client.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forgebound/jobcore/pkg/models"
)

// InsertJobParams are the producer-supplied fields for a new job.
type InsertJobParams struct {
	ID             uuid.UUID
	Goal           string
	Mode           models.Mode
	AgentType      string
	RepoPath       string
	ConversationID *uuid.UUID
	ParentJobID    *uuid.UUID
	Caps           models.Caps
}

// Store is the durable persistence boundary for jobs, events, and
// conversations. Implementations must give claim_one, update_budget,
// request_cancel, mark_terminal, and requeue serializable single-row
// semantics.
type Store interface {
	InsertJob(ctx context.Context, params InsertJobParams) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobFields(ctx context.Context, id uuid.UUID, delta models.JobFields) error
	UpdateBudget(ctx context.Context, id uuid.UUID, deltaSteps, deltaTokens, deltaCostCents int, currentAction *string) error

	ClaimOne(ctx context.Context, mode models.Mode, claimant string) (*models.Job, error)
	SetHeartbeat(ctx context.Context, id uuid.UUID, now time.Time) error
	RequestCancel(ctx context.Context, id uuid.UUID) error

	Complete(ctx context.Context, id uuid.UUID, now time.Time) error
	Fail(ctx context.Context, id uuid.UUID, now time.Time, reason string) error
	FinishCancel(ctx context.Context, id uuid.UUID, now time.Time) error
	Escalate(ctx context.Context, id uuid.UUID, now time.Time, reason string) error
	Resume(ctx context.Context, id uuid.UUID) error

	// Requeue moves one running job back to queued, preserving budget
	// counters and caps. The worker uses it when an Executor yields a job;
	// the Reaper's stale-claim recovery uses RequeueStale.
	Requeue(ctx context.Context, id uuid.UUID) error
	// RequeueStale requeues every running job whose heartbeat is older than
	// staleAfter (or has none), returning the number of rows touched.
	RequeueStale(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)

	ListEvents(ctx context.Context, jobID uuid.UUID, sinceSequence int64) ([]models.Event, error)
	AppendEvent(ctx context.Context, ev models.Event) (models.Event, error)

	// EnsureConversation inserts the conversation row if it doesn't already
	// exist, satisfying the foreign-key contract jobs.conversation_id relies
	// on without forcing callers to pre-create conversations explicitly.
	EnsureConversation(ctx context.Context, id uuid.UUID) error
}
