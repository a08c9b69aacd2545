// Package queue provides mode-scoped worker pools that claim jobs from the
// Store, hand them to an Executor, and record the terminal outcome.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/forgebound/jobcore/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no claimable jobs exist for a mode right now.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the pool's concurrent job limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// Executor runs a claimed job's agent loop to completion (or interruption).
// It owns the bounded step loop internally: propose, call tools, evaluate
// budget, and either answer, escalate, or run out of budget. The worker only
// handles claiming, heartbeat, and recording whatever terminal outcome the
// Executor reports.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one claimed run. All
// intermediate state (ledger events, budget charges) was already written by
// the Executor as it ran; this only carries what the worker needs to close
// out the job row.
type ExecutionResult struct {
	Status models.Status // succeeded, failed, waiting_human, aborted/cancelling (cancelled), or queued (yield back to the queue)
	Reason string        // last_error (failed) or escalation_reason (waiting_human)
	Err    error
}

// EventPublisher notifies interested subscribers of a job's status changes.
// Implemented by pkg/ledger; defined here so queue has no import on it.
type EventPublisher interface {
	PublishJobStatus(ctx context.Context, jobID uuid.UUID, status models.Status) error
}

// JobRegistry is the subset of WorkerPool a Worker uses to register and
// cancel in-flight jobs on demand (e.g. an operator-triggered cancel_req).
type JobRegistry interface {
	RegisterJob(jobID uuid.UUID, cancel context.CancelFunc)
	UnregisterJob(jobID uuid.UUID)
}

// PoolHealth reports the health of a single mode-scoped worker pool.
type PoolHealth struct {
	Mode             models.Mode    `json:"mode"`
	IsHealthy        bool           `json:"is_healthy"`
	StoreReachable   bool           `json:"store_reachable"`
	StoreError       string         `json:"store_error,omitempty"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveJobs       int            `json:"active_jobs"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastReaperSweep  time.Time      `json:"last_reaper_sweep"`
	JobsRequeued     int            `json:"jobs_requeued"`
}

// WorkerHealth reports the health of a single worker goroutine.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
