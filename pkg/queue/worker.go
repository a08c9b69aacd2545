package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgebound/jobcore/pkg/config"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes jobs in one mode.
type Worker struct {
	id             string
	claimant       string
	mode           models.Mode
	store          store.Store
	config         *config.WorkerConfig
	executor       Executor
	eventPublisher EventPublisher
	pool           JobRegistry
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker. eventPublisher may be nil (ledger
// fan-out disabled).
func NewWorker(id, claimant string, mode models.Mode, st store.Store, cfg *config.WorkerConfig, executor Executor, pool JobRegistry, eventPublisher EventPublisher) *Worker {
	return &Worker{
		id:             id,
		claimant:       claimant,
		mode:           mode,
		store:          st,
		config:         cfg,
		executor:       executor,
		eventPublisher: eventPublisher,
		pool:           pool,
		stopCh:         make(chan struct{}),
		status:         WorkerStatusIdle,
		lastActivity:   time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "mode", w.mode)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next job for this worker's mode and runs it to a
// terminal (or requeue) outcome.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.store.ClaimOne(ctx, w.mode, w.claimant)
	if err != nil {
		return fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return ErrNoJobsAvailable
	}

	log := slog.With("job_id", job.ID, "worker_id", w.id)
	log.Info("job claimed")

	w.publishStatus(ctx, job.ID, models.StatusRunning)

	w.setStatus(WorkerStatusWorking, job.ID.String())
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	w.pool.RegisterJob(job.ID, cancelJob)
	defer w.pool.UnregisterJob(job.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, job.ID)

	result := w.executor.Execute(jobCtx, job)
	cancelHeartbeat()

	if result == nil {
		result = &ExecutionResult{Status: models.StatusFailed, Err: fmt.Errorf("executor returned nil result")}
	}
	if result.Err != nil && errors.Is(jobCtx.Err(), context.Canceled) && result.Status == "" {
		result.Status = models.StatusCancelling
	}

	if err := w.applyResult(context.Background(), job.ID, result); err != nil {
		log.Error("failed to apply terminal result", "error", err)
		return err
	}

	w.publishStatus(context.Background(), job.ID, result.Status)

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete", "status", result.Status)
	return nil
}

// applyResult translates an ExecutionResult into the matching Store
// transition. A requeue (the Executor decided to yield) goes back to queued
// rather than a terminal state; budget exhaustion arrives as failed.
func (w *Worker) applyResult(ctx context.Context, jobID uuid.UUID, result *ExecutionResult) error {
	now := time.Now()
	switch result.Status {
	case models.StatusSucceeded:
		return w.store.Complete(ctx, jobID, now)
	case models.StatusFailed:
		reason := result.Reason
		if reason == "" && result.Err != nil {
			reason = result.Err.Error()
		}
		return w.store.Fail(ctx, jobID, now, reason)
	case models.StatusWaitingHuman:
		return w.store.Escalate(ctx, jobID, now, result.Reason)
	case models.StatusCancelling, models.StatusAborted:
		return w.store.FinishCancel(ctx, jobID, now)
	case models.StatusQueued:
		return w.store.Requeue(ctx, jobID)
	default:
		return fmt.Errorf("unknown terminal status %q from executor", result.Status)
	}
}

// runHeartbeat periodically refreshes last_heartbeat_at so the Reaper
// doesn't mistake a live job for a stale one.
func (w *Worker) runHeartbeat(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.SetHeartbeat(ctx, jobID, time.Now()); err != nil {
				slog.Warn("heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// publishStatus notifies subscribers of a job's status change. Non-blocking:
// errors are logged, never returned.
func (w *Worker) publishStatus(ctx context.Context, jobID uuid.UUID, status models.Status) {
	if w.eventPublisher == nil {
		return
	}
	if err := w.eventPublisher.PublishJobStatus(ctx, jobID, status); err != nil {
		slog.Warn("failed to publish job status", "job_id", jobID, "status", status, "error", err)
	}
}

// pollInterval returns the poll duration with jitter, spreading concurrent
// workers' scans apart so they don't all hit ClaimOne in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
