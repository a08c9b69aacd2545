package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/forgebound/jobcore/pkg/config"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/store"
)

// WorkerPool manages the workers claiming jobs for a single mode. Mode
// isolation is enforced at the Store layer (ClaimOne filters by mode); the
// pool just owns that mode's worker goroutines and cancel registry.
type WorkerPool struct {
	mode     models.Mode
	claimant string
	store    store.Store
	config   *config.WorkerConfig
	executor Executor
	reaper   *Reaper
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	activeJobs map[uuid.UUID]context.CancelFunc
	mu         sync.RWMutex
	started    bool
}

// NewWorkerPool creates a pool of workers scoped to mode. claimant
// identifies this process (e.g. hostname-pid) in the jobs.claimant column.
func NewWorkerPool(mode models.Mode, claimant string, st store.Store, cfg *config.WorkerConfig, executor Executor, reaper *Reaper) *WorkerPool {
	return &WorkerPool{
		mode:       mode,
		claimant:   claimant,
		store:      st,
		config:     cfg,
		executor:   executor,
		reaper:     reaper,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start spawns the pool's worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("worker pool already started, ignoring duplicate Start call", "mode", p.mode)
		return nil
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("starting worker pool", "mode", p.mode, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.mode, i)
		worker := NewWorker(workerID, p.claimant, p.mode, p.store, p.config, p.executor, p, nil)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("worker pool started", "mode", p.mode)
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current job before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully", "mode", p.mode)

	active := p.getActiveJobIDs()
	if len(active) > 0 {
		slog.Info("waiting for active jobs to complete", "mode", p.mode, "count", len(active), "job_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully", "mode", p.mode)
}

// RegisterJob stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterJob(jobID uuid.UUID, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterJob(jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob triggers context cancellation for a job running on this pool, if
// any. Returns true if the job was found and cancelled here.
func (p *WorkerPool) CancelJob(jobID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	var lastSweep = p.reaper.LastSweep()
	var requeued = p.reaper.TotalRequeued()

	return &PoolHealth{
		Mode:            p.mode,
		IsHealthy:       len(p.workers) > 0,
		StoreReachable:  true,
		ActiveWorkers:   activeWorkers,
		TotalWorkers:    len(p.workers),
		ActiveJobs:      len(p.getActiveJobIDs()),
		WorkerStats:     workerStats,
		LastReaperSweep: lastSweep,
		JobsRequeued:    requeued,
	}
}

// getActiveJobIDs returns IDs of currently processing jobs, for logging.
func (p *WorkerPool) getActiveJobIDs() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}
