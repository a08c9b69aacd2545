package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgebound/jobcore/pkg/store"
)

// Reaper periodically reclaims jobs whose claiming worker went silent: a
// running job with a stale (or missing) heartbeat is requeued rather than
// failed, since the claim — not the job itself — is what timed out. All
// processes run a Reaper independently; RequeueStale's single UPDATE makes
// the sweep idempotent under racing reapers.
type Reaper struct {
	store    store.Store
	interval time.Duration
	staleAfter time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.Mutex
	lastSweep     time.Time
	totalRequeued int
}

// NewReaper creates a Reaper that sweeps every interval, reclaiming jobs
// whose last heartbeat is older than staleAfter.
func NewReaper(st store.Store, interval, staleAfter time.Duration) *Reaper {
	return &Reaper{
		store:      st,
		interval:   interval,
		staleAfter: staleAfter,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine.
func (r *Reaper) Start(ctx context.Context) {
	if r == nil {
		return
	}
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the sweep loop to stop and waits for it to finish.
func (r *Reaper) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// LastSweep reports when the Reaper last completed a sweep. Safe to call on
// a nil Reaper (returns the zero time).
func (r *Reaper) LastSweep() time.Time {
	if r == nil {
		return time.Time{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSweep
}

// TotalRequeued reports the cumulative number of jobs this Reaper has
// requeued. Safe to call on a nil Reaper (returns 0).
func (r *Reaper) TotalRequeued() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalRequeued
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Sweep once immediately, covering claims orphaned by a crash before this
	// process started, same idea as a startup-orphan cleanup sweep but
	// folded into the regular sweep rather than a separate one-shot call.
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.store.RequeueStale(ctx, time.Now(), r.staleAfter)
	if err != nil {
		slog.Error("reaper sweep failed", "error", err)
		return
	}

	r.mu.Lock()
	r.lastSweep = time.Now()
	r.totalRequeued += n
	r.mu.Unlock()

	if n > 0 {
		slog.Warn("reaper requeued stale jobs", "count", n)
	}
}
