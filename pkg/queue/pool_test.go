package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRegisterAndCancelJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	jobID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterJob(jobID, cancel)

	assert.True(t, pool.CancelJob(jobID))
	assert.Error(t, ctx.Err())

	assert.False(t, pool.CancelJob(uuid.New()))
}

func TestPoolUnregisterJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	jobID := uuid.New()
	_, cancel := context.WithCancel(context.Background())
	pool.RegisterJob(jobID, cancel)

	assert.True(t, pool.CancelJob(jobID))

	pool.UnregisterJob(jobID)

	assert.False(t, pool.CancelJob(jobID))
}

func TestPoolGetActiveJobIDs(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	ids := pool.getActiveJobIDs()
	assert.Empty(t, ids)

	jobA, jobB := uuid.New(), uuid.New()
	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterJob(jobA, cancel1)
	pool.RegisterJob(jobB, cancel2)

	ids = pool.getActiveJobIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, jobA)
	assert.Contains(t, ids, jobB)
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := &WorkerPool{
		stopCh:     make(chan struct{}),
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	pool.Stop()
	assert.NotPanics(t, func() { pool.Stop() })
}

func TestPoolRegisterJobConcurrency(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	const numJobs = 100
	for i := 0; i < numJobs; i++ {
		go func() {
			_, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.RegisterJob(uuid.New(), cancel)
		}()
	}

	require.Eventually(t, func() bool {
		pool.mu.RLock()
		defer pool.mu.RUnlock()
		return len(pool.activeJobs) == numJobs
	}, 1*time.Second, 10*time.Millisecond)
}

func TestPoolCancelNonExistentJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	assert.False(t, pool.CancelJob(uuid.New()))
}

func TestPoolUnregisterNonExistentJob(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	assert.NotPanics(t, func() {
		pool.UnregisterJob(uuid.New())
	})
}

func TestPoolMultipleJobLifecycle(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	jobs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	for _, id := range jobs {
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.RegisterJob(id, cancel)
	}

	ids := pool.getActiveJobIDs()
	require.Len(t, ids, 3)

	assert.True(t, pool.CancelJob(jobs[1]))
	pool.UnregisterJob(jobs[1])

	ids = pool.getActiveJobIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, jobs[0])
	assert.Contains(t, ids, jobs[2])
	assert.NotContains(t, ids, jobs[1])
}

func TestPoolRegisterSameJobTwice(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	jobID := uuid.New()
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	pool.RegisterJob(jobID, cancel1)
	pool.RegisterJob(jobID, cancel2) // overwrites

	assert.True(t, pool.CancelJob(jobID))

	assert.Error(t, ctx2.Err())
	assert.NoError(t, ctx1.Err())
}

func TestPoolConcurrentCancellation(t *testing.T) {
	pool := &WorkerPool{
		activeJobs: make(map[uuid.UUID]context.CancelFunc),
	}

	jobID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterJob(jobID, cancel)

	const numGoroutines = 10
	results := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			results <- pool.CancelJob(jobID)
		}()
	}

	var trueCount int
	for i := 0; i < numGoroutines; i++ {
		if <-results {
			trueCount++
		}
	}

	assert.Equal(t, numGoroutines, trueCount)
	assert.Error(t, ctx.Err())
}
