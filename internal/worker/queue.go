// Package worker runs balance recalculations off the hot path. It is an
// in-memory queue with a fixed worker pool, suitable for a single-process
// deployment; jobs for the same account are serialized so snapshot
// replays never race each other.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job asks for one account's snapshot series to be rebuilt. A zero
// AffectedFrom means full replay.
type Job struct {
	ID           string
	AccountID    string
	AffectedFrom time.Time
	EnqueuedAt   time.Time
}

// Handler executes a job.
type Handler func(ctx context.Context, job Job) error

// Queue is an in-memory recalculation queue safe for concurrent use.
type Queue struct {
	jobChan   chan Job
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	locks     map[string]*sync.Mutex
	log       zerolog.Logger
	closed    bool
}

// NewQueue creates a queue. bufferSize determines how many jobs can be
// pending before Enqueue blocks.
func NewQueue(bufferSize int, log zerolog.Logger) *Queue {
	return &Queue{
		jobChan:   make(chan Job, bufferSize),
		closeChan: make(chan struct{}),
		locks:     make(map[string]*sync.Mutex),
		log:       log,
	}
}

// Enqueue schedules a recalculation for an account.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return fmt.Errorf("worker: queue is closed")
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("worker: queue is closed")
	}
}

// Start launches workerCount workers that feed jobs to handler.
func (q *Queue) Start(ctx context.Context, workerCount int, handler Handler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("worker: queue is closed")
	}
	q.mu.RUnlock()

	if workerCount < 1 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			q.process(ctx, job, handler)
		}
	}
}

// process runs one job under the account's lock so concurrent jobs for
// the same account execute one at a time.
func (q *Queue) process(ctx context.Context, job Job, handler Handler) {
	lock := q.accountLock(job.AccountID)
	lock.Lock()
	defer lock.Unlock()

	if err := handler(ctx, job); err != nil {
		q.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("account_id", job.AccountID).
			Msg("recalculation job failed")
		return
	}
	q.log.Debug().
		Str("job_id", job.ID).
		Str("account_id", job.AccountID).
		Dur("queued_for", time.Since(job.EnqueuedAt)).
		Msg("recalculation job done")
}

func (q *Queue) accountLock(accountID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	lock, ok := q.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		q.locks[accountID] = lock
	}
	return lock
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
