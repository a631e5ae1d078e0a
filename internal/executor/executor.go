// File: internal/executor/executor.go

// Package executor enforces the agent's concurrency ceiling. It owns the
// process-wide capacity counters; no other component mutates them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrAtCapacity is returned by Launch when every slot is occupied. Jobs are
// never queued internally; back-pressure happens at the source by the poll
// loop declining to fetch new work.
var ErrAtCapacity = errors.New("executor at capacity")

// JobFunc is the body of one job. Any error it returns (or panic it raises)
// stays inside the job boundary; the executor only guarantees the slot is
// released.
type JobFunc func(ctx context.Context)

// Executor tracks in-flight jobs against a fixed ceiling.
//
// The counter is incremented synchronously inside Launch, before the job
// goroutine starts, and decremented in a deferred cleanup that runs on
// success, failure and panic alike. A leaked slot would silently shrink
// effective capacity for the rest of the process lifetime, which makes the
// deferred release the most important invariant in the agent.
type Executor struct {
	logger      *zap.Logger
	maxCapacity int

	mu         sync.Mutex
	activeJobs int
	wg         sync.WaitGroup
}

// New creates an executor with the given concurrency ceiling.
func New(maxCapacity int, logger *zap.Logger) (*Executor, error) {
	if maxCapacity <= 0 {
		return nil, fmt.Errorf("max capacity must be positive, got %d", maxCapacity)
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Executor{
		logger:      logger.With(zap.String("component", "executor")),
		maxCapacity: maxCapacity,
	}, nil
}

// Launch claims a capacity slot and runs fn on its own goroutine. The slot is
// claimed before this method returns, so a caller that checks Active() right
// after a successful Launch always sees the job counted.
func (e *Executor) Launch(ctx context.Context, jobID string, fn JobFunc) error {
	e.mu.Lock()
	if e.activeJobs >= e.maxCapacity {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d/%d jobs running", ErrAtCapacity, e.activeJobs, e.maxCapacity)
	}
	e.activeJobs++
	active := e.activeJobs
	e.mu.Unlock()

	e.logger.Info("Job slot claimed",
		zap.String("job_id", jobID),
		zap.Int("active_jobs", active),
		zap.Int("max_capacity", e.maxCapacity))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(jobID)
		defer func() {
			if rec := recover(); rec != nil {
				// Nothing below the job boundary may crash the agent.
				e.logger.Error("Job panicked; slot released",
					zap.String("job_id", jobID),
					zap.Any("panic", rec))
			}
		}()

		fn(ctx)
	}()
	return nil
}

// release frees one slot. Runs exactly once per launched job, via defer.
func (e *Executor) release(jobID string) {
	e.mu.Lock()
	e.activeJobs--
	active := e.activeJobs
	e.mu.Unlock()

	e.logger.Info("Job slot released",
		zap.String("job_id", jobID),
		zap.Int("active_jobs", active))
}

// Active returns the number of in-flight jobs.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeJobs
}

// Capacity returns the fixed concurrency ceiling.
func (e *Executor) Capacity() int {
	return e.maxCapacity
}

// HasCapacity reports whether a new job could be launched right now.
func (e *Executor) HasCapacity() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeJobs < e.maxCapacity
}

// Wait blocks until every launched job has settled. Used during shutdown and
// in tests.
func (e *Executor) Wait() {
	e.wg.Wait()
}
