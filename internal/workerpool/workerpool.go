// Package workerpool implements the Worker Pool: bounded, isolated
// concurrent execution of opaque job payloads. A job names a workload;
// the pool dynamically resolves and invokes the corresponding
// performWork function for that workload, mirroring the document-reuse
// isolation model described for the XSLT engine in the design notes —
// one job at a time per worker, so per-job mutations in a workload
// library cannot collide.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Job is an opaque unit of work: a workload name plus a payload the
// corresponding PerformFunc knows how to interpret.
type Job struct {
	Workload string
	Payload  any
}

// Result is delivered on the future channel returned by Execute.
type Result struct {
	Value any
	Err   error
}

// PerformFunc executes one job's payload for a given workload name.
type PerformFunc func(ctx context.Context, payload any) (any, error)

// Pool is a fixed-size worker pool. Each accepted job waits for a worker
// slot on a weighted semaphore from its own goroutine, so waiting jobs
// are admitted in the order their goroutines reach the semaphore; that
// order is not guaranteed to be the order Execute was called in.
type Pool struct {
	registry map[string]PerformFunc
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	active     map[int64]Job
	nextJobID  int64
	terminated bool
}

// New constructs a Pool with N workers dispatching to the given
// workload registry.
func New(n int, registry map[string]PerformFunc) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		registry: registry,
		sem:      semaphore.NewWeighted(int64(n)),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[int64]Job),
	}
}

// Execute accepts a job; if a worker is idle it dispatches immediately,
// otherwise the job waits behind the semaphore (see Pool for the order in
// which waiting jobs are admitted). The returned
// channel receives exactly one Result.
func (p *Pool) Execute(job Job) (<-chan Result, error) {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil, fmt.Errorf("workerpool: pool is terminated")
	}
	p.mu.Unlock()

	perform, ok := p.registry[job.Workload]
	if !ok {
		return nil, fmt.Errorf("workerpool: no workload registered for %q", job.Workload)
	}

	future := make(chan Result, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			future <- Result{Err: fmt.Errorf("workerpool: %w", err)}
			close(future)
			return
		}
		defer p.sem.Release(1)

		p.mu.Lock()
		id := p.nextJobID
		p.nextJobID++
		p.active[id] = job
		p.mu.Unlock()

		value, err := p.runIsolated(perform, job.Payload)

		p.mu.Lock()
		delete(p.active, id)
		p.mu.Unlock()

		future <- Result{Value: value, Err: err}
		close(future)
	}()

	return future, nil
}

// runIsolated invokes perform, converting a panicking workload into an
// error so one worker's crash never corrupts the coordinator.
func (p *Pool) runIsolated(perform PerformFunc, payload any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workerpool: workload panicked: %v", r)
		}
	}()
	return perform(p.ctx, payload)
}

// ActiveJobs returns a snapshot of the currently in-flight job set,
// keyed by an opaque dispatch id, for supervision.
func (p *Pool) ActiveJobs() map[int64]Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int64]Job, len(p.active))
	for k, v := range p.active {
		out[k] = v
	}
	return out
}

// Terminate stops accepting new jobs and cancels in-flight/queued work.
// Queued jobs still blocked on the semaphore fail with a context error;
// the pool becomes unusable afterward.
func (p *Pool) Terminate() {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
