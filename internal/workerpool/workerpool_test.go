package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestPool_ExecuteDispatchesToRegisteredWorkload verifies a job routes
// to the PerformFunc registered under its Workload name.
func TestPool_ExecuteDispatchesToRegisteredWorkload(t *testing.T) {
	p := New(1, map[string]PerformFunc{
		"double": func(ctx context.Context, payload any) (any, error) {
			return payload.(int) * 2, nil
		},
	})
	defer p.Terminate()

	future, err := p.Execute(Job{Workload: "double", Payload: 21})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := <-future
	if result.Err != nil {
		t.Fatalf("unexpected job error: %v", result.Err)
	}
	if result.Value.(int) != 42 {
		t.Errorf("Value = %v, want 42", result.Value)
	}
}

// TestPool_ExecuteUnknownWorkloadErrors verifies dispatching a job with
// no registered workload fails fast rather than hanging.
func TestPool_ExecuteUnknownWorkloadErrors(t *testing.T) {
	p := New(1, map[string]PerformFunc{})
	defer p.Terminate()

	if _, err := p.Execute(Job{Workload: "missing"}); err == nil {
		t.Error("expected an error for an unregistered workload")
	}
}

// TestPool_BoundsConcurrencyToN verifies no more than N jobs run their
// PerformFunc at the same instant.
func TestPool_BoundsConcurrencyToN(t *testing.T) {
	const n = 3
	var current, maxObserved int64
	var mu sync.Mutex
	release := make(chan struct{})

	p := New(n, map[string]PerformFunc{
		"hold": func(ctx context.Context, payload any) (any, error) {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > maxObserved {
				maxObserved = c
			}
			mu.Unlock()
			<-release
			atomic.AddInt64(&current, -1)
			return nil, nil
		},
	})
	defer p.Terminate()

	futures := make([]<-chan Result, 0, n*2)
	for i := 0; i < n*2; i++ {
		future, err := p.Execute(Job{Workload: "hold"})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		futures = append(futures, future)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	observed := maxObserved
	mu.Unlock()
	if observed > n {
		t.Errorf("observed %d concurrent jobs, want <= %d", observed, n)
	}

	close(release)
	for _, future := range futures {
		<-future
	}
}

// TestPool_PanicIsolatedAsError verifies a panicking workload is
// converted to an error result rather than crashing the pool.
func TestPool_PanicIsolatedAsError(t *testing.T) {
	p := New(1, map[string]PerformFunc{
		"explode": func(ctx context.Context, payload any) (any, error) {
			panic("boom")
		},
	})
	defer p.Terminate()

	future, err := p.Execute(Job{Workload: "explode"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := <-future
	if result.Err == nil {
		t.Error("expected a panic to surface as a job error")
	}

	// The pool must remain usable after a panic.
	future2, err := p.Execute(Job{Workload: "explode"})
	if err != nil {
		t.Fatalf("Execute after panic failed: %v", err)
	}
	result2 := <-future2
	if result2.Err == nil {
		t.Error("expected the pool to remain usable and isolate a second panic")
	}
}

// TestPool_TerminateRejectsNewJobs verifies Execute fails once the pool
// has been terminated.
func TestPool_TerminateRejectsNewJobs(t *testing.T) {
	p := New(1, map[string]PerformFunc{
		"noop": func(ctx context.Context, payload any) (any, error) { return nil, nil },
	})
	p.Terminate()

	if _, err := p.Execute(Job{Workload: "noop"}); err == nil {
		t.Error("expected Execute to fail after Terminate")
	}
}

// TestPool_TerminateCancelsQueuedWork verifies a job still waiting on a
// busy semaphore fails with a context error once Terminate is called,
// instead of blocking forever.
func TestPool_TerminateCancelsQueuedWork(t *testing.T) {
	hold := make(chan struct{})
	p := New(1, map[string]PerformFunc{
		"block": func(ctx context.Context, payload any) (any, error) {
			<-hold
			return nil, nil
		},
	})

	first, err := p.Execute(Job{Workload: "block"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	second, err := p.Execute(Job{Workload: "block"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Terminate()
		close(done)
	}()

	select {
	case result := <-second:
		if result.Err == nil {
			t.Error("expected the queued job to fail once the pool was terminated")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued job never resolved after Terminate")
	}

	close(hold)
	<-first
	<-done
}

// TestPool_ActiveJobsReflectsInFlightWork verifies ActiveJobs reports
// jobs currently executing and clears them on completion.
func TestPool_ActiveJobsReflectsInFlightWork(t *testing.T) {
	release := make(chan struct{})
	p := New(1, map[string]PerformFunc{
		"hold": func(ctx context.Context, payload any) (any, error) {
			<-release
			return nil, nil
		},
	})
	defer p.Terminate()

	future, err := p.Execute(Job{Workload: "hold", Payload: "x"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var active map[int64]Job
	for i := 0; i < 100; i++ {
		active = p.ActiveJobs()
		if len(active) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active job, got %d", len(active))
	}

	close(release)
	<-future

	if got := p.ActiveJobs(); len(got) != 0 {
		t.Errorf("expected no active jobs after completion, got %d", len(got))
	}
}

// TestPool_ConcurrentExecuteIsSafe verifies calling Execute from many
// goroutines concurrently is race-free and every job completes.
func TestPool_ConcurrentExecuteIsSafe(t *testing.T) {
	p := New(4, map[string]PerformFunc{
		"inc": func(ctx context.Context, payload any) (any, error) {
			return payload.(int) + 1, nil
		},
	})
	defer p.Terminate()

	const jobs = 50
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			future, err := p.Execute(Job{Workload: "inc", Payload: n})
			if err != nil {
				errs <- err
				return
			}
			result := <-future
			if result.Err != nil {
				errs <- result.Err
				return
			}
			if result.Value.(int) != n+1 {
				errs <- fmt.Errorf("job %d: got %v", n, result.Value)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

// TestPool_RunIsolatedPropagatesPlainErrors verifies a non-panic error
// from a workload passes through unaltered.
func TestPool_RunIsolatedPropagatesPlainErrors(t *testing.T) {
	sentinel := errors.New("boom")
	p := New(1, map[string]PerformFunc{
		"fail": func(ctx context.Context, payload any) (any, error) { return nil, sentinel },
	})
	defer p.Terminate()

	future, err := p.Execute(Job{Workload: "fail"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := <-future
	if !errors.Is(result.Err, sentinel) {
		t.Errorf("expected sentinel error to propagate, got %v", result.Err)
	}
}
