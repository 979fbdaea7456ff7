package dispatcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorRunsTasksInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	var idled int32
	ex := newExecutor(func() { atomic.AddInt32(&idled, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		if !ex.submit(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}) {
			t.Fatalf("submit %d rejected on a fresh executor", i)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

// TestExecutorSubmitFailsAfterTeardown exercises the close path submit must
// observe: once the worker has committed to tearing down (closed under the
// same lock submit uses), further submits are rejected rather than being
// silently dropped onto a channel nobody will ever read again.
func TestExecutorSubmitFailsAfterTeardown(t *testing.T) {
	onIdleCh := make(chan struct{})
	ex := newExecutor(func() { close(onIdleCh) })

	// Force the teardown path directly: simulate the idle branch's own
	// decision logic rather than waiting out the real executorIdleGrace.
	ex.mu.Lock()
	ex.closed = true
	ex.mu.Unlock()

	if ex.submit(func() {}) {
		t.Fatal("expected submit to report failure on a closed executor")
	}
}

// TestExecutorSubmitRaceDuringTeardownIsNeverLost exercises the scenario the
// review flagged: a task submitted in the narrow window around idle-timeout
// teardown must either land on the executor that accepted it, or submit must
// report failure so the caller retries against a fresh executor — it must
// never be silently enqueued onto a channel whose reader has already exited.
func TestExecutorSubmitRaceDuringTeardownIsNeverLost(t *testing.T) {
	for i := 0; i < 200; i++ {
		var torn int32
		ex := newExecutor(func() { atomic.StoreInt32(&torn, 1) })

		var ran int32
		done := make(chan struct{})

		// Race a submit against a manufactured teardown exactly the way
		// run()'s idle case does: lock, check for pending work, close only
		// if none is pending.
		go func() {
			ok := ex.submit(func() {
				atomic.StoreInt32(&ran, 1)
				close(done)
			})
			if !ok {
				// Rejected submits must never silently vanish: the caller
				// is expected to retry against a fresh executor, so a
				// rejection alone is a correct, observable outcome.
				close(done)
			}
		}()

		ex.mu.Lock()
		if len(ex.tasks) == 0 {
			ex.closed = true
		}
		ex.mu.Unlock()

		<-done

		// Whichever way the race resolved, the executor must be in a
		// consistent state: if the task was accepted it must actually run
		// (nothing left stranded in the channel with nobody to read it).
		if len(ex.tasks) > 0 && atomic.LoadInt32(&ran) == 0 {
			t.Fatalf("iteration %d: task buffered in tasks channel but executor reports closed with nobody to drain it", i)
		}
	}
}

func TestExecutorAcceptsSubmitAfterDrain(t *testing.T) {
	// Submit a task and let the executor run dry, then submit again: well
	// inside the idle grace period the worker is still live and accepts
	// and runs the second task. run()'s idle.C teardown is not reached here.
	idleHit := make(chan struct{}, 1)
	ex := newExecutor(func() {
		select {
		case idleHit <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	if !ex.submit(func() { close(done) }) {
		t.Fatal("submit rejected on a fresh executor")
	}
	<-done

	// The executor is still alive (idle grace is minutes, not this test's
	// scope); confirm a second submit on the same instance still succeeds.
	again := make(chan struct{})
	if !ex.submit(func() { close(again) }) {
		t.Fatal("submit rejected on a still-live executor")
	}
	select {
	case <-again:
	case <-time.After(time.Second):
		t.Fatal("second task never ran")
	}
}
