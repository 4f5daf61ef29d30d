package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllTasks(t *testing.T) {
	pool := NewGoRoutinePool(4)
	defer pool.Stop()

	const tasks = 100
	var done sync.WaitGroup
	var count int64

	done.Add(tasks)
	for i := 0; i < tasks; i++ {
		pool.Schedule(func() {
			atomic.AddInt64(&count, 1)
			done.Done()
		})
	}

	finished := make(chan struct{})
	go func() { done.Wait(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish")
	}
	if got := atomic.LoadInt64(&count); got != tasks {
		t.Errorf("expected %d tasks to run, got %d", tasks, got)
	}
}

func TestPoolWorkerLimit(t *testing.T) {
	pool := NewGoRoutinePool(2)
	defer pool.Stop()

	var running, peak int64
	release := make(chan struct{})
	var done sync.WaitGroup

	done.Add(6)
	for i := 0; i < 6; i++ {
		go pool.Schedule(func() {
			defer done.Done()
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt64(&running, -1)
		})
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Errorf("expected at most 2 concurrent workers, observed %d", got)
	}
}

func TestPoolStopUnblocksSchedule(t *testing.T) {
	// A pool with no spare workers: the lone worker is parked on a task.
	pool := NewGoRoutinePool(1)
	hold := make(chan struct{})
	pool.Schedule(func() { <-hold })
	defer close(hold)

	pool.Stop()

	// Scheduling on a stopped, saturated pool must not block.
	finished := make(chan struct{})
	go func() {
		pool.Schedule(func() {})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Schedule blocked on a stopped pool")
	}
}
