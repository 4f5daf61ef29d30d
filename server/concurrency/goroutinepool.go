/******************************************************************************
 *
 *  Description :
 *    A basic pool of goroutines for running delivery tasks.
 *
 *****************************************************************************/
package concurrency

// Task represents a work task to be run on the pool.
type Task func()

// GoRoutinePool holds a bounded set of worker goroutines. Workers are spawned
// lazily, up to the pool's capacity; an idle worker picks up the next task.
type GoRoutinePool struct {
	// Work queue.
	work chan Task
	// Counter to control the number of already allocated/running goroutines.
	sem chan struct{}
	// Exit knob: closed on Stop.
	stop chan struct{}
}

// NewGoRoutinePool allocates a new pool of `numWorkers` goroutines.
func NewGoRoutinePool(numWorkers int) *GoRoutinePool {
	return &GoRoutinePool{
		work: make(chan Task),
		sem:  make(chan struct{}, numWorkers),
		stop: make(chan struct{}),
	}
}

// Schedule enqueues a task to run on one of the pool's goroutines.
func (p *GoRoutinePool) Schedule(task Task) {
	select {
	case p.work <- task:
	case p.sem <- struct{}{}:
		go p.worker(task)
	case <-p.stop:
		// Pool stopped, drop the task.
	}
}

// Stop signals all running goroutines to quit after their current task.
func (p *GoRoutinePool) Stop() {
	close(p.stop)
}

// Pool worker goroutine.
func (p *GoRoutinePool) worker(task Task) {
	defer func() { <-p.sem }()
	for {
		task()
		select {
		case task = <-p.work:
		case <-p.stop:
			return
		}
	}
}
