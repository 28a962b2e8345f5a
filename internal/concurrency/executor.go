// File: internal/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across a fixed set of worker goroutines fed from
// an unbounded FIFO. Submit never blocks, so it is safe to call from the
// event-loop goroutine.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-transport/affinity"
	"github.com/momentics/hioload-transport/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// ExecutorConfig tunes NewExecutor.
type ExecutorConfig struct {
	// NumWorkers defaults to runtime.NumCPU() when <= 0.
	NumWorkers int
	// PinWorkers locks every worker to an OS thread bound to CPU i%NumCPU.
	PinWorkers bool
	// OnPanic receives values recovered from panicking tasks.
	OnPanic func(recovered any)
	// OnPinError is called when a worker could not be pinned.
	OnPinError func(worker int, err error)
}

// Executor manages a pool of worker goroutines.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue // of TaskFunc
	closed  bool
	wg      sync.WaitGroup
	workers int
	cfg     ExecutorConfig

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

var _ api.Executor = (*Executor)(nil)

// NewExecutor starts the workers described by cfg.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}
	e := &Executor{
		tasks:   queue.New(),
		workers: cfg.NumWorkers,
		cfg:     cfg,
	}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(cfg.NumWorkers)
	for i := 0; i < cfg.NumWorkers; i++ {
		go e.run(i)
	}
	return e
}

// Submit enqueues a task for execution, returning ErrExecutorClosed if executor is closed.
func (e *Executor) Submit(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return api.ErrExecutorClosed
	}
	e.tasks.Add(TaskFunc(task))
	e.mu.Unlock()
	e.totalTasks.Add(1)
	e.cond.Signal()
	return nil
}

// NumWorkers returns the number of worker goroutines.
func (e *Executor) NumWorkers() int {
	return e.workers
}

// Close stops accepting tasks, lets the workers finish what is already
// queued and waits for them to exit. Repeated calls are no-ops.
func (e *Executor) Close() {
	e.mu.Lock()
	already := e.closed
	e.closed = true
	e.mu.Unlock()
	if !already {
		e.cond.Broadcast()
	}
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	e.mu.Lock()
	pending := int64(e.tasks.Length())
	e.mu.Unlock()
	return map[string]int64{
		"total_tasks":     e.totalTasks.Load(),
		"completed_tasks": e.completedTasks.Load(),
		"pending_tasks":   pending,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.workers),
	}
}

// run is the main loop for worker id.
func (e *Executor) run(id int) {
	defer e.wg.Done()
	if e.cfg.PinWorkers {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.SetAffinity(affinity.CPUFor(id)); err != nil && e.cfg.OnPinError != nil {
			e.cfg.OnPinError(id, err)
		}
	}
	for {
		task, ok := e.next()
		if !ok {
			return
		}
		e.execute(task)
	}
}

// next blocks until a task is available or the executor is closed and drained.
func (e *Executor) next() (TaskFunc, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.tasks.Length() == 0 {
		if e.closed {
			return nil, false
		}
		e.cond.Wait()
	}
	return e.tasks.Remove().(TaskFunc), true
}

// execute runs the task and updates statistics, recovering from panics.
func (e *Executor) execute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			if e.cfg.OnPanic != nil {
				e.cfg.OnPanic(r)
			}
		}
		e.completedTasks.Add(1)
	}()
	task()
}
