// Package api
// Author: momentics
//
// Executor and timer contracts shared by the transport and its worker pool.

package api

// Executor abstracts parallel task execution.
type Executor interface {
	// Submit schedules task for execution.
	Submit(task func()) error

	// NumWorkers returns current number of active worker routines.
	NumWorkers() int

	// Close stops accepting work and waits for the workers to exit.
	Close()
}

// TimerID identifies a scheduled one-shot timer. IDs are unique per
// transport and strictly increasing; zero is never issued.
type TimerID int64

// TimerCallback runs on the event-loop goroutine when its timer fires.
type TimerCallback func()
