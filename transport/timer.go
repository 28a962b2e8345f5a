// File: transport/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"time"

	"github.com/momentics/hioload-transport/api"
)

// Timer schedules cb to run once on the loop goroutine after ms
// milliseconds. Ids are unique and strictly increasing.
func (t *TCPTransport) Timer(ms uint64, cb api.TimerCallback) api.TimerID {
	return t.timers.Schedule(time.Duration(ms)*time.Millisecond, cb)
}

// TimerMicro is Timer with microsecond granularity.
func (t *TCPTransport) TimerMicro(us uint64, cb api.TimerCallback) api.TimerID {
	return t.timers.Schedule(time.Duration(us)*time.Microsecond, cb)
}

// CancelTimer disarms a pending timer. It reports false if id already
// fired, was cancelled or never existed.
func (t *TCPTransport) CancelTimer(id api.TimerID) bool {
	return t.timers.Cancel(id)
}

// CancelAllTimers disarms every pending timer.
func (t *TCPTransport) CancelAllTimers() {
	t.timers.CancelAll()
}
