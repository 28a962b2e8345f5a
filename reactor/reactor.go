// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for readiness-based IO multiplexing.

package reactor

import "time"

// EventMask is a set of readiness conditions.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// TokenWake is reported when another goroutine called Wake.
const TokenWake = ^uint64(0)

// EventReactor defines basic reactor operations across OS platforms.
//
// Add/Modify/Remove and Wake may be called from any goroutine; Wait must
// only be called from the single goroutine that owns the reactor.
type EventReactor interface {
	// Add registers fd for the given conditions. token is handed back in
	// every Event for fd and must not equal TokenWake.
	Add(fd int, token uint64, events EventMask) error

	// Modify replaces the interest set (and token) of a registered fd.
	Modify(fd int, token uint64, events EventMask) error

	// Remove unregisters fd. It must be called before fd is closed.
	Remove(fd int) error

	// Wait blocks until events are available, timeout elapses (timeout < 0
	// blocks indefinitely) or Wake is called, and writes into the output
	// slice. An interrupted wait returns 0 events and no error.
	Wait(events []Event, timeout time.Duration) (n int, err error)

	// Wake makes a concurrent or future Wait return promptly.
	Wake() error

	// Close cleans up resources.
	Close() error
}

// Event contains event information returned by Wait call.
type Event struct {
	Token uint64
	Mask  EventMask
}

// Readable reports EventRead.
func (e Event) Readable() bool { return e.Mask&EventRead != 0 }

// Writable reports EventWrite.
func (e Event) Writable() bool { return e.Mask&EventWrite != 0 }

// Failed reports an error or hang-up condition.
func (e Event) Failed() bool { return e.Mask&(EventError|EventHangup) != 0 }

// timeoutMillis converts a wait timeout to whole milliseconds, rounding up
// so a deadline is never reported early.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
