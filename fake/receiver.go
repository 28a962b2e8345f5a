// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides a recording Receiver with predictable, controllable behavior.

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-transport/api"
)

// Delivery is one message handed to a Receiver.
type Delivery struct {
	From     api.Address
	TypeName string
	Payload  []byte
	// Batch is the index of the batch call that delivered the message, or
	// -1 for single deliveries.
	Batch int
}

// Receiver records every delivery. It implements api.BatchReceiver; the
// transport decides which entry point is used.
type Receiver struct {
	mu        sync.Mutex
	addr      api.Address
	hasAddr   bool
	got       []Delivery
	batches   int
	notify    chan struct{}
	OnReceive func(d Delivery) // optional, called outside the lock
}

var _ api.BatchReceiver = (*Receiver)(nil)

// NewReceiver creates a receiver that does not know its address yet.
func NewReceiver() *Receiver {
	return &Receiver{notify: make(chan struct{}, 1)}
}

// Address reports the assigned address.
func (r *Receiver) Address() (api.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr, r.hasAddr
}

// SetAddress assigns the receiver's own address.
func (r *Receiver) SetAddress(addr api.Address) {
	r.mu.Lock()
	r.addr, r.hasAddr = addr.Clone(), true
	r.mu.Unlock()
}

// ReceiveMessage records a single delivery.
func (r *Receiver) ReceiveMessage(from api.Address, typeName string, payload []byte) {
	d := Delivery{From: from, TypeName: typeName, Payload: payload, Batch: -1}
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
	r.signal()
	if r.OnReceive != nil {
		r.OnReceive(d)
	}
}

// ReceiveMessageBatch records a batch delivery, preserving order.
func (r *Receiver) ReceiveMessageBatch(from api.Address, typeNames []string, payloads [][]byte) {
	r.mu.Lock()
	idx := r.batches
	r.batches++
	start := len(r.got)
	for i := range typeNames {
		r.got = append(r.got, Delivery{From: from, TypeName: typeNames[i], Payload: payloads[i], Batch: idx})
	}
	ds := append([]Delivery(nil), r.got[start:]...)
	r.mu.Unlock()
	r.signal()
	if r.OnReceive != nil {
		for _, d := range ds {
			r.OnReceive(d)
		}
	}
}

func (r *Receiver) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Deliveries returns a copy of everything received so far.
func (r *Receiver) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

// Batches returns the number of batch calls seen.
func (r *Receiver) Batches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

// WaitFor blocks until at least n messages arrived or timeout elapses and
// returns what was received.
func (r *Receiver) WaitFor(n int, timeout time.Duration) []Delivery {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if got := r.Deliveries(); len(got) >= n {
			return got
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Deliveries()
		}
	}
}
