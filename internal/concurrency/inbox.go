// File: internal/concurrency/inbox.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// Inbox is a multi-producer, single-consumer FIFO. Producers on any
// goroutine Push; the owning loop goroutine Drains. wake is called whenever
// the inbox goes from empty to non-empty, so a consumer that drains fully
// after every wake-up never misses an item.
type Inbox[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	wake   func()
}

// NewInbox returns an empty inbox. wake may be nil.
func NewInbox[T any](wake func()) *Inbox[T] {
	return &Inbox[T]{q: queue.New(), wake: wake}
}

// Push appends v. It returns false once the inbox is closed.
func (b *Inbox[T]) Push(v T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.q.Add(v)
	first := b.q.Length() == 1
	b.mu.Unlock()
	if first && b.wake != nil {
		b.wake()
	}
	return true
}

// Drain moves every queued item, in push order, onto dst and returns it.
func (b *Inbox[T]) Drain(dst []T) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.q.Length() > 0 {
		dst = append(dst, b.q.Remove().(T))
	}
	return dst
}

// Pending reports the number of queued items.
func (b *Inbox[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Close rejects further pushes. Items already queued stay drainable.
func (b *Inbox[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
