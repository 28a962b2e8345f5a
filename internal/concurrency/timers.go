// File: internal/concurrency/timers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One-shot timer registry ordered by due time.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-transport/api"
)

type timerEntry struct {
	id    api.TimerID
	due   time.Time
	cb    api.TimerCallback
	index int
}

// timerHeap orders entries by due time, then by id so equal deadlines fire
// in scheduling order.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Timers is safe for concurrent use. Callbacks run on whichever goroutine
// calls FireDue, outside the registry lock, so they may schedule or cancel
// other timers.
type Timers struct {
	mu     sync.Mutex
	clock  clock.Clock
	lastID api.TimerID
	queue  timerHeap
	byID   map[api.TimerID]*timerEntry
	rearm  func()
}

// NewTimers creates a registry driven by clk (clock.New() when nil). rearm,
// if set, is called after a Schedule that moved the earliest deadline
// forward so a sleeping loop can recompute its wait.
func NewTimers(clk clock.Clock, rearm func()) *Timers {
	if clk == nil {
		clk = clock.New()
	}
	return &Timers{
		clock: clk,
		byID:  make(map[api.TimerID]*timerEntry),
		rearm: rearm,
	}
}

// Clock returns the time source used for deadlines.
func (t *Timers) Clock() clock.Clock { return t.clock }

// Schedule registers cb to run once after d and returns its id.
func (t *Timers) Schedule(d time.Duration, cb api.TimerCallback) api.TimerID {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	t.lastID++
	e := &timerEntry{id: t.lastID, due: t.clock.Now().Add(d), cb: cb}
	heap.Push(&t.queue, e)
	t.byID[e.id] = e
	earliest := t.queue[0] == e
	t.mu.Unlock()
	if earliest && t.rearm != nil {
		t.rearm()
	}
	return e.id
}

// Cancel removes a pending timer. It reports false for unknown, fired or
// already cancelled ids.
func (t *Timers) Cancel(id api.TimerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	heap.Remove(&t.queue, e.index)
	return true
}

// CancelAll drops every pending timer and returns how many there were.
func (t *Timers) CancelAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.queue)
	t.queue = nil
	t.byID = make(map[api.TimerID]*timerEntry)
	return n
}

// Len reports the number of pending timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// NextDeadline returns the time until the earliest pending timer, clamped
// at zero. ok is false when nothing is scheduled.
func (t *Timers) NextDeadline() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return 0, false
	}
	d := t.queue[0].due.Sub(t.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// FireDue runs every timer due at the time of the call and returns how many
// fired. Each entry leaves the registry before its callback starts. Timers
// scheduled by those callbacks wait for the next call.
func (t *Timers) FireDue() int {
	t.mu.Lock()
	now := t.clock.Now()
	horizon := t.lastID
	t.mu.Unlock()

	fired := 0
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return fired
		}
		top := t.queue[0]
		if top.due.After(now) || top.id > horizon {
			t.mu.Unlock()
			return fired
		}
		heap.Pop(&t.queue)
		delete(t.byID, top.id)
		t.mu.Unlock()

		fired++
		if top.cb != nil {
			top.cb()
		}
	}
}
