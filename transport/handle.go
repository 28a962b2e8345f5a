// File: transport/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "fmt"

// Handle addresses a connection in the arena: the low 32 bits are the slot,
// the high 32 bits the slot's generation at allocation time. A handle whose
// connection was released no longer resolves, even after the slot is reused.
// Handles double as reactor tokens.
type Handle uint64

const (
	// generations stay below this bound so a connection token never has the
	// top bit set (reserved for listeners) and never equals the wake token.
	maxGeneration = 1 << 30

	listenerTokenBit = uint64(1) << 63
)

func makeHandle(slot, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot))
}

func (h Handle) slot() uint32 { return uint32(h) }
func (h Handle) gen() uint32  { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("conn#%d.%d", h.slot(), h.gen())
}

func listenerToken(fd int) uint64 { return listenerTokenBit | uint64(uint32(fd)) }

func isListenerToken(token uint64) bool { return token&listenerTokenBit != 0 }

func listenerFD(token uint64) int { return int(uint32(token)) }

type arenaSlot struct {
	gen  uint32
	conn *conn // nil while free or reserved
	used bool
}

// arena stores connections in reusable slots. It is not synchronized; the
// connection table serializes access.
type arena struct {
	slots []arenaSlot
	free  []uint32
}

// reserve claims a slot and returns its handle. The slot stays empty until
// fill.
func (a *arena) reserve() Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{gen: 1})
	}
	a.slots[idx].used = true
	return makeHandle(idx, a.slots[idx].gen)
}

// fill stores c in a reserved slot.
func (a *arena) fill(h Handle, c *conn) {
	a.slots[h.slot()].conn = c
}

// get resolves h, returning nil for free slots and stale generations.
func (a *arena) get(h Handle) *conn {
	idx := h.slot()
	if int(idx) >= len(a.slots) {
		return nil
	}
	s := &a.slots[idx]
	if !s.used || s.gen != h.gen() {
		return nil
	}
	return s.conn
}

// release frees h's slot and bumps its generation. Stale handles are ignored.
func (a *arena) release(h Handle) bool {
	idx := h.slot()
	if int(idx) >= len(a.slots) {
		return false
	}
	s := &a.slots[idx]
	if !s.used || s.gen != h.gen() {
		return false
	}
	s.conn = nil
	s.used = false
	s.gen++
	if s.gen >= maxGeneration {
		s.gen = 1
	}
	a.free = append(a.free, idx)
	return true
}

// live counts occupied slots.
func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}
