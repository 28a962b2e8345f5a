// File: transport/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"sync"

	"github.com/momentics/hioload-transport/api"
)

// connKey identifies a connection by remote endpoint and owning receiver.
// Receivers are compared by identity, so they must be comparable (in
// practice, pointers).
type connKey struct {
	addr api.Address
	recv api.Receiver
}

var errDuplicateKey = errors.New("connection key already present")

// connTable indexes live connections in both directions:
// (remote address, receiver) to handle and handle to (remote address,
// receiver). Every mutation updates both directions and the arena under
// the exclusive lock.
type connTable struct {
	mu       sync.RWMutex
	byKey    map[connKey]Handle
	byHandle map[Handle]connKey
	conns    arena
}

func newConnTable() *connTable {
	return &connTable{
		byKey:    make(map[connKey]Handle),
		byHandle: make(map[Handle]connKey),
	}
}

// lookupOutgoing finds the connection used to reach addr on behalf of recv.
func (t *connTable) lookupOutgoing(addr api.Address, recv api.Receiver) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byKey[connKey{addr: addr, recv: recv}]
	return h, ok
}

// getOrCreate returns the connection for key, creating it with dial when
// absent. The check and the creation happen in one exclusive section, so
// concurrent callers never create two connections for one key. dial runs
// with the handle the connection will have; the entry is visible to other
// goroutines only after dial succeeds, and a failed dial leaves no trace.
func (t *connTable) getOrCreate(key connKey, dial func(h Handle) (*conn, error)) (Handle, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byKey[key]; ok {
		return h, false, nil
	}
	h := t.conns.reserve()
	c, err := dial(h)
	if err != nil {
		t.conns.release(h)
		return 0, false, err
	}
	t.conns.fill(h, c)
	t.byKey[key] = h
	t.byHandle[h] = key
	return h, true, nil
}

// insert adds a connection under key. build receives the handle before the
// entry becomes visible.
func (t *connTable) insert(key connKey, build func(h Handle) *conn) (Handle, *conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byKey[key]; ok {
		return 0, nil, errDuplicateKey
	}
	h := t.conns.reserve()
	c := build(h)
	t.conns.fill(h, c)
	t.byKey[key] = h
	t.byHandle[h] = key
	return h, c, nil
}

// get resolves a handle.
func (t *connTable) get(h Handle) (*conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := t.conns.get(h)
	return c, c != nil
}

// removeByHandle drops both index entries and the arena slot of h and
// returns the connection so the caller can release its socket.
func (t *connTable) removeByHandle(h Handle) (*conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(h)
}

// removeByKey is removeByHandle addressed by (remote address, receiver).
func (t *connTable) removeByKey(addr api.Address, recv api.Receiver) (*conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byKey[connKey{addr: addr, recv: recv}]
	if !ok {
		return nil, false
	}
	return t.removeLocked(h)
}

func (t *connTable) removeLocked(h Handle) (*conn, bool) {
	key, ok := t.byHandle[h]
	if !ok {
		return nil, false
	}
	c := t.conns.get(h)
	delete(t.byHandle, h)
	delete(t.byKey, key)
	t.conns.release(h)
	return c, true
}

// findAddressOf returns the remote address a connection is indexed under.
func (t *connTable) findAddressOf(h Handle) (api.Address, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.byHandle[h]
	return key.addr, ok
}

// firstOwnedBy returns recv's outgoing connection with the lowest remote
// address.
func (t *connTable) firstOwnedBy(recv api.Receiver) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var (
		best  Handle
		bestA api.Address
		found bool
	)
	for key, h := range t.byKey {
		if key.recv != recv {
			continue
		}
		if c := t.conns.get(h); c == nil || c.dir != dirOutgoing {
			continue
		}
		if !found || key.addr.Less(bestA) {
			best, bestA, found = h, key.addr, true
		}
	}
	return best, found
}

// removeAll empties the table and returns every connection it held.
func (t *connTable) removeAll() []*conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*conn, 0, len(t.byHandle))
	for h := range t.byHandle {
		if c, ok := t.removeLocked(h); ok && c != nil {
			out = append(out, c)
		}
	}
	return out
}

// len returns the number of indexed connections. Both directions always
// agree; a mismatch would be a table bug.
func (t *connTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// consistent reports whether both index directions and the arena agree.
func (t *connTable) consistent() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.byKey) != len(t.byHandle) || len(t.byKey) != t.conns.live() {
		return false
	}
	for k, h := range t.byKey {
		if t.byHandle[h] != k || t.conns.get(h) == nil {
			return false
		}
	}
	return true
}
