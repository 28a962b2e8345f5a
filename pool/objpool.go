// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage. reset, when set, runs on
// every object handed back through Put.
type SyncPool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

var _ ObjectPool[int] = (*SyncPool[int])(nil)

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T, reset func(T)) *SyncPool[T] {
	sp := &SyncPool[T]{reset: reset}
	sp.pool.New = func() any { return creator() }
	return sp
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		sp.reset(obj)
	}
	sp.pool.Put(obj)
}
