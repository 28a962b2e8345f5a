// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling for the transport I/O path. BytePool hands out byte
// slices from power-of-two size classes so encode and read buffers are
// recycled instead of reallocated per message; SyncPool is a typed wrapper
// over sync.Pool.
package pool
