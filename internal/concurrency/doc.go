// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives behind the transport event loop: a worker pool
// with optional CPU pinning, a one-shot timer registry and the cross-thread
// inbox through which other goroutines hand work to the loop goroutine.
package concurrency
