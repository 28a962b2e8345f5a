// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a given logical CPU.
// The caller must hold runtime.LockOSThread, otherwise the goroutine may
// migrate to an unpinned thread. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUFor maps a worker index onto the available logical CPUs round-robin.
func CPUFor(worker int) int {
	n := runtime.NumCPU()
	if n <= 0 || worker < 0 {
		return 0
	}
	return worker % n
}
