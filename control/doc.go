// Package control
// Author: momentics <momentics@gmail.com>
//
// Routing configuration, runtime metrics and debug introspection for the
// transport.
//
// Provides:
//   - Configuration: replica groups, each an ordered list of host:port endpoints
//   - Metrics: Prometheus collectors for traffic, connections, timers and tasks
//   - DebugProbes: named probes dumped by TCPTransport.Stats
package control
