// File: transport/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"runtime"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config holds parameters immutable per transport.
type Config struct {
	SocketBufferSize int  // SO_SNDBUF/SO_RCVBUF applied to every socket
	ListenBacklog    int  // listen(2) backlog for registered replicas
	ReadChunkSize    int  // bytes read per read(2) call on the loop
	MaxEventsPerWait int  // reactor events handled per wake-up
	NumWorkers       int  // worker-pool size for Dispatch
	PinWorkers       bool // pin worker i to CPU i%NumCPU
	HandleSignals    bool // SIGINT/SIGTERM stop Run, SIGPIPE ignored

	Logger     *zap.Logger           // nil disables logging
	Registerer prometheus.Registerer // nil keeps metrics unexported
	Clock      clock.Clock           // timer time source, nil for wall clock
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		SocketBufferSize: 1 << 20,   // 1 MiB socket buffers
		ListenBacklog:    5,         // matches the replica deployment default
		ReadChunkSize:    64 * 1024, // 64 KiB per read
		MaxEventsPerWait: 128,       // epoll batch
		NumWorkers:       runtime.NumCPU(),
		PinWorkers:       false,
		HandleSignals:    false,
	}
}

// withDefaults fills zero values from DefaultConfig without touching the
// caller's copy.
func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.SocketBufferSize <= 0 {
		out.SocketBufferSize = def.SocketBufferSize
	}
	if out.ListenBacklog <= 0 {
		out.ListenBacklog = def.ListenBacklog
	}
	if out.ReadChunkSize <= 0 {
		out.ReadChunkSize = def.ReadChunkSize
	}
	if out.MaxEventsPerWait <= 0 {
		out.MaxEventsPerWait = def.MaxEventsPerWait
	}
	if out.NumWorkers <= 0 {
		out.NumWorkers = def.NumWorkers
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Clock == nil {
		out.Clock = clock.New()
	}
	return &out
}
