// File: transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/internal/concurrency"
	sock "github.com/momentics/hioload-transport/internal/transport"
	"github.com/momentics/hioload-transport/pool"
	"github.com/momentics/hioload-transport/protocol"
	"github.com/momentics/hioload-transport/reactor"
)

// route is what Register recorded about a receiver.
type route struct {
	conf       *control.Configuration
	groupIdx   int
	replicaIdx int // -1 for clients
	batch      bool
	resolved   map[[2]int]api.Address
}

// TCPTransport moves framed messages between receivers over TCP.
type TCPTransport struct {
	cfg     *Config
	log     *zap.Logger
	loopLog *zap.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes

	reactor  reactor.EventReactor
	table    *connTable
	timers   *concurrency.Timers
	executor *concurrency.Executor
	inbox    *concurrency.Inbox[loopEvent]
	bufs     *pool.BytePool
	frames   *pool.SyncPool[*[]protocol.Frame]

	lmu       sync.Mutex
	listeners map[int]*listener // by listening fd

	rmu    sync.RWMutex
	routes map[api.Receiver]*route

	loopMu sync.Mutex // held by Run
	closed atomic.Bool

	// loop goroutine only
	readBuf []byte
	events  []reactor.Event
	drained []loopEvent
}

// New creates the reactor, worker pool and timer registry. The event loop
// does not run until Run is called.
func New(cfg *Config) (*TCPTransport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	r, err := reactor.NewReactor(cfg.MaxEventsPerWait)
	if err != nil {
		return nil, fmt.Errorf("transport init failure: %w", err)
	}

	t := &TCPTransport{
		cfg:       cfg,
		log:       cfg.Logger.Named("transport"),
		metrics:   control.NewMetrics(cfg.Registerer),
		probes:    control.NewDebugProbes(),
		reactor:   r,
		table:     newConnTable(),
		bufs:      pool.NewBytePool(),
		listeners: make(map[int]*listener),
		routes:    make(map[api.Receiver]*route),
		readBuf:   make([]byte, cfg.ReadChunkSize),
		events:    make([]reactor.Event, cfg.MaxEventsPerWait),
	}
	t.loopLog = t.log.Named("loop")
	t.frames = pool.NewSyncPool(
		func() *[]protocol.Frame { s := make([]protocol.Frame, 0, 16); return &s },
		func(s *[]protocol.Frame) { clear(*s); *s = (*s)[:0] },
	)
	t.inbox = concurrency.NewInbox[loopEvent](t.wake)
	t.timers = concurrency.NewTimers(cfg.Clock, t.wake)
	t.executor = concurrency.NewExecutor(concurrency.ExecutorConfig{
		NumWorkers: cfg.NumWorkers,
		PinWorkers: cfg.PinWorkers,
		OnPanic: func(v any) {
			t.log.Error("dispatched task panicked", zap.Any("panic", v))
		},
		OnPinError: func(worker int, err error) {
			t.log.Warn("cannot pin worker", zap.Int("worker", worker), zap.Error(err))
		},
	})
	t.registerProbes()
	return t, nil
}

func (t *TCPTransport) wake() {
	if err := t.reactor.Wake(); err != nil {
		t.log.Warn("reactor wake failed", zap.Error(err))
	}
}

// Register records receiver r's routing configuration. For a replica
// (replicaIdx >= 0) it also binds and listens on the configured endpoint
// and tells r its bound address. Bind or listen failures are fatal.
func (t *TCPTransport) Register(r api.Receiver, conf *control.Configuration, groupIdx, replicaIdx int) {
	t.register(r, conf, groupIdx, replicaIdx, false)
}

// RegisterBatch is Register for receivers that take every read event's
// decoded messages in one ReceiveMessageBatch call.
func (t *TCPTransport) RegisterBatch(r api.BatchReceiver, conf *control.Configuration, groupIdx, replicaIdx int) {
	t.register(r, conf, groupIdx, replicaIdx, true)
}

func (t *TCPTransport) register(r api.Receiver, conf *control.Configuration, groupIdx, replicaIdx int, batch bool) {
	if r == nil || conf == nil {
		t.log.Fatal("register: nil receiver or configuration")
		return
	}
	t.rmu.Lock()
	t.routes[r] = &route{
		conf:       conf,
		groupIdx:   groupIdx,
		replicaIdx: replicaIdx,
		batch:      batch,
		resolved:   make(map[[2]int]api.Address),
	}
	t.rmu.Unlock()

	if replicaIdx == -1 {
		t.log.Debug("registered client", zap.Int("group", groupIdx), zap.Bool("batch", batch))
		return
	}
	t.listen(r, conf, groupIdx, replicaIdx, batch)
}

// LookupAddress resolves the endpoint of a configured replica. Resolution
// failure is fatal.
func (t *TCPTransport) LookupAddress(conf *control.Configuration, groupIdx, replicaIdx int) api.Address {
	ra, err := conf.Replica(groupIdx, replicaIdx)
	if err != nil {
		t.log.Fatal("unknown replica", zap.Int("group", groupIdx), zap.Int("replica", replicaIdx), zap.Error(err))
		return api.Address{}
	}
	return t.LookupReplicaAddress(ra.Host, ra.Port)
}

// LookupReplicaAddress resolves host and port to an IPv4 address.
// Resolution failure is fatal.
func (t *TCPTransport) LookupReplicaAddress(host, port string) api.Address {
	addr, err := sock.ResolveAddress(host, port)
	if err != nil {
		t.log.Fatal("failed to resolve address", zap.String("host", host), zap.String("port", port), zap.Error(err))
		return api.Address{}
	}
	return addr
}

func (t *TCPTransport) routeOf(r api.Receiver) (*route, bool) {
	t.rmu.RLock()
	defer t.rmu.RUnlock()
	rt, ok := t.routes[r]
	return rt, ok
}

// Close tears down r's first outgoing connection. It does not touch r's
// other connections or its listener.
func (t *TCPTransport) Close(r api.Receiver) {
	h, ok := t.table.firstOwnedBy(r)
	if !ok {
		return
	}
	c, ok := t.table.removeByHandle(h)
	if !ok || c == nil {
		return
	}
	if !t.inbox.Push(loopEvent{kind: eventClose, conn: c}) {
		// loop already gone; Shutdown has stopped it
		t.release(c, nil)
	}
}

// Shutdown stops the loop and the worker pool, force-closes every
// connection and listener and releases the reactor. It must not be called
// from a loop callback. Later calls return nil.
func (t *TCPTransport) Shutdown() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.inbox.Push(loopEvent{kind: eventStop})
	t.loopMu.Lock()
	defer t.loopMu.Unlock()

	t.executor.Close()
	t.inbox.Close()
	var errs error
	for _, ev := range t.inbox.Drain(nil) {
		switch ev.kind {
		case eventWrite:
			t.bufs.Put(ev.data)
		case eventClose:
			errs = multierr.Append(errs, t.release(ev.conn, nil))
		}
	}
	t.timers.CancelAll()

	for _, c := range t.table.removeAll() {
		errs = multierr.Append(errs, t.release(c, nil))
	}
	t.lmu.Lock()
	for fd, l := range t.listeners {
		errs = multierr.Append(errs, t.closeListener(l))
		delete(t.listeners, fd)
	}
	t.lmu.Unlock()

	errs = multierr.Append(errs, t.reactor.Close())
	if errs != nil {
		t.log.Warn("shutdown finished with errors", zap.Error(errs))
	}
	return errs
}

// Stats dumps connection, listener, timer, worker and platform probes.
func (t *TCPTransport) Stats() map[string]any {
	return t.probes.DumpState()
}

func (t *TCPTransport) registerProbes() {
	t.probes.RegisterProbe("connections", func() any { return t.table.len() })
	t.probes.RegisterProbe("listeners", func() any {
		t.lmu.Lock()
		defer t.lmu.Unlock()
		return len(t.listeners)
	})
	t.probes.RegisterProbe("timers", func() any { return t.timers.Len() })
	t.probes.RegisterProbe("inbox_pending", func() any { return t.inbox.Pending() })
	t.probes.RegisterProbe("executor", func() any { return t.executor.Stats() })
	t.probes.RegisterProbe("buffers", func() any { return t.bufs.Stats() })
	control.RegisterPlatformProbes(t.probes)
}

// learnAddress tells r its local endpoint when it does not know one yet.
func (t *TCPTransport) learnAddress(r api.Receiver, fd int) {
	if _, ok := r.Address(); ok {
		return
	}
	local, err := sock.LocalAddress(fd)
	if err != nil {
		t.log.Warn("cannot read local address", zap.Error(err))
		return
	}
	r.SetAddress(local)
}

// release closes a connection already removed from the table. Loop
// goroutine, or any goroutine once the loop is stopped.
func (t *TCPTransport) release(c *conn, reason error) error {
	if c.closed {
		return nil
	}
	c.closed = true
	_ = t.reactor.Remove(c.fd)
	err := sock.Close(c.fd)
	c.drainOutput(t.bufs.Put)
	c.in = nil
	if c.listener != nil {
		delete(c.listener.accepted, c.handle)
	}
	t.metrics.ConnClosed(c.dir.String())
	if reason != nil {
		t.loopLog.Warn("connection closed",
			zap.Stringer("peer", c.key.addr),
			zap.Stringer("dir", c.dir),
			zap.Error(reason))
	} else {
		t.loopLog.Debug("connection closed", zap.Stringer("peer", c.key.addr), zap.Stringer("dir", c.dir))
	}
	if err != nil {
		return fmt.Errorf("close %s connection to %s: %w", c.dir, c.key.addr, err)
	}
	return nil
}
