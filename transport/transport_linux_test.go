//go:build linux

package transport

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/fake"
	"github.com/momentics/hioload-transport/protocol"
)

const waitTimeout = 3 * time.Second

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.Logger = zaptest.NewLogger(t,
		zaptest.Level(zap.InfoLevel),
		zaptest.WrapOptions(zap.WithFatalHook(zapcore.WriteThenPanic)))
	cfg.Registerer = prometheus.NewRegistry()
	return cfg
}

// startTransport builds a transport and runs its loop until cleanup.
func startTransport(t *testing.T) *TCPTransport {
	t.Helper()
	tr, err := New(testConfig(t))
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run()
	}()
	t.Cleanup(func() {
		assert.NoError(t, tr.Shutdown())
		<-done
	})
	return tr
}

func loopbackConfig(ports ...int) *control.Configuration {
	group := make([]control.ReplicaAddress, len(ports))
	for i, p := range ports {
		group[i] = control.ReplicaAddress{Host: "127.0.0.1", Port: strconv.Itoa(p)}
	}
	return control.NewConfiguration(group)
}

// startReplica registers a fresh receiver as replica 0 on an ephemeral port.
func startReplica(t *testing.T, tr *TCPTransport, batch bool) (*fake.Receiver, api.Address) {
	t.Helper()
	r := fake.NewReceiver()
	if batch {
		tr.RegisterBatch(r, loopbackConfig(0), 0, 0)
	} else {
		tr.Register(r, loopbackConfig(0), 0, 0)
	}
	addr, ok := r.Address()
	require.True(t, ok, "listening replica learns its address")
	require.NotZero(t, addr.Port())
	return r, addr
}

func startClient(t *testing.T, tr *TCPTransport) *fake.Receiver {
	t.Helper()
	c := fake.NewReceiver()
	tr.Register(c, loopbackConfig(0), 0, -1)
	return c
}

func msg(typ, data string) api.Message {
	return api.RawMessage{Type: typ, Data: []byte(data)}
}

func TestTransport_RoundTripAndReplyOverSameConnection(t *testing.T) {
	server := startTransport(t)
	clientTr := startTransport(t)
	replica, replicaAddr := startReplica(t, server, false)
	client := startClient(t, clientTr)

	require.True(t, clientTr.SendMessage(client, replicaAddr, msg("txn.Prepare", "hello")))

	got := replica.WaitFor(1, waitTimeout)
	require.Len(t, got, 1)
	assert.Equal(t, "txn.Prepare", got[0].TypeName)
	assert.Equal(t, "hello", string(got[0].Payload))

	clientAddr, ok := client.Address()
	require.True(t, ok, "client learns its local address on connect")
	assert.Equal(t, clientAddr, got[0].From)

	// the reply reuses the accepted connection instead of dialling
	require.True(t, server.SendMessage(replica, got[0].From, msg("txn.PrepareOK", "world")))
	reply := client.WaitFor(1, waitTimeout)
	require.Len(t, reply, 1)
	assert.Equal(t, "txn.PrepareOK", reply[0].TypeName)
	assert.Equal(t, replicaAddr, reply[0].From)
	assert.Equal(t, 1, server.table.len())
	assert.Equal(t, 1, clientTr.table.len())

	assert.Equal(t, 1.0, testutil.ToFloat64(clientTr.metrics.MessagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(server.metrics.MessagesReceived))
}

func TestTransport_LargeMessagesAcrossManyReads(t *testing.T) {
	server := startTransport(t)
	clientTr := startTransport(t)
	replica, replicaAddr := startReplica(t, server, false)
	client := startClient(t, clientTr)

	big := bytes.Repeat([]byte("0123456789abcdef"), 256*1024) // 4 MiB
	for i := 0; i < 3; i++ {
		require.True(t, clientTr.SendMessage(client, replicaAddr, api.RawMessage{Type: fmt.Sprint("blob.", i), Data: big}))
	}
	got := replica.WaitFor(3, 10*time.Second)
	require.Len(t, got, 3)
	for i, d := range got {
		assert.Equal(t, fmt.Sprint("blob.", i), d.TypeName)
		assert.True(t, bytes.Equal(big, d.Payload))
	}
}

func TestTransport_BatchDeliveryPreservesOrder(t *testing.T) {
	server := startTransport(t)
	clientTr := startTransport(t)
	replica, replicaAddr := startReplica(t, server, true)
	client := startClient(t, clientTr)

	const n = 50
	msgs := make([]api.Message, n)
	for i := range msgs {
		// uneven sizes; padding to the largest frame would desynchronize
		msgs[i] = api.RawMessage{Type: fmt.Sprintf("op.%d", i), Data: bytes.Repeat([]byte{byte(i)}, i*13)}
	}
	require.True(t, clientTr.SendMessageBatch(client, replicaAddr, msgs))

	got := replica.WaitFor(n, waitTimeout)
	require.Len(t, got, n)
	prevBatch := 0
	for i, d := range got {
		assert.Equal(t, fmt.Sprintf("op.%d", i), d.TypeName)
		assert.Len(t, d.Payload, i*13)
		assert.GreaterOrEqual(t, d.Batch, prevBatch, "batch deliveries, in order")
		prevBatch = d.Batch
	}
	assert.GreaterOrEqual(t, replica.Batches(), 1)
}

func TestTransport_TwoSendsOneConnection(t *testing.T) {
	server := startTransport(t)
	clientTr := startTransport(t)
	replica, replicaAddr := startReplica(t, server, false)
	client := startClient(t, clientTr)

	require.True(t, clientTr.SendMessage(client, replicaAddr, msg("a", "1")))
	require.True(t, clientTr.SendMessage(client, replicaAddr, msg("b", "2")))
	assert.Equal(t, 1, clientTr.table.len())

	got := replica.WaitFor(2, waitTimeout)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].TypeName)
	assert.Equal(t, "b", got[1].TypeName)
	assert.Equal(t, 1, server.table.len())
}

func TestTransport_ResetConnectionCleansBothDirections(t *testing.T) {
	clientTr := startTransport(t)
	client := startClient(t, clientTr)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c.(*net.TCPConn)
		}
	}()

	ta := ln.Addr().(*net.TCPAddr)
	dst, err := api.AddressFromIP(ta.IP, ta.Port)
	require.NoError(t, err)
	require.True(t, clientTr.SendMessage(client, dst, msg("ping", "")))

	var peerConn *net.TCPConn
	select {
	case peerConn = <-accepted:
	case <-time.After(waitTimeout):
		t.Fatal("no connection accepted")
	}
	h, ok := clientTr.table.lookupOutgoing(dst, client)
	require.True(t, ok)

	// an abortive close delivers ECONNRESET to the transport
	require.NoError(t, peerConn.SetLinger(0))
	require.NoError(t, peerConn.Close())

	require.Eventually(t, func() bool { return clientTr.table.len() == 0 }, waitTimeout, 5*time.Millisecond)
	_, ok = clientTr.table.lookupOutgoing(dst, client)
	assert.False(t, ok)
	_, ok = clientTr.table.findAddressOf(h)
	assert.False(t, ok)
	assert.True(t, clientTr.table.consistent())
}

func TestTransport_BadMagicDropsOnlyThatConnection(t *testing.T) {
	server := startTransport(t)
	clientTr := startTransport(t)
	replica, replicaAddr := startReplica(t, server, false)
	client := startClient(t, clientTr)

	require.True(t, clientTr.SendMessage(client, replicaAddr, msg("good", "1")))
	require.Len(t, replica.WaitFor(1, waitTimeout), 1)

	raw, err := net.Dial("tcp4", replicaAddr.String())
	require.NoError(t, err)
	defer raw.Close()
	garbage := protocol.EncodeSingle("evil", []byte("payload"))
	garbage[0] ^= 0xff
	_, err = raw.Write(garbage)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(server.metrics.DecodeErrors) == 1
	}, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return server.table.len() == 1 }, waitTimeout, 5*time.Millisecond)

	// the well-behaved peer is unaffected
	require.True(t, clientTr.SendMessage(client, replicaAddr, msg("good", "2")))
	got := replica.WaitFor(2, waitTimeout)
	require.Len(t, got, 2)
	assert.Equal(t, "2", string(got[1].Payload))
}

func TestTransport_ReconnectsAfterPeerLoss(t *testing.T) {
	clientTr := startTransport(t)
	client := startClient(t, clientTr)

	server := startTransport(t)
	replica, replicaAddr := startReplica(t, server, false)
	require.True(t, clientTr.SendMessage(client, replicaAddr, msg("a", "")))
	require.Len(t, replica.WaitFor(1, waitTimeout), 1)

	// drop the accepted side; the client notices EOF and forgets the connection
	for _, c := range server.table.removeAll() {
		server.inbox.Push(loopEvent{kind: eventClose, conn: c})
	}
	require.Eventually(t, func() bool { return clientTr.table.len() == 0 }, waitTimeout, 5*time.Millisecond)

	require.True(t, clientTr.SendMessage(client, replicaAddr, msg("b", "")))
	got := replica.WaitFor(2, waitTimeout)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].TypeName)
}

func TestTransport_CloseTearsDownFirstOutgoingOnly(t *testing.T) {
	server := startTransport(t)
	clientTr := startTransport(t)
	r1, a1 := startReplica(t, server, false)
	r2, a2 := startReplica(t, server, false)
	client := startClient(t, clientTr)

	require.True(t, clientTr.SendMessage(client, a1, msg("x", "")))
	require.True(t, clientTr.SendMessage(client, a2, msg("y", "")))
	require.Len(t, r1.WaitFor(1, waitTimeout), 1)
	require.Len(t, r2.WaitFor(1, waitTimeout), 1)
	require.Equal(t, 2, clientTr.table.len())

	clientTr.Close(client)
	assert.Equal(t, 1, clientTr.table.len())
	first, second := a1, a2
	if a2.Less(a1) {
		first, second = a2, a1
	}
	_, ok := clientTr.table.lookupOutgoing(first, client)
	assert.False(t, ok)
	_, ok = clientTr.table.lookupOutgoing(second, client)
	assert.True(t, ok)
}

func TestTransport_DialFailureIsNotFatal(t *testing.T) {
	clientTr := startTransport(t)
	client := startClient(t, clientTr)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	ta := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	dst, err := api.AddressFromIP(ta.IP, ta.Port)
	require.NoError(t, err)

	clientTr.SendMessage(client, dst, msg("lost", ""))
	require.Eventually(t, func() bool { return clientTr.table.len() == 0 }, waitTimeout, 5*time.Millisecond)
	assert.True(t, clientTr.table.consistent())
}

func TestTransport_ReplicaRouting(t *testing.T) {
	server := startTransport(t)
	r0, a0 := startReplica(t, server, false)
	r1, a1 := startReplica(t, server, false)
	conf := loopbackConfig(a0.Port(), a1.Port())

	clientTr := startTransport(t)
	client := fake.NewReceiver()
	clientTr.Register(client, conf, 0, -1)

	require.True(t, clientTr.SendMessageToReplica(client, 0, 1, msg("direct", "")))
	require.Len(t, r1.WaitFor(1, waitTimeout), 1)
	assert.False(t, clientTr.SendMessageToReplica(client, 0, 5, msg("nowhere", "")))

	require.True(t, clientTr.SendMessageToAll(client, 0, msg("all", "")))
	assert.Len(t, r0.WaitFor(1, waitTimeout), 1)
	assert.Len(t, r1.WaitFor(2, waitTimeout), 2)

	assert.False(t, clientTr.SendMessageToAll(fake.NewReceiver(), 0, msg("unregistered", "")))
}

func TestTransport_TimerFiresOnceAfterDelay(t *testing.T) {
	tr := startTransport(t)
	fired := make(chan time.Time, 2)
	start := time.Now()
	id := tr.Timer(20, func() { fired <- time.Now() })
	assert.Greater(t, id, api.TimerID(0))

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(waitTimeout):
		t.Fatal("timer did not fire")
	}
	select {
	case <-fired:
		t.Fatal("timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, tr.CancelTimer(id), "fired timer cannot be cancelled")
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.TimersFired))
}

func TestTransport_CancelledTimerNeverFires(t *testing.T) {
	tr := startTransport(t)
	var fired atomic.Bool
	id := tr.Timer(50, func() { fired.Store(true) })
	time.Sleep(10 * time.Millisecond)
	require.True(t, tr.CancelTimer(id))
	time.Sleep(200 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestTransport_TimerIDsIncrease(t *testing.T) {
	tr := startTransport(t)
	var prev api.TimerID
	for i := 0; i < 100; i++ {
		var id api.TimerID
		if i%2 == 0 {
			id = tr.Timer(60_000, func() {})
		} else {
			id = tr.TimerMicro(60_000_000, func() {})
		}
		assert.Greater(t, id, prev)
		prev = id
	}
	tr.CancelAllTimers()
	assert.Equal(t, 0, tr.Stats()["timers"])
}

func TestTransport_TimerMicroFires(t *testing.T) {
	tr := startTransport(t)
	fired := make(chan struct{})
	tr.TimerMicro(500, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(waitTimeout):
		t.Fatal("microsecond timer did not fire")
	}
}

func TestTransport_DispatchCompletesOnLoopThread(t *testing.T) {
	tr := startTransport(t)

	loopTID := make(chan int, 1)
	tr.IssueCallback(func(any) { loopTID <- unix.Gettid() }, nil)
	var loop int
	select {
	case loop = <-loopTID:
	case <-time.After(waitTimeout):
		t.Fatal("callback not run")
	}

	type result struct {
		value any
		tid   int
	}
	done := make(chan result, 1)
	tr.Dispatch(func() any { return 42 }, func(v any) {
		done <- result{value: v, tid: unix.Gettid()}
	})
	select {
	case r := <-done:
		assert.Equal(t, 42, r.value)
		assert.Equal(t, loop, r.tid, "completion runs on the loop thread")
	case <-time.After(waitTimeout):
		t.Fatal("completion not run")
	}
}

func TestTransport_DispatchLocalAndDetached(t *testing.T) {
	tr := startTransport(t)

	type tids struct{ work, done int }
	local := make(chan tids, 1)
	var workTID int
	tr.DispatchLocal(func() any {
		workTID = unix.Gettid()
		return nil
	}, func(any) {
		local <- tids{work: workTID, done: unix.Gettid()}
	})
	select {
	case got := <-local:
		assert.Equal(t, got.work, got.done, "local completion stays on the worker")
	case <-time.After(waitTimeout):
		t.Fatal("local completion not run")
	}

	ran := make(chan struct{})
	tr.DispatchDetached(func() any {
		close(ran)
		return nil
	})
	select {
	case <-ran:
	case <-time.After(waitTimeout):
		t.Fatal("detached work not run")
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(tr.metrics.TasksDispatched) == 2
	}, waitTimeout, 5*time.Millisecond)
}

func TestTransport_StopFromCallbackAndRestart(t *testing.T) {
	tr, err := New(testConfig(t))
	require.NoError(t, err)
	defer tr.Shutdown()

	done := make(chan struct{})
	go func() {
		tr.Run()
		close(done)
	}()
	tr.IssueCallback(func(any) { tr.Stop() }, nil)
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after Stop")
	}

	// timers scheduled while stopped fire once the loop runs again
	fired := make(chan struct{})
	tr.Timer(1, func() {
		close(fired)
		tr.Stop()
	})
	tr.Run()
	select {
	case <-fired:
	default:
		t.Fatal("timer did not fire on restarted loop")
	}
}

func TestTransport_BindConflictIsFatal(t *testing.T) {
	tr := startTransport(t)
	_, addr := startReplica(t, tr, false)

	assert.Panics(t, func() {
		tr.Register(fake.NewReceiver(), loopbackConfig(addr.Port()), 0, 0)
	})
	assert.Equal(t, 1, tr.Stats()["listeners"])
}

func TestTransport_UnresolvableAddressIsFatal(t *testing.T) {
	tr := startTransport(t)
	assert.Panics(t, func() { tr.LookupReplicaAddress("::1", "80") })
	assert.Panics(t, func() { tr.LookupAddress(loopbackConfig(1), 3, 0) })
	assert.Equal(t, api.NewAddress([4]byte{127, 0, 0, 1}, 80), tr.LookupReplicaAddress("127.0.0.1", "80"))
}

func TestTransport_ShutdownClosesEverything(t *testing.T) {
	tr, err := New(testConfig(t))
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		tr.Run()
		close(done)
	}()

	replica, addr := startReplica(t, tr, false)
	client := startClient(t, tr)
	require.True(t, tr.SendMessage(client, addr, msg("m", "")))
	require.Len(t, replica.WaitFor(1, waitTimeout), 1)
	stats := tr.Stats()
	assert.Equal(t, 2, stats["connections"])
	assert.Equal(t, 1, stats["listeners"])

	require.NoError(t, tr.Shutdown())
	<-done
	assert.Zero(t, tr.table.len())
	assert.Zero(t, tr.Stats()["listeners"])
	assert.False(t, tr.SendMessage(client, addr, msg("late", "")))
	assert.NoError(t, tr.Shutdown())
}
