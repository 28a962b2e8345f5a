// File: transport/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
	sock "github.com/momentics/hioload-transport/internal/transport"
	"github.com/momentics/hioload-transport/protocol"
)

// SendMessage frames m and queues it on the connection from src to dst,
// dialling one if none exists. It never blocks on the network; false means
// the message was not queued (encode failure, failed dial or a closed
// transport).
func (t *TCPTransport) SendMessage(src api.Receiver, dst api.Address, m api.Message) bool {
	payload, err := m.Marshal()
	if err != nil {
		t.log.Warn("failed to marshal message", zap.String("type", m.TypeName()), zap.Error(err))
		return false
	}
	typeName := m.TypeName()
	buf := t.bufs.Get(protocol.FrameSize(typeName, payload))
	buf = protocol.AppendFrame(buf[:0], typeName, payload)
	return t.queueWrite(src, dst, buf, 1)
}

// SendMessageBatch frames msgs back to back, in order, and queues them as
// one write.
func (t *TCPTransport) SendMessageBatch(src api.Receiver, dst api.Address, msgs []api.Message) bool {
	if len(msgs) == 0 {
		return true
	}
	fp := t.frames.Get()
	defer t.frames.Put(fp)
	size := 0
	for _, m := range msgs {
		payload, err := m.Marshal()
		if err != nil {
			t.log.Warn("failed to marshal message", zap.String("type", m.TypeName()), zap.Error(err))
			return false
		}
		f := protocol.Frame{TypeName: m.TypeName(), Payload: payload}
		*fp = append(*fp, f)
		size += protocol.FrameSize(f.TypeName, f.Payload)
	}
	buf := t.bufs.Get(size)[:0]
	for _, f := range *fp {
		buf = protocol.AppendFrame(buf, f.TypeName, f.Payload)
	}
	return t.queueWrite(src, dst, buf, len(msgs))
}

// SendMessageToReplica sends m to replica replicaIdx of groupIdx in the
// configuration src was registered with.
func (t *TCPTransport) SendMessageToReplica(src api.Receiver, groupIdx, replicaIdx int, m api.Message) bool {
	dst, ok := t.replicaAddress(src, groupIdx, replicaIdx)
	if !ok {
		return false
	}
	return t.SendMessage(src, dst, m)
}

// SendMessageToAll sends m to every replica of groupIdx except src itself.
// It reports whether every send was queued.
func (t *TCPTransport) SendMessageToAll(src api.Receiver, groupIdx int, m api.Message) bool {
	rt, ok := t.routeOf(src)
	if !ok {
		t.log.Warn("send from unregistered receiver")
		return false
	}
	all := true
	for i := 0; i < rt.conf.N(groupIdx); i++ {
		if rt.replicaIdx == i && rt.groupIdx == groupIdx {
			continue
		}
		if !t.SendMessageToReplica(src, groupIdx, i, m) {
			all = false
		}
	}
	return all
}

// replicaAddress resolves (and caches) a replica endpoint from src's
// configuration. Unlike LookupAddress a failure here only fails the send.
func (t *TCPTransport) replicaAddress(src api.Receiver, groupIdx, replicaIdx int) (api.Address, bool) {
	rt, ok := t.routeOf(src)
	if !ok {
		t.log.Warn("send from unregistered receiver")
		return api.Address{}, false
	}
	key := [2]int{groupIdx, replicaIdx}
	t.rmu.RLock()
	addr, ok := rt.resolved[key]
	t.rmu.RUnlock()
	if ok {
		return addr, true
	}
	ra, err := rt.conf.Replica(groupIdx, replicaIdx)
	if err != nil {
		t.log.Warn("unknown replica", zap.Int("group", groupIdx), zap.Int("replica", replicaIdx), zap.Error(err))
		return api.Address{}, false
	}
	addr, err = sock.ResolveAddress(ra.Host, ra.Port)
	if err != nil {
		t.log.Warn("failed to resolve replica", zap.Stringer("replica", ra), zap.Error(err))
		return api.Address{}, false
	}
	t.rmu.Lock()
	rt.resolved[key] = addr
	t.rmu.Unlock()
	return addr, true
}

// queueWrite hands an encoded buffer to the loop. buf is returned to the
// pool on every failure path.
func (t *TCPTransport) queueWrite(src api.Receiver, dst api.Address, buf []byte, count int) bool {
	if t.closed.Load() {
		t.bufs.Put(buf)
		return false
	}
	h, ok := t.connectionFor(src, dst)
	if !ok {
		t.bufs.Put(buf)
		return false
	}
	if !t.inbox.Push(loopEvent{kind: eventWrite, h: h, data: buf}) {
		t.bufs.Put(buf)
		return false
	}
	t.metrics.MessagesSent.Add(float64(count))
	return true
}

// connectionFor returns the connection from src to dst, dialling if needed.
func (t *TCPTransport) connectionFor(src api.Receiver, dst api.Address) (Handle, bool) {
	if h, ok := t.table.lookupOutgoing(dst, src); ok {
		return h, true
	}
	key := connKey{addr: dst, recv: src}
	h, created, err := t.table.getOrCreate(key, func(h Handle) (*conn, error) {
		return t.dial(h, key)
	})
	if err != nil {
		t.log.Warn("failed to connect", zap.Stringer("addr", dst), zap.Error(err))
		return 0, false
	}
	if created {
		t.metrics.ConnOpened(dirOutgoing.String())
		t.log.Debug("opened outgoing connection", zap.Stringer("addr", dst), zap.Stringer("handle", h))
	}
	return h, true
}

// dial opens a non-blocking connection for key. It runs inside the table's
// exclusive section, before the entry is visible to other senders.
func (t *TCPTransport) dial(h Handle, key connKey) (*conn, error) {
	batch := false
	if rt, ok := t.routeOf(key.recv); ok {
		batch = rt.batch
	}
	fd, err := sock.NewStreamSocket(sock.SocketOptions{BufferSize: t.cfg.SocketBufferSize})
	if err != nil {
		return nil, err
	}
	c := newConn(h, fd, key, dirOutgoing, batch)
	pending, err := sock.Connect(fd, key.addr)
	if err != nil {
		sock.Close(fd)
		return nil, err
	}
	c.connecting = pending
	c.interest = c.wantInterest()
	if err := t.reactor.Add(fd, uint64(h), c.interest); err != nil {
		sock.Close(fd)
		return nil, err
	}
	t.learnAddress(key.recv, fd)
	return c, nil
}
