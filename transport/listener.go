// File: transport/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/control"
	sock "github.com/momentics/hioload-transport/internal/transport"
	"github.com/momentics/hioload-transport/reactor"
)

// listener is the server side of a registered replica.
type listener struct {
	fd       int
	recv     api.Receiver
	addr     api.Address
	batch    bool
	accepted map[Handle]struct{} // loop goroutine only
}

// listen binds, listens and registers the accept path for r. Every failure
// is fatal: a replica cannot serve without its port.
func (t *TCPTransport) listen(r api.Receiver, conf *control.Configuration, groupIdx, replicaIdx int, batch bool) {
	bindAddr := t.LookupAddress(conf, groupIdx, replicaIdx)

	fd, err := sock.NewStreamSocket(sock.SocketOptions{BufferSize: t.cfg.SocketBufferSize, ReuseAddr: true})
	if err != nil {
		t.log.Fatal("failed to create socket", zap.Error(err))
		return
	}
	if err := sock.Bind(fd, bindAddr); err != nil {
		sock.Close(fd)
		t.log.Fatal("failed to bind", zap.Stringer("addr", bindAddr), zap.Error(err))
		return
	}
	if err := sock.Listen(fd, t.cfg.ListenBacklog); err != nil {
		sock.Close(fd)
		t.log.Fatal("failed to listen", zap.Stringer("addr", bindAddr), zap.Error(err))
		return
	}
	local, err := sock.LocalAddress(fd)
	if err != nil {
		sock.Close(fd)
		t.log.Fatal("failed to get socket name", zap.Error(err))
		return
	}

	l := &listener{
		fd:       fd,
		recv:     r,
		addr:     local,
		batch:    batch,
		accepted: make(map[Handle]struct{}),
	}
	t.lmu.Lock()
	t.listeners[fd] = l
	t.lmu.Unlock()

	if err := t.reactor.Add(fd, listenerToken(fd), reactor.EventRead); err != nil {
		t.lmu.Lock()
		delete(t.listeners, fd)
		t.lmu.Unlock()
		sock.Close(fd)
		t.log.Fatal("failed to register listener", zap.Error(err))
		return
	}
	r.SetAddress(local.Clone())
	t.log.Info("listening",
		zap.Stringer("addr", local),
		zap.Int("group", groupIdx),
		zap.Int("replica", replicaIdx),
		zap.Bool("batch", batch))
}

func (t *TCPTransport) listenerByFD(fd int) (*listener, bool) {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	l, ok := t.listeners[fd]
	return l, ok
}

// acceptAll takes every pending connection of l. Loop goroutine.
func (t *TCPTransport) acceptAll(l *listener) {
	opts := sock.SocketOptions{BufferSize: t.cfg.SocketBufferSize}
	for {
		nfd, peer, err := sock.Accept(l.fd, opts)
		if err != nil {
			if !sock.IsWouldBlock(err) {
				t.loopLog.Warn("failed to accept incoming connection", zap.Stringer("listener", l.addr), zap.Error(err))
			}
			return
		}
		key := connKey{addr: peer, recv: l.recv}
		h, c, err := t.table.insert(key, func(h Handle) *conn {
			c := newConn(h, nfd, key, dirIncoming, l.batch)
			c.listener = l
			return c
		})
		if err != nil {
			sock.Close(nfd)
			t.loopLog.Warn("dropping incoming connection", zap.Stringer("peer", peer), zap.Error(err))
			continue
		}
		if err := t.reactor.Add(nfd, uint64(h), c.wantInterest()); err != nil {
			t.table.removeByHandle(h)
			c.closed = true
			sock.Close(nfd)
			t.loopLog.Warn("cannot watch incoming connection", zap.Stringer("peer", peer), zap.Error(err))
			continue
		}
		c.interest = c.wantInterest()
		l.accepted[h] = struct{}{}
		t.learnAddress(l.recv, nfd)
		t.metrics.ConnOpened(dirIncoming.String())
		t.loopLog.Debug("opened incoming connection", zap.Stringer("peer", peer), zap.Stringer("handle", h))
	}
}

// closeListener releases a listening socket. Its accepted connections are
// closed through the connection table.
func (t *TCPTransport) closeListener(l *listener) error {
	errRemove := t.reactor.Remove(l.fd)
	errClose := sock.Close(l.fd)
	return multierr.Combine(errRemove, errClose)
}
