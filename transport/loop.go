// File: transport/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event loop: reactor readiness, inbox events and timers, all on one
// goroutine locked to its OS thread.

package transport

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
	sock "github.com/momentics/hioload-transport/internal/transport"
	"github.com/momentics/hioload-transport/protocol"
	"github.com/momentics/hioload-transport/reactor"
)

type eventKind uint8

const (
	eventWrite eventKind = iota // queue data on connection h
	eventClose                  // release conn, already out of the table
	eventTask                   // run fn on the loop
	eventStop                   // leave Run
)

// loopEvent is a request posted to the loop goroutine.
type loopEvent struct {
	kind eventKind
	h    Handle
	data []byte
	conn *conn
	fn   func()
}

// maxReadsPerEvent bounds the read(2) calls spent on one connection per
// readiness event; the level-triggered reactor reports leftovers again.
const maxReadsPerEvent = 16

// Run dispatches I/O, inbox and timer events on the calling goroutine until
// Stop, Shutdown or, with HandleSignals, SIGINT/SIGTERM. A second concurrent
// Run returns immediately.
func (t *TCPTransport) Run() {
	if !t.loopMu.TryLock() {
		t.log.Warn("event loop already running")
		return
	}
	defer t.loopMu.Unlock()
	if t.closed.Load() {
		return
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if t.cfg.HandleSignals {
		stopSignals := t.watchSignals()
		defer stopSignals()
	}

	t.loopLog.Debug("event loop started")
	for {
		timeout := time.Duration(-1)
		if d, ok := t.timers.NextDeadline(); ok {
			timeout = d
		}
		n, err := t.reactor.Wait(t.events, timeout)
		if err != nil {
			t.loopLog.Error("reactor wait failed", zap.Error(err))
			return
		}
		for i := 0; i < n; i++ {
			t.handleEvent(t.events[i])
		}
		stop := t.processInbox()
		if fired := t.timers.FireDue(); fired > 0 {
			t.metrics.TimersFired.Add(float64(fired))
		}
		if stop {
			t.loopLog.Debug("event loop stopped")
			return
		}
	}
}

// Stop makes the running (or next) Run return after its current iteration.
// Safe from any goroutine, including loop callbacks. Connections stay open.
func (t *TCPTransport) Stop() {
	t.inbox.Push(loopEvent{kind: eventStop})
}

// post runs fn on the loop goroutine.
func (t *TCPTransport) post(fn func()) bool {
	return t.inbox.Push(loopEvent{kind: eventTask, fn: fn})
}

func (t *TCPTransport) handleEvent(ev reactor.Event) {
	switch {
	case ev.Token == reactor.TokenWake:
		// inbox is drained every iteration
	case isListenerToken(ev.Token):
		if l, ok := t.listenerByFD(listenerFD(ev.Token)); ok {
			t.acceptAll(l)
		}
	default:
		t.handleConnEvent(Handle(ev.Token), ev)
	}
}

func (t *TCPTransport) handleConnEvent(h Handle, ev reactor.Event) {
	c, ok := t.table.get(h)
	if !ok || c.closed {
		// released since the event was queued
		return
	}
	if c.connecting {
		if !ev.Writable() && !ev.Failed() {
			return
		}
		if !t.finishConnect(c) {
			return
		}
	}
	if ev.Readable() {
		if !t.readFrom(c) {
			return
		}
	} else if ev.Failed() {
		t.teardown(c, socketFailure(c.fd))
		return
	}
	if ev.Writable() {
		t.flush(c)
	}
}

// finishConnect completes a non-blocking connect. A successful connect is
// only logged; the table already holds the connection.
func (t *TCPTransport) finishConnect(c *conn) bool {
	if err := sock.SocketError(c.fd); err != nil {
		t.teardown(c, err)
		return false
	}
	c.connecting = false
	t.loopLog.Debug("connected", zap.Stringer("peer", c.key.addr), zap.Stringer("handle", c.handle))
	return t.updateInterest(c)
}

// readFrom drains the socket into c.in, delivers every complete frame and
// tears the connection down on EOF, socket error or a framing violation.
// It reports whether c is still open.
func (t *TCPTransport) readFrom(c *conn) bool {
	var failure error
	eof := false
	for i := 0; i < maxReadsPerEvent; i++ {
		n, err := sock.Read(c.fd, t.readBuf)
		if n > 0 {
			c.in = append(c.in, t.readBuf[:n]...)
			t.metrics.BytesReceived.Add(float64(n))
		}
		if err != nil {
			if !sock.IsWouldBlock(err) {
				failure = err
			}
			break
		}
		if n == 0 {
			eof = true
			break
		}
	}

	if err := t.deliver(c); err != nil {
		t.metrics.DecodeErrors.Inc()
		t.teardown(c, err)
		return false
	}
	if c.closed {
		// a receiver callback closed it
		return false
	}
	switch {
	case failure != nil:
		t.teardown(c, failure)
		return false
	case eof:
		t.teardown(c, nil)
		return false
	}
	return true
}

// deliver decodes buffered input and hands complete frames to the receiver.
func (t *TCPTransport) deliver(c *conn) error {
	frames, consumed, err := protocol.DecodeAll(c.in)
	if consumed > 0 {
		rest := copy(c.in, c.in[consumed:])
		c.in = c.in[:rest]
		if rest == 0 && cap(c.in) > 4*t.cfg.ReadChunkSize {
			c.in = nil
		}
	}
	if len(frames) > 0 {
		from := c.key.addr
		if br, ok := c.key.recv.(api.BatchReceiver); ok && c.batch {
			names := make([]string, len(frames))
			payloads := make([][]byte, len(frames))
			for i, f := range frames {
				names[i], payloads[i] = f.TypeName, f.Payload
			}
			br.ReceiveMessageBatch(from, names, payloads)
		} else {
			for _, f := range frames {
				c.key.recv.ReceiveMessage(from, f.TypeName, f.Payload)
			}
		}
		t.metrics.MessagesReceived.Add(float64(len(frames)))
	}
	return err
}

// flush writes as much pending output as the socket accepts.
func (t *TCPTransport) flush(c *conn) {
	if c.connecting {
		return
	}
	for c.pending() {
		n, err := sock.Writev(c.fd, c.gather())
		if n > 0 {
			c.advance(n, t.bufs.Put)
			t.metrics.BytesSent.Add(float64(n))
		}
		if err != nil {
			if sock.IsWouldBlock(err) {
				break
			}
			t.teardown(c, err)
			return
		}
		if n == 0 {
			break
		}
	}
	t.updateInterest(c)
}

// updateInterest arms EventWrite only while output is pending.
func (t *TCPTransport) updateInterest(c *conn) bool {
	want := c.wantInterest()
	if want == c.interest {
		return true
	}
	if err := t.reactor.Modify(c.fd, uint64(c.handle), want); err != nil {
		t.teardown(c, err)
		return false
	}
	c.interest = want
	return true
}

// teardown removes c from both table directions, then releases it.
func (t *TCPTransport) teardown(c *conn, reason error) {
	if c.closed {
		return
	}
	t.table.removeByHandle(c.handle)
	_ = t.release(c, reason)
}

// processInbox runs every posted event in order and reports whether a stop
// was requested.
func (t *TCPTransport) processInbox() bool {
	t.drained = t.inbox.Drain(t.drained[:0])
	stop := false
	for i := range t.drained {
		ev := &t.drained[i]
		switch ev.kind {
		case eventWrite:
			t.write(ev.h, ev.data)
		case eventClose:
			_ = t.release(ev.conn, nil)
		case eventTask:
			ev.fn()
		case eventStop:
			stop = true
		}
		*ev = loopEvent{}
	}
	return stop
}

// write queues data on h and flushes it unless the connect is still in
// progress.
func (t *TCPTransport) write(h Handle, data []byte) {
	c, ok := t.table.get(h)
	if !ok || c.closed {
		t.loopLog.Warn("dropping message for closed connection", zap.Stringer("handle", h))
		t.bufs.Put(data)
		return
	}
	c.enqueue(data)
	t.flush(c)
}

func socketFailure(fd int) error {
	if err := sock.SocketError(fd); err != nil {
		return err
	}
	return api.ErrConnectionClosed
}
