// File: transport/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/reactor"
)

type direction uint8

const (
	dirOutgoing direction = iota
	dirIncoming
)

func (d direction) String() string {
	if d == dirIncoming {
		return control.DirectionIncoming
	}
	return control.DirectionOutgoing
}

// maxIOV caps the buffers gathered into one writev(2).
const maxIOV = 1024

// conn is one TCP stream. handle, fd, key, dir, batch and listener are fixed
// at creation; every other field belongs to the loop goroutine.
type conn struct {
	handle   Handle
	fd       int
	key      connKey
	dir      direction
	batch    bool
	listener *listener // accepting listener, incoming only

	connecting bool
	closed     bool
	in         []byte       // undecoded input
	out        *queue.Queue // pending encoded frames, []byte
	outOff     int          // bytes of the head buffer already written
	outBytes   int
	interest   reactor.EventMask
	iov        [][]byte
}

func newConn(h Handle, fd int, key connKey, dir direction, batch bool) *conn {
	return &conn{
		handle: h,
		fd:     fd,
		key:    key,
		dir:    dir,
		batch:  batch,
		out:    queue.New(),
	}
}

// enqueue appends an encoded frame buffer to the output queue.
func (c *conn) enqueue(buf []byte) {
	c.out.Add(buf)
	c.outBytes += len(buf)
}

// pending reports whether output is waiting for the socket.
func (c *conn) pending() bool {
	return c.out.Length() > 0
}

// gather fills c.iov with the unwritten output, head buffer first.
func (c *conn) gather() [][]byte {
	c.iov = c.iov[:0]
	n := c.out.Length()
	if n > maxIOV {
		n = maxIOV
	}
	for i := 0; i < n; i++ {
		b := c.out.Get(i).([]byte)
		if i == 0 {
			b = b[c.outOff:]
		}
		c.iov = append(c.iov, b)
	}
	return c.iov
}

// advance consumes n written bytes from the queue and returns the buffers
// that were fully written.
func (c *conn) advance(n int, done func([]byte)) {
	c.outBytes -= n
	for n > 0 && c.out.Length() > 0 {
		head := c.out.Peek().([]byte)
		rest := len(head) - c.outOff
		if n < rest {
			c.outOff += n
			return
		}
		n -= rest
		c.outOff = 0
		c.out.Remove()
		done(head)
	}
}

// drainOutput discards pending output, handing buffers to done.
func (c *conn) drainOutput(done func([]byte)) {
	for c.out.Length() > 0 {
		done(c.out.Remove().([]byte))
	}
	c.outOff = 0
	c.outBytes = 0
}

// wantInterest is the reactor interest set matching the current state.
func (c *conn) wantInterest() reactor.EventMask {
	if c.connecting || c.pending() {
		return reactor.EventRead | reactor.EventWrite
	}
	return reactor.EventRead
}
