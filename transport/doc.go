// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP message transport for replicas and clients of a replicated store.
//
// A TCPTransport owns one event-loop goroutine that performs every socket
// read, write, accept and connect completion and runs every timer and
// completion callback, so those never race each other. Application
// goroutines call SendMessage, Timer, CancelTimer, Close and Dispatch
// concurrently; their requests reach the loop through an inbox, and the only
// state they touch directly is the connection table, guarded by a
// reader/writer lock.
//
// Messages travel as frames (see package protocol): a magic number, three
// native-order lengths, the type name and the payload. Connections to peers
// are dialled lazily by the first SendMessage and torn down on error, EOF or
// a framing violation; the next send dials again.
package transport
