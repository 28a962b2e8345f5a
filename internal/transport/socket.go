// File: internal/transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

// SocketOptions describes how NewStreamSocket prepares a TCP socket.
type SocketOptions struct {
	// BufferSize sets SO_SNDBUF and SO_RCVBUF when > 0.
	BufferSize int
	// ReuseAddr sets SO_REUSEADDR, for listening sockets.
	ReuseAddr bool
}
