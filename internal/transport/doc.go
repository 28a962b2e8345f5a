// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw socket primitives for the TCP transport: IPv4 endpoint resolution and
// thin non-blocking wrappers over socket/bind/listen/accept/connect and
// vectored I/O, strictly separated by build tags.

package transport
