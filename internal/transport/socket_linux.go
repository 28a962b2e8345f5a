//go:build linux
// +build linux

// File: internal/transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking IPv4 TCP sockets over golang.org/x/sys/unix.

package transport

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-transport/api"
)

// NewStreamSocket creates a non-blocking, close-on-exec TCP socket with
// TCP_NODELAY and the requested options applied.
func NewStreamSocket(opts SocketOptions) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	if err := applyOptions(fd, opts); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func applyOptions(fd int, opts SocketOptions) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	if opts.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
	}
	if opts.BufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opts.BufferSize); err != nil {
			return fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.BufferSize); err != nil {
			return fmt.Errorf("setsockopt SO_RCVBUF: %w", err)
		}
	}
	return nil
}

// Bind binds fd to addr.
func Bind(fd int, addr api.Address) error {
	if err := unix.Bind(fd, toSockaddr(addr)); err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	return nil
}

// Listen marks fd as passive.
func Listen(fd, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Accept takes one pending connection from a listening socket. The new
// socket is non-blocking and gets opts applied. When nothing is pending it
// returns an error satisfying IsWouldBlock.
func Accept(fd int, opts SocketOptions) (int, api.Address, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, api.Address{}, err
	}
	opts.ReuseAddr = false
	if err := applyOptions(nfd, opts); err != nil {
		unix.Close(nfd)
		return -1, api.Address{}, err
	}
	peer, err := fromSockaddr(sa)
	if err != nil {
		unix.Close(nfd)
		return -1, api.Address{}, err
	}
	return nfd, peer, nil
}

// Connect starts a non-blocking connect. pending is true when the handshake
// continues asynchronously; completion is signalled by writability, after
// which SocketError reports the outcome.
func Connect(fd int, addr api.Address) (pending bool, err error) {
	err = unix.Connect(fd, toSockaddr(addr))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
		return true, nil
	default:
		return false, fmt.Errorf("connect %s: %w", addr, err)
	}
}

// LocalAddress returns the endpoint fd is bound to (getsockname).
func LocalAddress(fd int) (api.Address, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return api.Address{}, fmt.Errorf("getsockname: %w", err)
	}
	return fromSockaddr(sa)
}

// SocketError fetches and clears the pending SO_ERROR of fd.
func SocketError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if code != 0 {
		return unix.Errno(code)
	}
	return nil
}

// Read reads into buf. n == 0 with a nil error means the peer closed.
func Read(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Writev gathers bufs into a single write.
func Writev(fd int, bufs [][]byte) (int, error) {
	for {
		n, err := unix.Writev(fd, bufs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Close releases fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// IsWouldBlock reports whether err means "try again when ready".
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func toSockaddr(addr api.Address) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: addr.Port(), Addr: addr.IP4()}
}

func fromSockaddr(sa unix.Sockaddr) (api.Address, error) {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return api.Address{}, api.ErrNotIPv4
	}
	return api.NewAddress(in4.Addr, in4.Port), nil
}
