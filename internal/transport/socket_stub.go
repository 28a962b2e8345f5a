//go:build !linux
// +build !linux

// File: internal/transport/socket_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for unsupported platforms.

package transport

import "github.com/momentics/hioload-transport/api"

func NewStreamSocket(SocketOptions) (int, error) { return -1, api.ErrNotSupported }

func Bind(int, api.Address) error { return api.ErrNotSupported }

func Listen(int, int) error { return api.ErrNotSupported }

func Accept(int, SocketOptions) (int, api.Address, error) {
	return -1, api.Address{}, api.ErrNotSupported
}

func Connect(int, api.Address) (bool, error) { return false, api.ErrNotSupported }

func LocalAddress(int) (api.Address, error) { return api.Address{}, api.ErrNotSupported }

func SocketError(int) error { return api.ErrNotSupported }

func Read(int, []byte) (int, error) { return 0, api.ErrNotSupported }

func Writev(int, [][]byte) (int, error) { return 0, api.ErrNotSupported }

func Close(int) error { return api.ErrNotSupported }

func IsWouldBlock(error) bool { return false }
