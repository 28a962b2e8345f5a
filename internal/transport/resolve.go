// File: internal/transport/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"net"

	"github.com/momentics/hioload-transport/api"
)

// ResolveAddress turns host and a numeric or named port into an IPv4
// endpoint. Names resolving only to IPv6 are rejected with api.ErrNotIPv4.
func ResolveAddress(host, port string) (api.Address, error) {
	ta, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(host, port))
	if err != nil {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			return api.Address{}, fmt.Errorf("resolve %s:%s: %w", host, port, api.ErrNotIPv4)
		}
		return api.Address{}, api.NewError(api.ErrCodeResolve, "cannot resolve address").
			WithContext("host", host).
			WithContext("port", port).
			Wrap(err)
	}
	addr, err := api.AddressFromIP(ta.IP, ta.Port)
	if err != nil {
		return api.Address{}, fmt.Errorf("resolve %s:%s: %w", host, port, err)
	}
	return addr, nil
}
