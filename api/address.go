// File: api/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address is the resolved IPv4 endpoint identity shared by the transport,
// its connection table and every Receiver.

package api

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// addressLen mirrors the size of a sockaddr_in.
const addressLen = 16

// familyINET is AF_INET; stored so the layout matches a sockaddr_in.
const familyINET = 2

// Address is an immutable IPv4 socket endpoint.
//
// Layout: family(2) | port(2, network order) | ipv4(4) | zero padding(8).
// Padding is always zero, so two Addresses naming the same endpoint are
// byte-identical and the type can be used directly as a map key.
// Compare defines a total order over the raw bytes; it is not a semantic
// IP/port order.
type Address struct {
	raw [addressLen]byte
}

// NewAddress builds an Address from four IPv4 octets and a port.
func NewAddress(ip [4]byte, port int) Address {
	var a Address
	binary.BigEndian.PutUint16(a.raw[0:2], familyINET)
	binary.BigEndian.PutUint16(a.raw[2:4], uint16(port))
	copy(a.raw[4:8], ip[:])
	return a
}

// AddressFromIP converts a net.IP and port. Non-IPv4 addresses are rejected.
func AddressFromIP(ip net.IP, port int) (Address, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Address{}, fmt.Errorf("%w: %s", ErrNotIPv4, ip)
	}
	if port < 0 || port > 0xFFFF {
		return Address{}, fmt.Errorf("%w: port %d", ErrInvalidArgument, port)
	}
	var octets [4]byte
	copy(octets[:], v4)
	return NewAddress(octets, port), nil
}

// IP returns the IPv4 part.
func (a Address) IP() net.IP {
	return net.IPv4(a.raw[4], a.raw[5], a.raw[6], a.raw[7])
}

// IP4 returns the raw IPv4 octets.
func (a Address) IP4() [4]byte {
	var out [4]byte
	copy(out[:], a.raw[4:8])
	return out
}

// Port returns the TCP port.
func (a Address) Port() int {
	return int(binary.BigEndian.Uint16(a.raw[2:4]))
}

// IsZero reports whether a was never assigned.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Equal is exact byte equality.
func (a Address) Equal(b Address) bool {
	return a == b
}

// Compare returns -1, 0 or +1 by raw byte comparison.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a.raw[:], b.raw[:])
}

// Less orders addresses by raw bytes.
func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

// Clone returns a copy suitable for handing to a Receiver.
func (a Address) Clone() Address {
	return a
}

// Bytes returns a copy of the raw 16-byte representation.
func (a Address) Bytes() []byte {
	out := make([]byte, addressLen)
	copy(out, a.raw[:])
	return out
}

// String renders host:port.
func (a Address) String() string {
	return net.JoinHostPort(a.IP().String(), strconv.Itoa(a.Port()))
}
