// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants.

package protocol

import "encoding/binary"

const (
	// Magic opens every frame.
	Magic uint32 = 0x06121983

	// MaxFrameSize is the sanity ceiling for totalLength. A declared length
	// at or above it is treated as corruption before any allocation happens.
	MaxFrameSize = 1073741826

	magicSize = 4
	lenSize   = 8

	// HeaderSize is the prefix needed to learn a frame's total length.
	HeaderSize = magicSize + lenSize

	// MinFrameSize is a frame with an empty type name and empty payload.
	MinFrameSize = magicSize + 3*lenSize
)

// byteOrder is the host order; the protocol does no endian conversion.
var byteOrder = binary.NativeEndian
