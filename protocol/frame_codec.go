// File: protocol/frame_codec.go
// Package protocol implements the message frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/momentics/hioload-transport/api"
)

// Frame is one decoded (type name, payload) pair.
type Frame struct {
	TypeName string
	Payload  []byte
}

// FrameSize returns the exact encoded size of one frame.
func FrameSize(typeName string, payload []byte) int {
	return MinFrameSize + len(typeName) + len(payload)
}

// AppendFrame appends one encoded frame to dst and returns the extended slice.
func AppendFrame(dst []byte, typeName string, payload []byte) []byte {
	total := FrameSize(typeName, payload)
	dst = byteOrder.AppendUint32(dst, Magic)
	dst = byteOrder.AppendUint64(dst, uint64(total))
	dst = byteOrder.AppendUint64(dst, uint64(len(typeName)))
	dst = append(dst, typeName...)
	dst = byteOrder.AppendUint64(dst, uint64(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// EncodeSingle produces exactly one frame.
func EncodeSingle(typeName string, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, FrameSize(typeName, payload)), typeName, payload)
}

// EncodeBatch concatenates one frame per message. Frames are not padded:
// each one is exactly FrameSize bytes, so a receiver advancing by
// totalLength stays in sync.
func EncodeBatch(frames []Frame) []byte {
	size := 0
	for _, f := range frames {
		size += FrameSize(f.TypeName, f.Payload)
	}
	buf := make([]byte, 0, size)
	for _, f := range frames {
		buf = AppendFrame(buf, f.TypeName, f.Payload)
	}
	return buf
}

// Decode parses at most one frame from the front of buf.
//
// Returns (frame, consumed, nil) on success, (Frame{}, 0, nil) when more
// bytes are needed, and a protocol error when the stream is desynchronized;
// in that case the connection cannot be recovered. The returned type name
// and payload never alias buf.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, nil
	}
	if m := byteOrder.Uint32(buf[0:magicSize]); m != Magic {
		return Frame{}, 0, fmt.Errorf("%w: got %#08x", api.ErrBadMagic, m)
	}
	total := byteOrder.Uint64(buf[magicSize:HeaderSize])
	if total >= MaxFrameSize {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes", api.ErrFrameTooLarge, total)
	}
	if total < MinFrameSize {
		return Frame{}, 0, fmt.Errorf("%w: total length %d below minimum", api.ErrMalformedFrame, total)
	}
	if uint64(len(buf)) < total {
		return Frame{}, 0, nil
	}

	frame := buf[:total]
	off := uint64(HeaderSize)

	typeLen := byteOrder.Uint64(frame[off : off+lenSize])
	off += lenSize
	// typeLen + the payload length field must fit in what is left.
	if typeLen > total-off-lenSize {
		return Frame{}, 0, fmt.Errorf("%w: type name length %d overruns frame of %d", api.ErrMalformedFrame, typeLen, total)
	}
	typeName := string(frame[off : off+typeLen])
	off += typeLen

	payloadLen := byteOrder.Uint64(frame[off : off+lenSize])
	off += lenSize
	if payloadLen > total-off {
		return Frame{}, 0, fmt.Errorf("%w: payload length %d overruns frame of %d", api.ErrMalformedFrame, payloadLen, total)
	}
	payload := make([]byte, payloadLen)
	copy(payload, frame[off:off+payloadLen])

	return Frame{TypeName: typeName, Payload: payload}, int(total), nil
}

// DecodeAll drains every complete frame at the front of buf, in order.
// consumed is the number of bytes covered by the returned frames. On a
// protocol error the frames decoded before the bad one are still returned.
func DecodeAll(buf []byte) (frames []Frame, consumed int, err error) {
	for {
		f, n, err := Decode(buf[consumed:])
		if err != nil {
			return frames, consumed, err
		}
		if n == 0 {
			return frames, consumed, nil
		}
		frames = append(frames, f)
		consumed += n
	}
}
