package protocol_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/protocol"
)

var roundTripCases = []protocol.Frame{
	{TypeName: "replication.Prepare", Payload: []byte("hello")},
	{TypeName: "", Payload: nil},
	{TypeName: "empty.Payload", Payload: []byte{}},
	{TypeName: "binary", Payload: []byte{0, 1, 2, 0xff, 0x83, 0x19, 0x12, 0x06}},
	{TypeName: "large", Payload: bytes.Repeat([]byte{0xab}, 200_000)},
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, tc := range roundTripCases {
		t.Run(tc.TypeName, func(t *testing.T) {
			data := protocol.EncodeSingle(tc.TypeName, tc.Payload)
			require.Len(t, data, protocol.FrameSize(tc.TypeName, tc.Payload))

			got, n, err := protocol.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, len(data), n)
			assert.Equal(t, tc.TypeName, got.TypeName)
			assert.Equal(t, len(tc.Payload), len(got.Payload))
			assert.True(t, bytes.Equal(tc.Payload, got.Payload))
		})
	}
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	data := protocol.EncodeSingle("t", []byte("abc"))
	got, _, err := protocol.Decode(data)
	require.NoError(t, err)
	for i := range data {
		data[i] = 0
	}
	assert.Equal(t, "abc", string(got.Payload))
}

func TestDecode_ByteAtATime(t *testing.T) {
	data := protocol.EncodeSingle("consensus.Vote", []byte("payload bytes"))
	var buf []byte
	for i := 0; i < len(data)-1; i++ {
		buf = append(buf, data[i])
		f, n, err := protocol.Decode(buf)
		require.NoError(t, err, "prefix of %d bytes", len(buf))
		require.Zero(t, n, "spurious frame after %d bytes", len(buf))
		require.Empty(t, f.TypeName)
	}
	buf = append(buf, data[len(data)-1])
	f, n, err := protocol.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, "consensus.Vote", f.TypeName)
	assert.Equal(t, "payload bytes", string(f.Payload))
}

func TestEncodeBatch_RoundTripInOrder(t *testing.T) {
	var frames []protocol.Frame
	for i := 0; i < 20; i++ {
		// deliberately uneven sizes: padding to the largest frame would break this
		frames = append(frames, protocol.Frame{
			TypeName: fmt.Sprintf("msg.%d", i),
			Payload:  bytes.Repeat([]byte{byte(i)}, i*37),
		})
	}
	data := protocol.EncodeBatch(frames)

	want := 0
	for _, f := range frames {
		want += protocol.FrameSize(f.TypeName, f.Payload)
	}
	require.Len(t, data, want)

	got, consumed, err := protocol.DecodeAll(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), consumed)
	require.Len(t, got, len(frames))
	for i := range frames {
		assert.Equal(t, frames[i].TypeName, got[i].TypeName)
		assert.Equal(t, len(frames[i].Payload), len(got[i].Payload))
	}
}

func TestDecodeAll_LeavesPartialTail(t *testing.T) {
	a := protocol.EncodeSingle("a", []byte("1"))
	b := protocol.EncodeSingle("b", []byte("22"))
	stream := append(append([]byte{}, a...), b[:len(b)-1]...)

	got, consumed, err := protocol.DecodeAll(stream)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, len(a), consumed)
	assert.Equal(t, "a", got[0].TypeName)
}

func TestDecode_BadMagic(t *testing.T) {
	data := protocol.EncodeSingle("t", []byte("p"))
	copy(data[0:4], []byte{0xde, 0xad, 0xbe, 0xef})
	_, n, err := protocol.Decode(data)
	assert.ErrorIs(t, err, api.ErrBadMagic)
	assert.Zero(t, n)
	assert.True(t, api.IsProtocolError(err))
}

func TestDecodeAll_BadMagicAfterGoodFrame(t *testing.T) {
	good := protocol.EncodeSingle("ok", nil)
	bad := protocol.EncodeSingle("bad", nil)
	bad[0] ^= 0xff
	got, consumed, err := protocol.DecodeAll(append(good, bad...))
	assert.ErrorIs(t, err, api.ErrBadMagic)
	require.Len(t, got, 1)
	assert.Equal(t, len(good), consumed)
}

func TestDecode_OversizeRejectedFromHeaderOnly(t *testing.T) {
	// Only the 12-byte header is supplied; the decoder must refuse without
	// waiting for (or allocating) a gigabyte.
	hdr := protocol.EncodeSingle("t", nil)[:protocol.HeaderSize]
	overwriteTotal(hdr, protocol.MaxFrameSize)
	_, n, err := protocol.Decode(hdr)
	assert.ErrorIs(t, err, api.ErrFrameTooLarge)
	assert.Zero(t, n)

	overwriteTotal(hdr, 1<<62)
	_, _, err = protocol.Decode(hdr)
	assert.ErrorIs(t, err, api.ErrFrameTooLarge)
}

func TestDecode_MalformedLengths(t *testing.T) {
	data := protocol.EncodeSingle("type", []byte("payload"))

	short := append([]byte{}, data...)
	overwriteTotal(short, protocol.MinFrameSize-1)
	_, _, err := protocol.Decode(short)
	assert.ErrorIs(t, err, api.ErrMalformedFrame)

	// type length pointing past the end of the frame
	badType := append([]byte{}, data...)
	putUint64(badType[protocol.HeaderSize:], 1<<40)
	_, _, err = protocol.Decode(badType)
	assert.ErrorIs(t, err, api.ErrMalformedFrame)

	// payload length pointing past the end of the frame
	badPayload := append([]byte{}, data...)
	putUint64(badPayload[protocol.HeaderSize+8+len("type"):], 1000)
	_, _, err = protocol.Decode(badPayload)
	assert.ErrorIs(t, err, api.ErrMalformedFrame)
}

func overwriteTotal(frame []byte, total uint64) {
	putUint64(frame[4:], total)
}

func putUint64(dst []byte, v uint64) {
	binary.NativeEndian.PutUint64(dst, v)
}
