package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/momentics/hioload-transport/protocol"
)

func TestProto_FramesThroughCodec(t *testing.T) {
	msg := protocol.Proto(wrapperspb.String("read-set"))
	assert.Equal(t, "google.protobuf.StringValue", msg.TypeName())

	payload, err := msg.Marshal()
	require.NoError(t, err)

	frame, _, err := protocol.Decode(protocol.EncodeSingle(msg.TypeName(), payload))
	require.NoError(t, err)

	decoded, err := protocol.UnmarshalProto(frame.TypeName, frame.Payload)
	require.NoError(t, err)
	assert.True(t, proto.Equal(wrapperspb.String("read-set"), decoded))
}

func TestUnmarshalProto_UnknownType(t *testing.T) {
	_, err := protocol.UnmarshalProto("no.such.Message", nil)
	assert.Error(t, err)
}
