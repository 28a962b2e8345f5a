// File: protocol/proto.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adapter between protobuf messages and the transport's (type name, payload)
// view. The type name is the fully qualified protobuf message name.

package protocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/momentics/hioload-transport/api"
)

type protoMessage struct {
	m proto.Message
}

// Proto wraps m so it can be passed to SendMessage.
func Proto(m proto.Message) api.Message {
	return protoMessage{m: m}
}

func (p protoMessage) TypeName() string {
	return string(proto.MessageName(p.m))
}

func (p protoMessage) Marshal() ([]byte, error) {
	return proto.Marshal(p.m)
}

// UnmarshalProto resolves typeName in the global protobuf registry and
// decodes payload into a fresh message of that type.
func UnmarshalProto(typeName string, payload []byte) (proto.Message, error) {
	mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(typeName))
	if err != nil {
		return nil, fmt.Errorf("protocol: unknown message type %q: %w", typeName, err)
	}
	m := mt.New().Interface()
	if err := proto.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal %s: %w", typeName, err)
	}
	return m, nil
}
