// File: api/receiver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contracts between the transport and the code consuming it.

package api

// Receiver consumes decoded messages and owns a network identity.
//
// Implementations are used as map keys by the connection table and must be
// comparable (in practice: pointer receivers). Delivery callbacks run on the
// transport's event-loop goroutine, never concurrently with each other.
type Receiver interface {
	// Address returns the receiver's own endpoint; ok is false until the
	// transport assigns one.
	Address() (addr Address, ok bool)

	// SetAddress is called by the transport with the bound or connected
	// local endpoint.
	SetAddress(addr Address)

	// ReceiveMessage delivers one message. payload is owned by the callee.
	ReceiveMessage(from Address, typeName string, payload []byte)
}

// BatchReceiver additionally accepts every frame decoded from one read event
// as a single ordered delivery.
type BatchReceiver interface {
	Receiver

	// ReceiveMessageBatch delivers typeNames[i]/payloads[i] in wire order.
	ReceiveMessageBatch(from Address, typeNames []string, payloads [][]byte)
}

// Message is anything the transport can frame: a type name and an opaque
// serialized payload.
type Message interface {
	TypeName() string
	Marshal() ([]byte, error)
}

// RawMessage is a Message whose payload is already serialized.
type RawMessage struct {
	Type string
	Data []byte
}

// TypeName implements Message.
func (m RawMessage) TypeName() string { return m.Type }

// Marshal implements Message.
func (m RawMessage) Marshal() ([]byte, error) { return m.Data, nil }
