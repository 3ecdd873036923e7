package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageType tags the purpose of a message envelope.
type MessageType uint8

const (
	// TypeData is a one-way application message, optionally topic-addressed.
	TypeData MessageType = 1

	// TypeRequest expects a TypeResponse with the same correlation id.
	TypeRequest MessageType = 2

	// TypeResponse answers a TypeRequest.
	TypeResponse MessageType = 3

	// TypeSubscribe asks the peer's router to add a topic subscription.
	TypeSubscribe MessageType = 4

	// TypeUnsubscribe asks the peer's router to drop a topic subscription.
	TypeUnsubscribe MessageType = 5
)

// IsValid returns true for known message types.
func (t MessageType) IsValid() bool {
	return t >= TypeData && t <= TypeUnsubscribe
}

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	default:
		return "UNKNOWN"
	}
}

// Message is the application-visible envelope. It is immutable once
// constructed; the transport never mutates a message after Send.
//
// CBOR encoding:
//
//	{
//	  1: type,           // uint8
//	  2: correlationId,  // 16 bytes (requests/responses only)
//	  3: topic,          // text (pub/sub only)
//	  4: length,         // uint32, len(payload)
//	  5: payload         // byte string
//	}
type Message struct {
	Type          MessageType `cbor:"1,keyasint"`
	CorrelationID []byte      `cbor:"2,keyasint,omitempty"`
	Topic         string      `cbor:"3,keyasint,omitempty"`
	Length        uint32      `cbor:"4,keyasint"`
	Payload       []byte      `cbor:"5,keyasint,omitempty"`
}

// NewData builds a data message for a topic. An empty topic addresses the
// peer directly rather than the router.
func NewData(topic string, payload []byte) *Message {
	return &Message{
		Type:    TypeData,
		Topic:   topic,
		Length:  uint32(len(payload)),
		Payload: payload,
	}
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(payload []byte) *Message {
	id := uuid.New()
	return &Message{
		Type:          TypeRequest,
		CorrelationID: id[:],
		Length:        uint32(len(payload)),
		Payload:       payload,
	}
}

// NewResponse builds the response to req, reusing its correlation id.
func NewResponse(req *Message, payload []byte) *Message {
	return &Message{
		Type:          TypeResponse,
		CorrelationID: req.CorrelationID,
		Length:        uint32(len(payload)),
		Payload:       payload,
	}
}

// NewSubscribe builds a subscription request for topic.
func NewSubscribe(topic string) *Message {
	id := uuid.New()
	return &Message{
		Type:          TypeSubscribe,
		CorrelationID: id[:],
		Topic:         topic,
	}
}

// NewSubscribeWithPolicy builds a subscription request whose payload
// carries a full-queue policy name, overriding the peer router's
// default for this subscription.
func NewSubscribeWithPolicy(topic, policy string) *Message {
	m := NewSubscribe(topic)
	m.Payload = []byte(policy)
	m.Length = uint32(len(m.Payload))
	return m
}

// NewUnsubscribe builds an unsubscribe request for topic.
func NewUnsubscribe(topic string) *Message {
	id := uuid.New()
	return &Message{
		Type:          TypeUnsubscribe,
		CorrelationID: id[:],
		Topic:         topic,
	}
}

// Validate checks envelope consistency.
func (m *Message) Validate() error {
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid message type: %d", m.Type)
	}
	if m.Length != uint32(len(m.Payload)) {
		return fmt.Errorf("length field %d does not match payload size %d", m.Length, len(m.Payload))
	}
	if len(m.CorrelationID) != 0 && len(m.CorrelationID) != 16 {
		return fmt.Errorf("correlation id must be 16 bytes, got %d", len(m.CorrelationID))
	}
	switch m.Type {
	case TypeRequest, TypeResponse:
		if len(m.CorrelationID) == 0 {
			return fmt.Errorf("%s requires a correlation id", m.Type)
		}
	case TypeSubscribe, TypeUnsubscribe:
		if m.Topic == "" {
			return fmt.Errorf("%s requires a topic", m.Type)
		}
	}
	return nil
}

// Correlation returns the correlation id as a UUID, or uuid.Nil when unset.
func (m *Message) Correlation() uuid.UUID {
	if len(m.CorrelationID) != 16 {
		return uuid.Nil
	}
	var id uuid.UUID
	copy(id[:], m.CorrelationID)
	return id
}
