package log

import (
	"time"
)

// Event represents a diagnostic event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the local end initiated the connection.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// StreamID identifies the stream within the connection, where known.
	StreamID uint64 `cbor:"8,keyasint,omitempty"`

	// Topic is the pub/sub topic, for router events.
	Topic string `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Chunk       *ChunkEvent       `cbor:"10,keyasint,omitempty"` // Chunk framing layer
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Connection/stream state
	Heartbeat   *HeartbeatEvent   `cbor:"12,keyasint,omitempty"` // Keep-alive traffic
	Drop        *DropEvent        `cbor:"13,keyasint,omitempty"` // Router delivery drops
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming event.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing event.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerChunk is the chunk framing layer.
	LayerChunk Layer = 0
	// LayerWire is the message envelope layer.
	LayerWire Layer = 1
	// LayerConnection is the connection lifecycle layer.
	LayerConnection Layer = 2
	// LayerRouter is the pub/sub routing layer.
	LayerRouter Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerChunk:
		return "CHUNK"
	case LayerWire:
		return "WIRE"
	case LayerConnection:
		return "CONNECTION"
	case LayerRouter:
		return "ROUTER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates application message traffic.
	CategoryMessage Category = 0
	// CategoryControl indicates heartbeat traffic.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryDrop indicates a dropped delivery.
	CategoryDrop Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryDrop:
		return "DROP"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint initiated or accepted.
type Role uint8

const (
	// RoleInitiator dialed the connection.
	RoleInitiator Role = 0
	// RoleAcceptor accepted the connection.
	RoleAcceptor Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "INITIATOR"
	case RoleAcceptor:
		return "ACCEPTOR"
	default:
		return "UNKNOWN"
	}
}

// ChunkEvent captures one chunk crossing the framing layer.
type ChunkEvent struct {
	// MessageID is the chunk's message id (UUID string).
	MessageID string `cbor:"1,keyasint"`

	// Sequence is the chunk's sequence index.
	Sequence uint32 `cbor:"2,keyasint"`

	// Total is the declared total chunk count.
	Total uint32 `cbor:"3,keyasint"`

	// Size is the chunk payload size in bytes.
	Size int `cbor:"4,keyasint"`
}

// StateChangeEvent captures connection, stream, and subscription lifecycle.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityStream indicates a stream state change.
	StateEntityStream StateEntity = 1
	// StateEntitySubscription indicates a subscription change.
	StateEntitySubscription StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityStream:
		return "STREAM"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// HeartbeatEvent captures keep-alive traffic.
type HeartbeatEvent struct {
	// Type of heartbeat frame.
	Type HeartbeatType `cbor:"1,keyasint"`

	// Missed is the consecutive missed-ack count at the time of the event.
	Missed int `cbor:"2,keyasint,omitempty"`
}

// HeartbeatType indicates ping or pong.
type HeartbeatType uint8

const (
	// HeartbeatPing is the liveness probe.
	HeartbeatPing HeartbeatType = 0
	// HeartbeatPong is the probe acknowledgment.
	HeartbeatPong HeartbeatType = 1
)

// String returns the heartbeat type name.
func (h HeartbeatType) String() string {
	switch h {
	case HeartbeatPing:
		return "PING"
	case HeartbeatPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// DropEvent captures a delivery dropped by the router under backpressure.
type DropEvent struct {
	// SubscriptionID identifies the affected subscription.
	SubscriptionID uint64 `cbor:"1,keyasint"`

	// QueueDepth is the configured queue depth that overflowed.
	QueueDepth int `cbor:"2,keyasint"`

	// Policy names the backpressure policy that caused the drop.
	Policy string `cbor:"3,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what was happening when the error occurred.
	Context string `cbor:"3,keyasint,omitempty"`
}
