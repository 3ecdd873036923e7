// Package transport implements the TradeWire connection layer.
//
// The transport layer handles:
//   - Multiplexed encrypted connections (QUIC)
//   - Chunked message transfer over ordered streams
//   - Heartbeat ping/pong for connection liveness
//   - Stream pooling and reuse
//   - Connection health tracking
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Envelopes            │
//	├────────────────────────────────┤
//	│   Chunk Framing (28B header)   │
//	├────────────────────────────────┤
//	│   Ordered Streams (QUIC)       │
//	├────────────────────────────────┤
//	│         UDP                    │
//	└────────────────────────────────┘
//
// The QUIC session is hidden behind the MuxConn, Stream, Dialer and
// Listener interfaces so tests can run against an in-process pair
// (NewMemPair) without touching the network.
//
// # Heartbeats
//
// The first stream opened by the connection initiator is the control
// stream. Both peers send heartbeat pings on it (message id zero, empty
// payload) and answer each ping with a one-byte pong. A missed ack
// degrades the connection; missing MissedThreshold acks in a row marks
// it dead, exactly once, and tears the session down.
package transport
