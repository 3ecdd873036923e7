// Package wire defines the tradewire message formats.
//
// Two layers share this package:
//
//   - The message envelope: a small CBOR-encoded header (type tag,
//     correlation id, topic, total length) plus an opaque payload. CBOR uses
//     integer keys and deterministic encoding so identical messages produce
//     identical bytes.
//
//   - The chunk codec: a message is split into bounded-size chunks for
//     transmission, each framed as
//
//     [message_id: 16][sequence_index: 4][total_count: 4][payload_length: 4][payload]
//
//     with all integers big-endian. One chunk is written per transport
//     write. The all-zero message id is reserved for heartbeat chunks: an
//     empty payload is a ping, a single-byte payload is a pong.
//
// The codec is pure: no network or concurrency knowledge lives here.
package wire
