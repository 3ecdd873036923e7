// Package stream implements per-stream message reassembly.
//
// A stream carries at most one in-flight message at a time; concurrency
// comes from using multiple streams, not from interleaving messages within
// one. The underlying transport guarantees intra-stream ordering, so the
// Reassembler only validates sequencing, it never reorders.
//
// State machine per stream:
//
//	Idle -> Accumulating   first chunk of a new message id
//	Accumulating -> Accumulating   next chunk, sequence == current+1
//	Accumulating -> Idle   final chunk arrived, message emitted
//	any -> Errored         foreign message id, sequence gap, or size overflow
//
// An errored stream is poisoned: partial data is discarded, never delivered,
// and the owner is expected to close the stream.
package stream
