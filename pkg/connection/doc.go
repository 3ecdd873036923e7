// Package connection manages transport connection lifecycle.
//
// The Manager drives a single logical peer connection through its states
// (disconnected, connecting, connected, reconnecting, unreachable, closed)
// and performs automatic reconnection with exponential backoff and jitter.
// Reconnection gives up after a configurable attempt count or elapsed time,
// at which point the peer is reported permanently unreachable and the
// application must intervene.
//
// Reconnection never resumes in-flight messages; delivery confirmation is
// the application's responsibility.
package connection
