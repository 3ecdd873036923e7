// Package log captures tradewire diagnostic events.
//
// The transport and router emit structured events (connection state
// transitions, heartbeat traffic, dropped deliveries, malformed chunks)
// through the Logger interface. Events are CBOR-encoded with integer keys
// so capture files stay compact; FileLogger/Reader persist and replay them,
// and SlogAdapter renders them through log/slog for development.
//
// Logging is never part of the transport contract: a nil or Noop logger
// changes no behavior.
package log
