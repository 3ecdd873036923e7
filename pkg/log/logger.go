package log

// Logger receives diagnostic events from the transport layers.
// Implementations must be safe for concurrent use and should return
// quickly; a blocking logger adds latency to the path that emitted the
// event.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a plain function to the Logger interface.
type LoggerFunc func(Event)

// Log calls f.
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards all events. Usable as a zero value wherever
// logging is disabled.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
)
