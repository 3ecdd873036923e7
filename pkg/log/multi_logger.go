package log

// MultiLogger fans each event out to a set of loggers, typically a
// console adapter alongside a capture file. Nil entries are skipped.
type MultiLogger []Logger

// NewMultiLogger builds a MultiLogger over loggers.
func NewMultiLogger(loggers ...Logger) MultiLogger {
	return MultiLogger(loggers)
}

// Log forwards the event to every logger in order.
func (m MultiLogger) Log(event Event) {
	for _, l := range m {
		if l != nil {
			l.Log(event)
		}
	}
}

var _ Logger = MultiLogger(nil)
