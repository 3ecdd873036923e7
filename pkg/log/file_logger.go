package log

import (
	"bufio"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends diagnostic events to a capture file as a CBOR
// record sequence. Writes are buffered; Sync or Close flushes them to
// disk. Safe for concurrent use.
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	encoder  *cbor.Encoder
	writeErr error
	closed   bool
}

// NewFileLogger opens or creates the capture file at path. An existing
// capture is appended to, so a restarted process extends its previous
// capture.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	return &FileLogger{
		file:    f,
		buf:     buf,
		encoder: NewEncoder(buf),
	}, nil
}

// Path returns the capture file path.
func (l *FileLogger) Path() string { return l.file.Name() }

// Log appends one event. Logging never disrupts the transport; the
// first write failure is remembered and reported by Close.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err != nil && l.writeErr == nil {
		l.writeErr = err
	}
}

// Sync flushes buffered events to disk.
func (l *FileLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if err := l.buf.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the capture file. Safe to call multiple
// times; subsequent Log calls are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	err := l.buf.Flush()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = l.writeErr
	}
	return err
}

var _ Logger = (*FileLogger)(nil)
