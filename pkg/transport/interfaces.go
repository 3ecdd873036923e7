package transport

import (
	"context"
	"io"
	"net"
)

// Stream is a single ordered byte stream within a multiplexed connection.
// Implemented by quicStream and memStream.
type Stream interface {
	io.Reader
	io.Writer

	// ID returns the stream identifier within its connection.
	ID() int64

	// Close closes both directions of the stream. Buffered data already
	// written may still be delivered to the peer.
	Close() error
}

// MuxConn is a multiplexed connection carrying independent ordered
// streams. Implemented by quicConn and memConn.
type MuxConn interface {
	// OpenStream opens a new outgoing stream, blocking until the peer's
	// stream budget allows it or ctx is done.
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream waits for the peer to open a stream.
	AcceptStream(ctx context.Context) (Stream, error)

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// CloseWithError closes the connection and all its streams.
	CloseWithError(code uint64, reason string) error

	// Context is cancelled when the connection is closed.
	Context() context.Context
}

// Dialer establishes outgoing multiplexed connections.
// Implemented by QUICDialer.
type Dialer interface {
	Dial(ctx context.Context, address string) (MuxConn, error)
}

// Listener accepts incoming multiplexed connections.
// Implemented by QUICListener and memListener.
type Listener interface {
	Accept(ctx context.Context) (MuxConn, error)
	Addr() net.Addr
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ Stream   = (*quicStream)(nil)
	_ MuxConn  = (*quicConn)(nil)
	_ Dialer   = (*QUICDialer)(nil)
	_ Listener = (*QUICListener)(nil)

	_ Stream   = (*memStream)(nil)
	_ MuxConn  = (*memConn)(nil)
	_ Listener = (*memListener)(nil)
)
