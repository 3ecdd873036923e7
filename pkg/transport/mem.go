package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
)

// ErrMemClosed is returned by in-process connections after close.
var ErrMemClosed = errors.New("in-process connection closed")

// memAddr is a synthetic address for in-process connections.
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// memStream is one end of an in-process stream, backed by net.Pipe.
type memStream struct {
	id   int64
	conn net.Conn
}

func (s *memStream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *memStream) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *memStream) ID() int64                   { return s.id }
func (s *memStream) Close() error                { return s.conn.Close() }

// memConn is one end of an in-process multiplexed connection pair.
type memConn struct {
	name string
	peer *memConn

	acceptCh chan *memStream

	// Initiator allocates even stream ids, acceptor odd.
	nextID atomic.Int64

	mu      sync.Mutex
	streams []*memStream

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewMemPair creates a connected in-process MuxConn pair. The first
// return value plays the initiator role for stream id allocation.
func NewMemPair() (MuxConn, MuxConn) {
	initiator := newMemConn("mem-initiator")
	acceptor := newMemConn("mem-acceptor")
	initiator.peer = acceptor
	acceptor.peer = initiator
	initiator.nextID.Store(0)
	acceptor.nextID.Store(1)
	return initiator, acceptor
}

func newMemConn(name string) *memConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &memConn{
		name:     name,
		acceptCh: make(chan *memStream, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *memConn) OpenStream(ctx context.Context) (Stream, error) {
	if c.ctx.Err() != nil {
		return nil, ErrMemClosed
	}

	id := c.nextID.Add(2) - 2
	local, remote := net.Pipe()
	ls := &memStream{id: id, conn: local}
	rs := &memStream{id: id, conn: remote}

	select {
	case c.peer.acceptCh <- rs:
	case <-c.peer.ctx.Done():
		local.Close()
		remote.Close()
		return nil, ErrMemClosed
	case <-ctx.Done():
		local.Close()
		remote.Close()
		return nil, ctx.Err()
	}

	c.track(ls)
	c.peer.track(rs)
	return ls, nil
}

func (c *memConn) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.acceptCh:
		return s, nil
	case <-c.ctx.Done():
		return nil, ErrMemClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) LocalAddr() net.Addr  { return memAddr(c.name) }
func (c *memConn) RemoteAddr() net.Addr { return memAddr(c.peer.name) }

// CloseWithError tears down both ends of the pair. Peer reads observe
// EOF on every open stream.
func (c *memConn) CloseWithError(code uint64, reason string) error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.peer.cancel()

		c.mu.Lock()
		streams := c.streams
		c.streams = nil
		c.mu.Unlock()
		for _, s := range streams {
			s.Close()
		}
	})
	return nil
}

func (c *memConn) Context() context.Context { return c.ctx }

func (c *memConn) track(s *memStream) {
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
}

// memListener hands out in-process connections to a test server.
type memListener struct {
	connCh chan MuxConn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMemListener creates a listener for in-process connections.
func NewMemListener() *memListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &memListener{
		connCh: make(chan MuxConn, 4),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect creates a new pair and queues the acceptor side for Accept.
// The returned connection is the client side.
func (l *memListener) Connect() (MuxConn, error) {
	if l.ctx.Err() != nil {
		return nil, ErrMemClosed
	}
	client, server := NewMemPair()
	select {
	case l.connCh <- server:
		return client, nil
	case <-l.ctx.Done():
		return nil, ErrMemClosed
	}
}

func (l *memListener) Accept(ctx context.Context) (MuxConn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.ctx.Done():
		return nil, ErrMemClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dialer returns a Dialer whose Dial connects to this listener,
// ignoring the address.
func (l *memListener) Dialer() Dialer { return memDialer{listener: l} }

type memDialer struct {
	listener *memListener
}

func (d memDialer) Dial(ctx context.Context, address string) (MuxConn, error) {
	return d.listener.Connect()
}

func (l *memListener) Addr() net.Addr { return memAddr("mem-listener") }

func (l *memListener) Close() error {
	l.cancel()
	return nil
}
