package transport

import (
	"context"
	"errors"
	"sync"
)

// Stream pool limits.
const (
	// DefaultMaxStreams is the default cap on concurrently held
	// outgoing streams per connection.
	DefaultMaxStreams = 64
)

// Pool errors.
var (
	ErrStreamLimitExceeded = errors.New("stream limit exceeded")
	ErrPoolClosed          = errors.New("stream pool closed")
)

// StreamPool hands out outgoing streams for message sends. Streams are
// reused across messages; a stream that carried a complete message goes
// back to the idle list, a stream abandoned mid-message must be
// discarded.
type StreamPool struct {
	mux MuxConn
	max int

	// tokens holds one slot per stream the pool may have outstanding.
	tokens chan struct{}

	mu     sync.Mutex
	idle   []Stream
	closed bool
}

// NewStreamPool creates a pool over mux holding at most max streams.
// A non-positive max falls back to DefaultMaxStreams.
func NewStreamPool(mux MuxConn, max int) *StreamPool {
	if max <= 0 {
		max = DefaultMaxStreams
	}
	tokens := make(chan struct{}, max)
	for i := 0; i < max; i++ {
		tokens <- struct{}{}
	}
	return &StreamPool{
		mux:    mux,
		max:    max,
		tokens: tokens,
	}
}

// Acquire returns an idle stream or opens a new one, blocking while the
// pool is at capacity until a stream is released or ctx is done.
func (p *StreamPool) Acquire(ctx context.Context) (Stream, error) {
	select {
	case <-p.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.take(ctx)
}

// TryAcquire is like Acquire but fails immediately with
// ErrStreamLimitExceeded when the pool is at capacity.
func (p *StreamPool) TryAcquire(ctx context.Context) (Stream, error) {
	select {
	case <-p.tokens:
	default:
		return nil, ErrStreamLimitExceeded
	}
	return p.take(ctx)
}

func (p *StreamPool) take(ctx context.Context) (Stream, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.tokens <- struct{}{}
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.mux.OpenStream(ctx)
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return s, nil
}

// Release returns a healthy stream to the idle list.
func (p *StreamPool) Release(s Stream) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
	} else {
		p.idle = append(p.idle, s)
		p.mu.Unlock()
	}
	p.tokens <- struct{}{}
}

// Discard closes a stream that must not be reused, for example after a
// partial write, and frees its pool slot.
func (p *StreamPool) Discard(s Stream) {
	s.Close()
	p.tokens <- struct{}{}
}

// Idle returns the number of idle streams held by the pool.
func (p *StreamPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close closes all idle streams. Streams currently acquired are the
// holder's responsibility.
func (p *StreamPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
}
