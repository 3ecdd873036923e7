package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Queue defaults.
const (
	// DefaultQueueDepth is the default per-subscriber queue capacity.
	DefaultQueueDepth = 256
)

// Queue errors.
var (
	ErrQueueClosed   = errors.New("queue closed")
	ErrInvalidPolicy = errors.New("invalid backpressure policy")
)

// Policy selects the behavior when a subscriber's queue is full.
type Policy uint8

const (
	// PolicyBlock makes the publisher wait for queue space, bounded by
	// the publish context.
	PolicyBlock Policy = iota

	// PolicyDropOldest evicts the oldest queued message to admit the
	// new one.
	PolicyDropOldest
)

// String returns the policy's configuration name.
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block":
		return PolicyBlock, nil
	case "drop_oldest":
		return PolicyDropOldest, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Queue is a bounded FIFO of messages with a full-queue policy.
// Safe for concurrent producers and consumers.
type Queue struct {
	mu       sync.Mutex
	items    []*wire.Message
	capacity int
	policy   Policy
	closed   bool

	notEmpty chan struct{}
	notFull  chan struct{}
	closedCh chan struct{}
}

// NewQueue creates a queue with the given capacity and policy.
// A non-positive capacity falls back to DefaultQueueDepth.
func NewQueue(capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueDepth
	}
	return &Queue{
		capacity: capacity,
		policy:   policy,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Capacity returns the queue's capacity.
func (q *Queue) Capacity() int { return q.capacity }

// Policy returns the queue's full-queue policy.
func (q *Queue) Policy() Policy { return q.policy }

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue admits msg. With PolicyDropOldest a full queue evicts and
// returns its oldest message; with PolicyBlock the call waits for space
// until ctx is done.
func (q *Queue) Enqueue(ctx context.Context, msg *wire.Message) (dropped *wire.Message, err error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		if len(q.items) < q.capacity {
			q.items = append(q.items, msg)
			spare := len(q.items) < q.capacity
			q.mu.Unlock()
			q.signal(q.notEmpty)
			// Hand the wakeup token on while space remains, so a burst
			// of dequeues wakes every waiting publisher.
			if spare {
				q.signal(q.notFull)
			}
			return nil, nil
		}

		if q.policy == PolicyDropOldest {
			dropped = q.items[0]
			copy(q.items, q.items[1:])
			q.items[len(q.items)-1] = msg
			q.mu.Unlock()
			q.signal(q.notEmpty)
			return dropped, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-q.closedCh:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dequeue removes and returns the oldest message, waiting until one is
// available, the queue is closed, or ctx is done. A closed queue drains
// remaining messages before reporting ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (*wire.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			q.signal(q.notFull)
			return msg, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
		case <-q.closedCh:
			// Re-check: messages may have been enqueued before close.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close rejects further enqueues and wakes all waiters. Queued messages
// remain dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closedCh)
}

func (q *Queue) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
