package pubsub

import (
	"context"

	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Handle identifies a subscription within a router.
type Handle uint64

// Sender delivers a routed message to one subscriber. Implemented by
// transport.Conn for remote subscribers and by SenderFunc for local
// ones.
type Sender interface {
	Send(ctx context.Context, msg *wire.Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg *wire.Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg *wire.Message) error {
	return f(ctx, msg)
}

// Filter decides locally whether a subscriber receives a message.
// Filters never cross the wire.
type Filter func(msg *wire.Message) bool

// Subscription binds a topic to a sender through a bounded queue.
type Subscription struct {
	id     Handle
	topic  string
	sender Sender
	filter Filter
	queue  *Queue

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	onDeliveryError func(sub *Subscription, err error)
}

// ID returns the subscription handle.
func (s *Subscription) ID() Handle { return s.id }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// QueueLen returns the number of messages awaiting delivery.
func (s *Subscription) QueueLen() int { return s.queue.Len() }

// accepts applies the local filter.
func (s *Subscription) accepts(msg *wire.Message) bool {
	return s.filter == nil || s.filter(msg)
}

// deliverLoop drains the queue into the sender. Runs on its own
// goroutine for the life of the subscription.
func (s *Subscription) deliverLoop() {
	defer close(s.done)

	for {
		msg, err := s.queue.Dequeue(s.ctx)
		if err != nil {
			return
		}
		if err := s.sender.Send(s.ctx, msg); err != nil {
			if s.onDeliveryError != nil {
				s.onDeliveryError(s, err)
			}
		}
	}
}

// stop ends delivery and waits for the worker to exit.
func (s *Subscription) stop() {
	s.queue.Close()
	s.cancel()
	<-s.done
}
