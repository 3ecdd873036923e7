package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Router errors.
var (
	ErrRouterClosed        = errors.New("router closed")
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// DefaultBlockTimeout bounds how long a publish waits on one full
// block-policy queue.
const DefaultBlockTimeout = 5 * time.Second

// RouterConfig configures a Router.
type RouterConfig struct {
	// QueueDepth is the default per-subscriber queue capacity.
	QueueDepth int

	// Policy is the default full-queue policy for new subscriptions.
	Policy Policy

	// BlockTimeout caps the wait on each full block-policy queue during
	// a publish. Zero falls back to DefaultBlockTimeout.
	BlockTimeout time.Duration

	// Logger receives drop and subscription lifecycle events.
	// Defaults to NoopLogger.
	Logger log.Logger
}

// Router dispatches published messages to topic subscribers.
type Router struct {
	config RouterConfig
	logger log.Logger

	mu     sync.RWMutex
	topics map[string]map[Handle]*Subscription
	subs   map[Handle]*Subscription
	closed bool

	nextID atomic.Uint64
}

// NewRouter creates a router with the given configuration.
func NewRouter(config RouterConfig) *Router {
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Router{
		config: config,
		logger: logger,
		topics: make(map[string]map[Handle]*Subscription),
		subs:   make(map[Handle]*Subscription),
	}
}

// SubscribeOption customizes one subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	filter     Filter
	policy     Policy
	policySet  bool
	queueDepth int
}

// WithFilter attaches a local predicate; messages failing it are not
// delivered to this subscriber.
func WithFilter(f Filter) SubscribeOption {
	return func(o *subscribeOptions) { o.filter = f }
}

// WithPolicy overrides the router's default full-queue policy.
func WithPolicy(p Policy) SubscribeOption {
	return func(o *subscribeOptions) {
		o.policy = p
		o.policySet = true
	}
}

// WithQueueDepth overrides the router's default queue capacity.
func WithQueueDepth(n int) SubscribeOption {
	return func(o *subscribeOptions) { o.queueDepth = n }
}

// Subscribe registers sender for topic and starts its delivery worker.
func (r *Router) Subscribe(topic string, sender Sender, opts ...SubscribeOption) (Handle, error) {
	options := subscribeOptions{
		policy:     r.config.Policy,
		queueDepth: r.config.QueueDepth,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.policySet {
		options.policy = r.config.Policy
	}
	if options.queueDepth <= 0 {
		options.queueDepth = r.config.QueueDepth
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		id:              Handle(r.nextID.Add(1)),
		topic:           topic,
		sender:          sender,
		filter:          options.filter,
		queue:           NewQueue(options.queueDepth, options.policy),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		onDeliveryError: r.onDeliveryError,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return 0, ErrRouterClosed
	}
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[Handle]*Subscription)
	}
	r.topics[topic][sub.id] = sub
	r.subs[sub.id] = sub
	r.mu.Unlock()

	go sub.deliverLoop()

	r.logSubscriptionState(sub, "", "SUBSCRIBED", "")
	return sub.id, nil
}

// Unsubscribe removes a subscription and stops its delivery worker.
func (r *Router) Unsubscribe(h Handle) error {
	r.mu.Lock()
	sub, ok := r.subs[h]
	if ok {
		delete(r.subs, h)
		delete(r.topics[sub.topic], h)
		if len(r.topics[sub.topic]) == 0 {
			delete(r.topics, sub.topic)
		}
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownSubscription
	}
	sub.stop()
	r.logSubscriptionState(sub, "SUBSCRIBED", "UNSUBSCRIBED", "")
	return nil
}

// UnsubscribeSender removes every subscription delivering to sender.
// Called when a subscriber's connection dies.
func (r *Router) UnsubscribeSender(sender Sender) int {
	r.mu.Lock()
	var removed []*Subscription
	for h, sub := range r.subs {
		if sub.sender == sender {
			removed = append(removed, sub)
			delete(r.subs, h)
			delete(r.topics[sub.topic], h)
			if len(r.topics[sub.topic]) == 0 {
				delete(r.topics, sub.topic)
			}
		}
	}
	r.mu.Unlock()

	for _, sub := range removed {
		sub.stop()
		r.logSubscriptionState(sub, "SUBSCRIBED", "UNSUBSCRIBED", "connection lost")
	}
	return len(removed)
}

// Publish enqueues msg for every subscriber of its topic and returns the
// number of subscribers reached. Senders are never invoked under the
// index lock. Subscribers are fanned out to concurrently, each with its
// own bounded wait, so one full block-policy queue cannot starve the
// rest of the topic; a subscriber whose wait expires misses the message
// and a drop event is recorded.
func (r *Router) Publish(ctx context.Context, msg *wire.Message) (int, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return 0, ErrRouterClosed
	}
	topicSubs := r.topics[msg.Topic]
	subs := make([]*Subscription, 0, len(topicSubs))
	for _, sub := range topicSubs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	var reached atomic.Int64
	for _, sub := range subs {
		if !sub.accepts(msg) {
			continue
		}
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			enqCtx, cancel := context.WithTimeout(ctx, r.config.BlockTimeout)
			defer cancel()
			dropped, err := sub.queue.Enqueue(enqCtx, msg)
			switch {
			case err == nil:
				if dropped != nil {
					r.logDrop(sub)
				}
				reached.Add(1)
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				// This subscriber's queue stayed full for the whole
				// wait; the new message is dropped for it alone.
				r.logDrop(sub)
			}
		}(sub)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return int(reached.Load()), err
	}
	return int(reached.Load()), nil
}

// Topics returns the topics with at least one subscriber.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.topics))
	for t := range r.topics {
		topics = append(topics, t)
	}
	return topics
}

// SubscriptionPolicy returns the full-queue policy of one subscription.
func (r *Router) SubscriptionPolicy(h Handle) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[h]
	if !ok {
		return 0, ErrUnknownSubscription
	}
	return sub.queue.Policy(), nil
}

// SubscriberCount returns the number of subscribers for a topic.
func (r *Router) SubscriberCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Close stops all delivery workers and rejects further use.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[Handle]*Subscription)
	r.topics = make(map[string]map[Handle]*Subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// onDeliveryError reports a failed send as a diagnostic event. The
// subscription stays registered; a dead connection is cleaned up by
// UnsubscribeSender.
func (r *Router) onDeliveryError(sub *Subscription, err error) {
	r.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerRouter,
		Category:  log.CategoryError,
		Topic:     sub.topic,
		Error: &log.ErrorEventData{
			Layer:   log.LayerRouter,
			Message: err.Error(),
			Context: "deliver to subscriber",
		},
	})
}

// logDrop records a message evicted under the drop_oldest policy.
// Drops are diagnostics, not errors.
func (r *Router) logDrop(sub *Subscription) {
	r.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerRouter,
		Category:  log.CategoryDrop,
		Topic:     sub.topic,
		Drop: &log.DropEvent{
			SubscriptionID: uint64(sub.id),
			QueueDepth:     sub.queue.Capacity(),
			Policy:         sub.queue.Policy().String(),
		},
	})
}

func (r *Router) logSubscriptionState(sub *Subscription, oldState, newState, reason string) {
	r.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerRouter,
		Category:  log.CategoryState,
		Topic:     sub.topic,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
