// Package pubsub implements topic-based message routing with per-subscriber
// backpressure.
//
// A Router keeps an index of topic subscriptions. Publishing looks up the
// topic's subscribers and enqueues the message into each subscriber's
// bounded queue; a worker goroutine per subscription drains the queue and
// delivers through the subscription's Sender. A slow subscriber therefore
// never blocks the publisher beyond its own queue policy:
//
//   - PolicyBlock: the publisher waits (bounded by its context) for queue
//     space.
//   - PolicyDropOldest: the oldest queued message is discarded to make
//     room, and the drop is reported as a diagnostic event.
//
// Delivery to a subscriber is ordered per publisher. The router never
// calls a Sender while holding its index lock.
package pubsub
