package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/connection"
	"github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/pubsub"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Client errors.
var (
	ErrClientClosed  = errors.New("client closed")
	ErrConnectFailed = errors.New("connect failed")
	ErrNotConnected  = errors.New("not connected")
	ErrNotSubscribed = errors.New("not subscribed")
)

// TopicHandler receives messages published on a subscribed topic.
// Handlers run on the connection's read goroutine and must not block.
type TopicHandler func(msg *wire.Message)

// topicSub is one topic registration, kept so subscriptions can be
// re-established after a reconnect.
type topicSub struct {
	handler TopicHandler
	policy  string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address of the server to dial.
	Address string

	// Dialer establishes the multiplexed connection. Required.
	Dialer Dialer

	// Conn configures each established connection.
	Conn ConnConfig

	// Reconnect configures automatic reconnection.
	Reconnect connection.ManagerConfig

	// OnHealthChange is called on connection health transitions.
	OnHealthChange func(oldHealth, newHealth Health)

	// OnUnreachable is called once when reconnection is abandoned.
	OnUnreachable func(attempts int, elapsed time.Duration)

	// OnError is called for non-fatal errors.
	OnError func(err error)
}

// Client maintains one logical connection to a TradeWire server:
// dialing, reconnection with backoff, re-establishing subscriptions
// after reconnect, and dispatching published messages to topic
// handlers.
type Client struct {
	config ClientConfig
	logger log.Logger

	manager *connection.Manager

	mu       sync.RWMutex
	conn     *Conn
	handlers map[string]topicSub

	closed atomic.Bool
}

// NewClient creates a client. Call Connect to establish the connection.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Dialer == nil {
		return nil, errors.New("client: dialer required")
	}
	logger := config.Conn.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	c := &Client{
		config:   config,
		logger:   logger,
		handlers: make(map[string]topicSub),
	}

	c.manager = connection.NewManagerWithConfig(c.establish, config.Reconnect)
	if config.OnUnreachable != nil {
		c.manager.OnUnreachable(config.OnUnreachable)
	}
	c.manager.StartReconnectLoop()

	return c, nil
}

// Connect dials the server and runs until Close. Subscriptions made
// before Connect are established once the connection is up.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.manager.Connect(ctx)
}

// State returns the reconnection state machine's view of the client.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Health returns the current connection health, or HealthDead when no
// connection is established.
func (c *Client) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return HealthDead
	}
	return c.conn.Health()
}

// establish is the ConnectFunc driven by the reconnect manager.
func (c *Client) establish(ctx context.Context) error {
	mux, err := c.config.Dialer.Dial(ctx, c.config.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	conn := NewConn(mux, RoleInitiator, c.config.Conn, &clientConnHandler{client: c})
	if err := conn.Start(ctx); err != nil {
		mux.CloseWithError(CloseCodeProtocol, "start failed")
		return err
	}

	c.mu.Lock()
	c.conn = conn
	resubs := make(map[string]string, len(c.handlers))
	for topic, sub := range c.handlers {
		resubs[topic] = sub.policy
	}
	c.mu.Unlock()

	// Subscriptions do not survive the old connection; re-establish
	// them on the new one.
	for topic, policy := range resubs {
		if err := conn.Send(ctx, subscribeMessage(topic, policy)); err != nil {
			conn.Close()
			return fmt.Errorf("resubscribe %q: %w", topic, err)
		}
	}

	return nil
}

// Subscribe registers handler for topic and tells the server to start
// delivering it. Messages arriving for the topic are passed to handler.
// The server queues for this subscription under its router's default
// full-queue policy.
func (c *Client) Subscribe(ctx context.Context, topic string, handler TopicHandler) error {
	return c.subscribe(ctx, topic, "", handler)
}

// SubscribeWithPolicy is Subscribe with an explicit full-queue policy
// for the server-side subscription.
func (c *Client) SubscribeWithPolicy(ctx context.Context, topic string, policy pubsub.Policy, handler TopicHandler) error {
	return c.subscribe(ctx, topic, policy.String(), handler)
}

func (c *Client) subscribe(ctx context.Context, topic, policy string, handler TopicHandler) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	c.mu.Lock()
	c.handlers[topic] = topicSub{handler: handler, policy: policy}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.Health() == HealthDead {
		// Will be established when the connection comes up.
		return nil
	}
	return conn.Send(ctx, subscribeMessage(topic, policy))
}

func subscribeMessage(topic, policy string) *wire.Message {
	if policy == "" {
		return wire.NewSubscribe(topic)
	}
	return wire.NewSubscribeWithPolicy(topic, policy)
}

// Unsubscribe removes the topic handler and tells the server to stop
// delivering the topic.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	_, ok := c.handlers[topic]
	delete(c.handlers, topic)
	conn := c.conn
	c.mu.Unlock()

	if !ok {
		return ErrNotSubscribed
	}
	if conn == nil || conn.Health() == HealthDead {
		return nil
	}
	return conn.Send(ctx, wire.NewUnsubscribe(topic))
}

// Publish sends a data message for topic to the server, which fans it
// out to the topic's subscribers.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	return conn.Send(ctx, wire.NewData(topic, payload))
}

// Request sends a request to the server and waits for its response.
func (c *Client) Request(ctx context.Context, payload []byte) (*wire.Message, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	return conn.Request(ctx, payload)
}

// Close disconnects and stops reconnection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.manager.SetAutoReconnect(false)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.manager.Close()
	return nil
}

func (c *Client) current() (*Conn, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || conn.Health() == HealthDead {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// dispatch routes an inbound message to its topic handler.
func (c *Client) dispatch(msg *wire.Message) {
	c.mu.RLock()
	sub := c.handlers[msg.Topic]
	c.mu.RUnlock()

	if sub.handler != nil {
		sub.handler(msg)
	}
}

// connDead reacts to the active connection dying.
func (c *Client) connDead() {
	if c.closed.Load() {
		return
	}
	c.manager.NotifyConnectionLost()
}

// clientConnHandler adapts connection events to the client.
type clientConnHandler struct {
	client *Client
}

func (h *clientConnHandler) OnMessage(msg *wire.Message) {
	h.client.dispatch(msg)
}

func (h *clientConnHandler) OnHealthChange(oldHealth, newHealth Health) {
	if h.client.config.OnHealthChange != nil {
		h.client.config.OnHealthChange(oldHealth, newHealth)
	}
	if newHealth == HealthDead {
		h.client.connDead()
	}
}

func (h *clientConnHandler) OnError(err error) {
	if h.client.config.OnError != nil {
		h.client.config.OnError(err)
	}
}
