package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/connection"
	"github.com/tradewire-protocol/tradewire-go/pkg/pubsub"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

func testServerConfig() ServerConfig {
	cfg := ServerConfig{}
	cfg.Conn = DefaultConnConfig()
	cfg.Conn.KeepAlive = slowKeepAlive()
	cfg.Router = pubsub.RouterConfig{QueueDepth: 64}
	return cfg
}

func testClientConfig(l *memListener) ClientConfig {
	conn := DefaultConnConfig()
	conn.KeepAlive = slowKeepAlive()
	return ClientConfig{
		Address: "mem",
		Dialer:  l.Dialer(),
		Conn:    conn,
		Reconnect: connection.ManagerConfig{
			Backoff: connection.BackoffConfig{
				Base:       time.Millisecond,
				Max:        10 * time.Millisecond,
				Multiplier: 2.0,
				Jitter:     0,
			},
		},
	}
}

func startServer(t *testing.T, cfg ServerConfig) (*Server, *memListener) {
	t.Helper()
	l := NewMemListener()
	srv := NewServer(l, cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("server Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, l
}

func startClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForCount(t *testing.T, get func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("count = %d, want %d", get(), want)
}

type msgSink struct {
	mu   sync.Mutex
	msgs []*wire.Message
}

func (s *msgSink) handler() TopicHandler {
	return func(msg *wire.Message) {
		s.mu.Lock()
		s.msgs = append(s.msgs, msg)
		s.mu.Unlock()
	}
}

func (s *msgSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *msgSink) payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = string(m.Payload)
	}
	return out
}

func TestServerPublishToSubscriber(t *testing.T) {
	srv, l := startServer(t, testServerConfig())
	c := startClient(t, testClientConfig(l))

	sink := &msgSink{}
	ctx := context.Background()
	if err := c.Subscribe(ctx, "trades", sink.handler()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Subscription reaches the router asynchronously.
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 1)

	if _, err := srv.Publish(ctx, "trades", []byte("fill-1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitForCount(t, sink.count, 1)
	if got := sink.payloads()[0]; got != "fill-1" {
		t.Errorf("payload = %q, want %q", got, "fill-1")
	}
}

func TestTopicIsolationAcrossClients(t *testing.T) {
	srv, l := startServer(t, testServerConfig())
	trades := startClient(t, testClientConfig(l))
	ticks := startClient(t, testClientConfig(l))

	tradesSink := &msgSink{}
	ticksSink := &msgSink{}
	ctx := context.Background()

	if err := trades.Subscribe(ctx, "trades", tradesSink.handler()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := ticks.Subscribe(ctx, "ticks", ticksSink.handler()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 1)
	waitForCount(t, func() int { return srv.Router().SubscriberCount("ticks") }, 1)

	for i := 0; i < 5; i++ {
		if _, err := srv.Publish(ctx, "trades", []byte(fmt.Sprintf("trade-%d", i))); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if _, err := srv.Publish(ctx, "ticks", []byte("quote-0")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitForCount(t, tradesSink.count, 5)
	waitForCount(t, ticksSink.count, 1)

	for i, p := range tradesSink.payloads() {
		if want := fmt.Sprintf("trade-%d", i); p != want {
			t.Errorf("trades[%d] = %q, want %q", i, p, want)
		}
	}
	if ticksSink.payloads()[0] != "quote-0" {
		t.Errorf("ticks[0] = %q, want %q", ticksSink.payloads()[0], "quote-0")
	}
}

func TestClientPublishFansOut(t *testing.T) {
	srv, l := startServer(t, testServerConfig())
	producer := startClient(t, testClientConfig(l))
	consumer := startClient(t, testClientConfig(l))

	sink := &msgSink{}
	ctx := context.Background()
	if err := consumer.Subscribe(ctx, "orders", sink.handler()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitForCount(t, func() int { return srv.Router().SubscriberCount("orders") }, 1)

	if err := producer.Publish(ctx, "orders", []byte("buy-100")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitForCount(t, sink.count, 1)
	if got := sink.payloads()[0]; got != "buy-100" {
		t.Errorf("payload = %q, want %q", got, "buy-100")
	}
}

func TestClientUnsubscribe(t *testing.T) {
	srv, l := startServer(t, testServerConfig())
	c := startClient(t, testClientConfig(l))

	sink := &msgSink{}
	ctx := context.Background()
	if err := c.Subscribe(ctx, "trades", sink.handler()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 1)

	if err := c.Unsubscribe(ctx, "trades"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 0)

	if _, err := srv.Publish(ctx, "trades", []byte("late")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("received %d messages after unsubscribe, want 0", sink.count())
	}

	if err := c.Unsubscribe(ctx, "trades"); err != ErrNotSubscribed {
		t.Errorf("second Unsubscribe error = %v, want ErrNotSubscribed", err)
	}
}

func TestSubscribeWithPolicyOverride(t *testing.T) {
	cfg := testServerConfig()
	cfg.Router.Policy = pubsub.PolicyBlock
	srv, l := startServer(t, cfg)
	c := startClient(t, testClientConfig(l))

	sink := &msgSink{}
	ctx := context.Background()
	if err := c.SubscribeWithPolicy(ctx, "trades", pubsub.PolicyDropOldest, sink.handler()); err != nil {
		t.Fatalf("SubscribeWithPolicy failed: %v", err)
	}
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 1)

	// The server-side subscription runs under the requested policy,
	// not the router default.
	srv.mu.RLock()
	var h pubsub.Handle
	for _, sc := range srv.conns {
		sc.mu.Lock()
		h = sc.handles["trades"]
		sc.mu.Unlock()
	}
	srv.mu.RUnlock()

	p, err := srv.Router().SubscriptionPolicy(h)
	if err != nil {
		t.Fatalf("SubscriptionPolicy failed: %v", err)
	}
	if p != pubsub.PolicyDropOldest {
		t.Errorf("policy = %v, want %v", p, pubsub.PolicyDropOldest)
	}

	// Delivery still works under the override.
	if _, err := srv.Publish(ctx, "trades", []byte("fill-1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitForCount(t, sink.count, 1)
}

func TestRequestResponseEndToEnd(t *testing.T) {
	cfg := testServerConfig()
	cfg.OnRequest = func(ctx context.Context, conn *Conn, req *wire.Message) ([]byte, error) {
		return append([]byte("pong:"), req.Payload...), nil
	}
	_, l := startServer(t, cfg)
	c := startClient(t, testClientConfig(l))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Request(ctx, []byte("ping"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if string(resp.Payload) != "pong:ping" {
		t.Errorf("response = %q, want %q", resp.Payload, "pong:ping")
	}
}

func TestServerCleansUpDeadClient(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	cfg := testServerConfig()
	cfg.OnDisconnect = func(conn *Conn) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	}
	srv, l := startServer(t, cfg)
	c := startClient(t, testClientConfig(l))

	sink := &msgSink{}
	ctx := context.Background()
	if err := c.Subscribe(ctx, "trades", sink.handler()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 1)
	waitForCount(t, srv.ConnectionCount, 1)

	c.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe disconnect")
	}
	waitForCount(t, srv.ConnectionCount, 0)
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 0)
}

func TestClientResubscribesAfterReconnect(t *testing.T) {
	srv, l := startServer(t, testServerConfig())

	ccfg := testClientConfig(l)
	ccfg.Conn.KeepAlive = KeepAliveConfig{
		Interval:        10 * time.Millisecond,
		Timeout:         5 * time.Millisecond,
		MissedThreshold: 3,
	}
	c := startClient(t, ccfg)

	sink := &msgSink{}
	ctx := context.Background()
	if err := c.Subscribe(ctx, "trades", sink.handler()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitForCount(t, func() int { return srv.Router().SubscriberCount("trades") }, 1)

	// Kill the server side of the session. The client detects the loss
	// and reconnects, re-establishing its subscription.
	srv.mu.RLock()
	var victim *serverConn
	for _, sc := range srv.conns {
		victim = sc
	}
	srv.mu.RUnlock()
	if victim == nil {
		t.Fatal("no server connection")
	}
	victim.conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == connection.StateConnected && srv.Router().SubscriberCount("trades") == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Router().SubscriberCount("trades") != 1 {
		t.Fatal("subscription not re-established after reconnect")
	}

	if _, err := srv.Publish(ctx, "trades", []byte("post-reconnect")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitForCount(t, sink.count, 1)
	if got := sink.payloads()[0]; got != "post-reconnect" {
		t.Errorf("payload = %q, want %q", got, "post-reconnect")
	}
}
