package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/pubsub"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Server errors.
var (
	ErrServerClosed = errors.New("server closed")
)

// RequestHandler answers client requests. The returned payload becomes
// the response body.
type RequestHandler func(ctx context.Context, conn *Conn, req *wire.Message) ([]byte, error)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Conn configures each accepted connection.
	Conn ConnConfig

	// Router configures subscription queues and backpressure.
	Router pubsub.RouterConfig

	// OnConnect is called after a connection is established.
	OnConnect func(conn *Conn)

	// OnDisconnect is called after a connection dies or closes.
	OnDisconnect func(conn *Conn)

	// OnRequest answers request envelopes. Requests are dropped when
	// nil.
	OnRequest RequestHandler

	// OnData is called for inbound data messages after routing.
	OnData func(conn *Conn, msg *wire.Message)

	// OnError is called for accept and connection errors.
	OnError func(err error)
}

// Server accepts TradeWire connections and routes published messages
// between them.
type Server struct {
	config ServerConfig
	logger log.Logger

	listener Listener
	router   *pubsub.Router

	mu    sync.RWMutex
	conns map[uuid.UUID]*serverConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
	stopped bool
}

// serverConn couples a connection with its subscription handles.
type serverConn struct {
	conn *Conn

	mu      sync.Mutex
	handles map[string]pubsub.Handle
}

// NewServer creates a server that will accept connections from listener.
func NewServer(listener Listener, config ServerConfig) *Server {
	logger := config.Conn.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	if config.Router.Logger == nil {
		config.Router.Logger = logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		logger:   logger,
		listener: listener,
		router:   pubsub.NewRouter(config.Router),
		conns:    make(map[uuid.UUID]*serverConn),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Router exposes the message router, for local subscribers.
func (s *Server) Router() *pubsub.Router {
	return s.router
}

// Publish fans a data message out to the topic's subscribers.
func (s *Server) Publish(ctx context.Context, topic string, payload []byte) (int, error) {
	return s.router.Publish(ctx, wire.NewData(topic, payload))
}

// Stop closes the listener and all connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	s.cancel()
	s.listener.Close()
	for _, sc := range conns {
		sc.conn.Close()
	}
	s.router.Close()
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		mux, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.reportError(fmt.Errorf("accept: %w", err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(mux)
		}()
	}
}

func (s *Server) handleConn(mux MuxConn) {
	sc := &serverConn{handles: make(map[string]pubsub.Handle)}
	conn := NewConn(mux, RoleAcceptor, s.config.Conn, &serverConnHandler{server: s, sc: sc})
	sc.conn = conn

	if err := conn.Start(s.ctx); err != nil {
		s.reportError(fmt.Errorf("connection start: %w", err))
		mux.CloseWithError(CloseCodeProtocol, "start failed")
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn.ID()] = sc
	s.mu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}
}

// removeConn drops a dead connection and its subscriptions.
func (s *Server) removeConn(sc *serverConn) {
	s.mu.Lock()
	_, present := s.conns[sc.conn.ID()]
	delete(s.conns, sc.conn.ID())
	s.mu.Unlock()

	if !present {
		return
	}
	s.router.UnsubscribeSender(sc.conn)

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sc.conn)
	}
}

// handleSubscribe registers the connection as a subscriber of the topic.
// Duplicate subscriptions for the same topic are idempotent. A policy
// name in the envelope payload overrides the router's default; an
// unknown name is reported and ignored.
func (s *Server) handleSubscribe(sc *serverConn, msg *wire.Message) {
	topic := msg.Topic

	var opts []pubsub.SubscribeOption
	if len(msg.Payload) > 0 {
		p, err := pubsub.ParsePolicy(string(msg.Payload))
		if err != nil {
			s.reportError(fmt.Errorf("subscribe %q: %w", topic, err))
		} else {
			opts = append(opts, pubsub.WithPolicy(p))
		}
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.handles[topic]; ok {
		return
	}
	h, err := s.router.Subscribe(topic, sc.conn, opts...)
	if err != nil {
		s.reportError(fmt.Errorf("subscribe %q: %w", topic, err))
		return
	}
	sc.handles[topic] = h
}

func (s *Server) handleUnsubscribe(sc *serverConn, topic string) {
	sc.mu.Lock()
	h, ok := sc.handles[topic]
	delete(sc.handles, topic)
	sc.mu.Unlock()

	if !ok {
		return
	}
	if err := s.router.Unsubscribe(h); err != nil {
		s.reportError(fmt.Errorf("unsubscribe %q: %w", topic, err))
	}
}

func (s *Server) handleRequest(sc *serverConn, req *wire.Message) {
	if s.config.OnRequest == nil {
		return
	}

	// Answer off the read goroutine so slow handlers do not stall the
	// stream.
	go func() {
		payload, err := s.config.OnRequest(s.ctx, sc.conn, req)
		if err != nil {
			s.reportError(fmt.Errorf("request handler: %w", err))
			return
		}
		if err := sc.conn.Respond(s.ctx, req, payload); err != nil {
			s.reportError(fmt.Errorf("send response: %w", err))
		}
	}()
}

func (s *Server) handleData(sc *serverConn, msg *wire.Message) {
	if _, err := s.router.Publish(s.ctx, msg); err != nil && !errors.Is(err, pubsub.ErrRouterClosed) {
		s.reportError(fmt.Errorf("route %q: %w", msg.Topic, err))
	}
	if s.config.OnData != nil {
		s.config.OnData(sc.conn, msg)
	}
}

func (s *Server) reportError(err error) {
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}

// serverConnHandler adapts one connection's events to the server.
type serverConnHandler struct {
	server *Server
	sc     *serverConn
}

func (h *serverConnHandler) OnMessage(msg *wire.Message) {
	switch msg.Type {
	case wire.TypeSubscribe:
		h.server.handleSubscribe(h.sc, msg)
	case wire.TypeUnsubscribe:
		h.server.handleUnsubscribe(h.sc, msg.Topic)
	case wire.TypeRequest:
		h.server.handleRequest(h.sc, msg)
	case wire.TypeData:
		h.server.handleData(h.sc, msg)
	}
}

func (h *serverConnHandler) OnHealthChange(oldHealth, newHealth Health) {
	if newHealth == HealthDead {
		h.server.removeConn(h.sc)
	}
}

func (h *serverConnHandler) OnError(err error) {
	h.server.reportError(err)
}
