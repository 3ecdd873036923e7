package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/stream"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Connection errors.
var (
	ErrConnectionDead  = errors.New("connection dead")
	ErrRequestTimedOut = errors.New("request timed out")
)

// Health represents the liveness of a connection.
type Health int32

const (
	// HealthConnecting indicates the handshake is in progress.
	HealthConnecting Health = iota

	// HealthLive indicates heartbeats are being acknowledged.
	HealthLive

	// HealthDegraded indicates at least one consecutive heartbeat ack
	// has been missed.
	HealthDegraded

	// HealthDead indicates the connection has failed or been closed.
	// The transition to dead happens exactly once.
	HealthDead
)

// String returns the health state name.
func (h Health) String() string {
	switch h {
	case HealthConnecting:
		return "CONNECTING"
	case HealthLive:
		return "LIVE"
	case HealthDegraded:
		return "DEGRADED"
	case HealthDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side of the connection the local endpoint is.
type Role uint8

const (
	// RoleInitiator dialed the connection and opens the control stream.
	RoleInitiator Role = iota

	// RoleAcceptor accepted the connection and awaits the control stream.
	RoleAcceptor
)

func (r Role) logRole() log.Role {
	if r == RoleInitiator {
		return log.RoleInitiator
	}
	return log.RoleAcceptor
}

// Handler receives connection events. Callbacks run on internal
// goroutines and must not block.
type Handler interface {
	// OnMessage is called for every decoded inbound envelope that is
	// not a response to a pending request.
	OnMessage(msg *wire.Message)

	// OnHealthChange is called on health transitions.
	OnHealthChange(oldHealth, newHealth Health)

	// OnError is called for stream and decode errors that do not kill
	// the connection, and once with the terminal error when it does.
	OnError(err error)
}

// ConnConfig configures a Conn.
type ConnConfig struct {
	// MaxChunkSize is the largest chunk payload sent or accepted.
	MaxChunkSize uint32

	// MaxMessageSize is the largest reassembled message accepted.
	MaxMessageSize uint32

	// MaxStreams caps concurrently held outgoing streams.
	MaxStreams int

	// KeepAlive configures heartbeats.
	KeepAlive KeepAliveConfig

	// Logger receives diagnostic events. Defaults to NoopLogger.
	Logger log.Logger
}

// DefaultConnConfig returns the default connection configuration.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxChunkSize:   wire.DefaultMaxChunkSize,
		MaxMessageSize: stream.DefaultMaxMessageSize,
		MaxStreams:     DefaultMaxStreams,
		KeepAlive:      DefaultKeepAliveConfig(),
	}
}

// Conn is an established TradeWire connection. It owns the control
// stream, the outgoing stream pool, and one read loop per inbound
// stream.
type Conn struct {
	id      uuid.UUID
	role    Role
	config  ConnConfig
	handler Handler
	logger  log.Logger

	mux  MuxConn
	pool *StreamPool

	controlMu sync.Mutex
	control   Stream

	keepAlive *KeepAlive

	health   atomic.Int32
	deadOnce sync.Once

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan *wire.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConn wraps an established multiplexed connection. Call Start to
// run the handshake and begin reading.
func NewConn(mux MuxConn, role Role, config ConnConfig, handler Handler) *Conn {
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = wire.DefaultMaxChunkSize
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = stream.DefaultMaxMessageSize
	}
	if config.MaxStreams <= 0 {
		config.MaxStreams = DefaultMaxStreams
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	c := &Conn{
		id:      uuid.New(),
		role:    role,
		config:  config,
		handler: handler,
		logger:  logger,
		mux:     mux,
		pending: make(map[uuid.UUID]chan *wire.Message),
	}
	c.health.Store(int32(HealthConnecting))
	return c
}

// ID returns the connection's local identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// Health returns the current health state.
func (c *Conn) Health() Health { return Health(c.health.Load()) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.mux.RemoteAddr().String() }

// Start establishes the control stream, starts heartbeats, and begins
// accepting inbound streams.
func (c *Conn) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.pool = NewStreamPool(c.mux, c.config.MaxStreams)

	var control Stream
	var err error
	if c.role == RoleInitiator {
		control, err = c.mux.OpenStream(ctx)
	} else {
		control, err = c.mux.AcceptStream(ctx)
	}
	if err != nil {
		c.cancel()
		return fmt.Errorf("control stream: %w", err)
	}
	c.control = control

	c.setHealth(HealthLive, "control stream established")

	c.keepAlive = NewKeepAlive(c.config.KeepAlive, KeepAliveCallbacks{
		SendPing: c.sendPing,
		OnMiss:   c.onHeartbeatMiss,
		OnAlive:  c.onHeartbeatRecovered,
		OnDead:   func() { c.markDead(errors.New("heartbeat threshold exceeded")) },
	})
	c.keepAlive.Start(c.ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readStream(control)
	}()
	go func() {
		defer c.wg.Done()
		c.acceptLoop()
	}()

	return nil
}

// Send delivers one envelope to the peer, chunked over a pooled stream.
// Blocks while the stream pool is at capacity. Delivery is at most
// once; a send interrupted by ctx leaves no retry behind.
func (c *Conn) Send(ctx context.Context, msg *wire.Message) error {
	return c.send(ctx, msg, false)
}

// TrySend is like Send but fails with ErrStreamLimitExceeded instead of
// blocking when all streams are busy.
func (c *Conn) TrySend(ctx context.Context, msg *wire.Message) error {
	return c.send(ctx, msg, true)
}

func (c *Conn) send(ctx context.Context, msg *wire.Message, nonBlocking bool) error {
	if c.Health() == HealthDead {
		return ErrConnectionDead
	}

	data, err := wire.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	chunks, err := wire.Split(uuid.New(), data, int(c.config.MaxChunkSize))
	if err != nil {
		return fmt.Errorf("split message: %w", err)
	}

	var s Stream
	if nonBlocking {
		s, err = c.pool.TryAcquire(ctx)
	} else {
		s, err = c.pool.Acquire(ctx)
	}
	if err != nil {
		return err
	}

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			// A partial message poisons the stream for the peer;
			// never return it to the pool.
			c.pool.Discard(s)
			return err
		}
		if err := wire.WriteChunk(s, &chunks[i]); err != nil {
			c.pool.Discard(s)
			return fmt.Errorf("write chunk %d/%d: %w", i, len(chunks), err)
		}
		c.logChunk(log.DirectionOut, uint64(s.ID()), &chunks[i])
	}
	c.pool.Release(s)

	c.logMessage(log.DirectionOut, uint64(s.ID()), msg)
	return nil
}

// Request sends a request envelope and waits for the matching response.
func (c *Conn) Request(ctx context.Context, payload []byte) (*wire.Message, error) {
	msg := wire.NewRequest(payload)
	corr := msg.Correlation()

	ch := make(chan *wire.Message, 1)
	c.pendingMu.Lock()
	c.pending[corr] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, corr)
		c.pendingMu.Unlock()
	}()

	if err := c.Send(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, ErrConnectionDead
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRequestTimedOut, ctx.Err())
	case <-c.ctx.Done():
		return nil, ErrConnectionDead
	}
}

// Respond answers a request envelope.
func (c *Conn) Respond(ctx context.Context, req *wire.Message, payload []byte) error {
	return c.Send(ctx, wire.NewResponse(req, payload))
}

// Close shuts the connection down cleanly.
func (c *Conn) Close() error {
	c.deadOnce.Do(func() {
		c.setHealth(HealthDead, "closed")
		c.teardown(CloseCodeNormal, "close")
	})
	return nil
}

// markDead records connection failure. Runs at most once.
func (c *Conn) markDead(cause error) {
	c.deadOnce.Do(func() {
		c.setHealth(HealthDead, cause.Error())
		if c.handler != nil {
			c.handler.OnError(fmt.Errorf("%w: %v", ErrConnectionDead, cause))
		}
		c.teardown(CloseCodeDead, cause.Error())
	})
}

func (c *Conn) teardown(code uint64, reason string) {
	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}
	c.cancel()
	c.pool.Close()
	c.mux.CloseWithError(code, reason)
	c.failPending()
}

// failPending wakes all outstanding requests with a nil response.
func (c *Conn) failPending() {
	c.pendingMu.Lock()
	for corr, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
		delete(c.pending, corr)
	}
	c.pendingMu.Unlock()
}

// acceptLoop receives peer-opened streams and runs a read loop on each.
func (c *Conn) acceptLoop() {
	for {
		s, err := c.mux.AcceptStream(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.markDead(fmt.Errorf("accept stream: %w", err))
			}
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.readStream(s)
		}()
	}
}

// readStream reads chunks from one inbound stream until EOF or error.
// A framing or reassembly violation poisons only this stream.
func (c *Conn) readStream(s Stream) {
	isControl := s == c.control
	reassembler := stream.NewReassembler(int(c.config.MaxMessageSize))

	for {
		chunk, err := wire.ReadChunk(s, c.config.MaxChunkSize)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if isControl {
				c.markDead(fmt.Errorf("control stream: %w", err))
				return
			}
			// A framing violation poisons the stream the same way a
			// reassembly violation does.
			if !errors.Is(err, io.EOF) {
				c.logError(log.LayerChunk, err, "framing", uint64(s.ID()))
				if c.handler != nil {
					c.handler.OnError(fmt.Errorf("stream %d: %w", s.ID(), err))
				}
				s.Close()
			}
			return
		}

		if chunk.IsHeartbeat() {
			c.handleHeartbeat(chunk)
			continue
		}
		c.logChunk(log.DirectionIn, uint64(s.ID()), chunk)

		payload, err := reassembler.Feed(chunk)
		if err != nil {
			c.logError(log.LayerChunk, err, "reassembly", uint64(s.ID()))
			if c.handler != nil {
				c.handler.OnError(fmt.Errorf("stream %d: %w", s.ID(), err))
			}
			s.Close()
			return
		}
		if payload == nil {
			continue
		}

		msg, err := wire.DecodeMessage(payload)
		if err != nil {
			c.logError(log.LayerWire, err, "decode envelope", uint64(s.ID()))
			if c.handler != nil {
				c.handler.OnError(fmt.Errorf("stream %d: %w", s.ID(), err))
			}
			continue
		}

		c.logMessage(log.DirectionIn, uint64(s.ID()), msg)
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg *wire.Message) {
	if msg.Type == wire.TypeResponse {
		corr := msg.Correlation()
		c.pendingMu.Lock()
		ch, ok := c.pending[corr]
		if ok {
			delete(c.pending, corr)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
			return
		}
		// Late response after the requester gave up.
	}
	if c.handler != nil {
		c.handler.OnMessage(msg)
	}
}

// handleHeartbeat answers pings and forwards pongs to the keep-alive.
func (c *Conn) handleHeartbeat(chunk *wire.Chunk) {
	if len(chunk.Payload) == 0 {
		c.logHeartbeat(log.DirectionIn, log.HeartbeatPing, 0)
		c.sendPong()
		return
	}
	c.logHeartbeat(log.DirectionIn, log.HeartbeatPong, 0)
	if c.keepAlive != nil {
		c.keepAlive.PongReceived()
	}
}

func (c *Conn) sendPing() error {
	c.logHeartbeat(log.DirectionOut, log.HeartbeatPing, 0)
	return c.writeControl(wire.PingChunk())
}

func (c *Conn) sendPong() {
	c.logHeartbeat(log.DirectionOut, log.HeartbeatPong, 0)
	if err := c.writeControl(wire.PongChunk()); err != nil && c.handler != nil {
		c.handler.OnError(fmt.Errorf("send pong: %w", err))
	}
}

func (c *Conn) writeControl(chunk wire.Chunk) error {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()
	return wire.WriteChunk(c.control, &chunk)
}

func (c *Conn) onHeartbeatMiss(missed int) {
	c.logHeartbeat(log.DirectionIn, log.HeartbeatPong, missed)
	if c.health.CompareAndSwap(int32(HealthLive), int32(HealthDegraded)) {
		c.notifyHealthChange(HealthLive, HealthDegraded, fmt.Sprintf("missed %d heartbeat acks", missed))
	}
}

func (c *Conn) onHeartbeatRecovered() {
	if c.health.CompareAndSwap(int32(HealthDegraded), int32(HealthLive)) {
		c.notifyHealthChange(HealthDegraded, HealthLive, "heartbeat ack received")
	}
}

func (c *Conn) setHealth(newHealth Health, reason string) {
	oldHealth := Health(c.health.Swap(int32(newHealth)))
	if oldHealth != newHealth {
		c.notifyHealthChange(oldHealth, newHealth, reason)
	}
}

func (c *Conn) notifyHealthChange(oldHealth, newHealth Health, reason string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id.String(),
		Layer:        log.LayerConnection,
		Category:     log.CategoryState,
		LocalRole:    c.role.logRole(),
		RemoteAddr:   c.RemoteAddr(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldHealth.String(),
			NewState: newHealth.String(),
			Reason:   reason,
		},
	})
	if c.handler != nil {
		c.handler.OnHealthChange(oldHealth, newHealth)
	}
}

func (c *Conn) logMessage(dir log.Direction, streamID uint64, msg *wire.Message) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id.String(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    c.role.logRole(),
		RemoteAddr:   c.RemoteAddr(),
		StreamID:     streamID,
		Topic:        msg.Topic,
	})
}

func (c *Conn) logChunk(dir log.Direction, streamID uint64, chunk *wire.Chunk) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id.String(),
		Direction:    dir,
		Layer:        log.LayerChunk,
		Category:     log.CategoryMessage,
		LocalRole:    c.role.logRole(),
		StreamID:     streamID,
		Chunk: &log.ChunkEvent{
			MessageID: chunk.MessageID.String(),
			Sequence:  chunk.Sequence,
			Total:     chunk.Total,
			Size:      len(chunk.Payload),
		},
	})
}

func (c *Conn) logHeartbeat(dir log.Direction, hbType log.HeartbeatType, missed int) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id.String(),
		Direction:    dir,
		Layer:        log.LayerConnection,
		Category:     log.CategoryControl,
		LocalRole:    c.role.logRole(),
		Heartbeat: &log.HeartbeatEvent{
			Type:   hbType,
			Missed: missed,
		},
	})
}

func (c *Conn) logError(layer log.Layer, err error, context string, streamID uint64) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id.String(),
		Layer:        layer,
		Category:     log.CategoryError,
		LocalRole:    c.role.logRole(),
		StreamID:     streamID,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	})
}
