package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/tradewire-protocol/tradewire-go/pkg/version"
)

// Application error codes carried in CONNECTION_CLOSE frames.
const (
	CloseCodeNormal   = 0x0
	CloseCodeDead     = 0x1
	CloseCodeProtocol = 0x2
)

// QUICConfig configures the QUIC dialer and listener.
type QUICConfig struct {
	// TLS configuration. NextProtos is forced to the supported
	// TradeWire ALPN protocols.
	TLSConfig *tls.Config

	// MaxIdleTimeout closes the session when no packets are seen.
	// Kept well above the heartbeat detection delay so liveness is
	// decided by heartbeats, not by the QUIC stack.
	MaxIdleTimeout time.Duration

	// MaxIncomingStreams limits streams the peer may open concurrently.
	MaxIncomingStreams int64
}

func (c QUICConfig) quicConfig() *quic.Config {
	idle := c.MaxIdleTimeout
	if idle == 0 {
		idle = 2 * time.Minute
	}
	return &quic.Config{
		MaxIdleTimeout:     idle,
		MaxIncomingStreams: c.MaxIncomingStreams,
	}
}

func (c QUICConfig) tlsConfig() *tls.Config {
	cfg := c.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	cfg.NextProtos = version.SupportedALPNProtocols()
	return cfg
}

// QUICDialer dials TradeWire peers over QUIC.
type QUICDialer struct {
	config QUICConfig
}

// NewQUICDialer creates a dialer with the given configuration.
func NewQUICDialer(config QUICConfig) *QUICDialer {
	return &QUICDialer{config: config}
}

// Dial establishes a QUIC session with the peer at address.
func (d *QUICDialer) Dial(ctx context.Context, address string) (MuxConn, error) {
	conn, err := quic.DialAddr(ctx, address, d.config.tlsConfig(), d.config.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", address, err)
	}
	return &quicConn{conn: conn}, nil
}

// QUICListener accepts TradeWire sessions over QUIC.
type QUICListener struct {
	listener *quic.Listener
}

// ListenQUIC starts listening on the given UDP address.
func ListenQUIC(address string, config QUICConfig) (*QUICListener, error) {
	if config.TLSConfig == nil || len(config.TLSConfig.Certificates) == 0 {
		return nil, fmt.Errorf("quic listen: server certificate required")
	}
	listener, err := quic.ListenAddr(address, config.tlsConfig(), config.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", address, err)
	}
	return &QUICListener{listener: listener}, nil
}

// Accept waits for an incoming session.
func (l *QUICListener) Accept(ctx context.Context) (MuxConn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}

// Addr returns the listen address.
func (l *QUICListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops the listener.
func (l *QUICListener) Close() error {
	return l.listener.Close()
}

// quicConn adapts quic.Connection to MuxConn.
type quicConn struct {
	conn quic.Connection
}

func (c *quicConn) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{stream: s}, nil
}

func (c *quicConn) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{stream: s}, nil
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicConn) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (c *quicConn) Context() context.Context { return c.conn.Context() }

// quicStream adapts quic.Stream to Stream.
type quicStream struct {
	stream quic.Stream
}

func (s *quicStream) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *quicStream) Write(p []byte) (int, error) { return s.stream.Write(p) }
func (s *quicStream) ID() int64                   { return int64(s.stream.StreamID()) }

func (s *quicStream) Close() error {
	s.stream.CancelRead(quic.StreamErrorCode(CloseCodeNormal))
	return s.stream.Close()
}
