// Package config loads and validates TradeWire configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tradewire-protocol/tradewire-go/pkg/connection"
	"github.com/tradewire-protocol/tradewire-go/pkg/discovery"
	"github.com/tradewire-protocol/tradewire-go/pkg/pubsub"
	"github.com/tradewire-protocol/tradewire-go/pkg/stream"
	"github.com/tradewire-protocol/tradewire-go/pkg/transport"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Config errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Duration wraps time.Duration for YAML values like "5s" or "250ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("%w: duration must be a string or integer", ErrInvalidConfig)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all tunable TradeWire settings.
type Config struct {
	// ListenAddress is the UDP address a server binds to.
	ListenAddress string `yaml:"listen_address"`

	// MaxChunkSize is the largest chunk payload in bytes.
	MaxChunkSize uint32 `yaml:"max_chunk_size"`

	// MaxMessageSize is the largest reassembled message in bytes.
	MaxMessageSize uint32 `yaml:"max_message_size"`

	// HeartbeatInterval is the time between heartbeat pings.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// HeartbeatTimeout is the time to wait for each heartbeat ack.
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`

	// MissedHeartbeatThreshold is the number of consecutively missed
	// acks before a connection is declared dead.
	MissedHeartbeatThreshold int `yaml:"missed_heartbeat_threshold"`

	// MaxStreamsPerConnection caps concurrently held outgoing streams.
	MaxStreamsPerConnection int `yaml:"max_streams_per_connection"`

	// ReconnectBackoffBase is the initial reconnection delay.
	ReconnectBackoffBase Duration `yaml:"reconnect_backoff_base"`

	// ReconnectBackoffMax is the maximum reconnection delay.
	ReconnectBackoffMax Duration `yaml:"reconnect_backoff_max"`

	// MaxReconnectAttempts bounds reconnection before the peer is
	// declared unreachable. Zero means unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// PerSubscriberQueueDepth is the per-subscription queue capacity.
	PerSubscriberQueueDepth int `yaml:"per_subscriber_queue_depth"`

	// BackpressurePolicy is "block" or "drop_oldest".
	BackpressurePolicy string `yaml:"backpressure_policy"`

	// LogFile receives CBOR diagnostic events when set.
	LogFile string `yaml:"log_file"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ListenAddress:            fmt.Sprintf(":%d", discovery.DefaultPort),
		MaxChunkSize:             wire.DefaultMaxChunkSize,
		MaxMessageSize:           stream.DefaultMaxMessageSize,
		HeartbeatInterval:        Duration(transport.DefaultHeartbeatInterval),
		HeartbeatTimeout:         Duration(transport.DefaultHeartbeatTimeout),
		MissedHeartbeatThreshold: transport.DefaultMissedThreshold,
		MaxStreamsPerConnection:  transport.DefaultMaxStreams,
		ReconnectBackoffBase:     Duration(connection.DefaultBackoffBase),
		ReconnectBackoffMax:      Duration(connection.DefaultBackoffMax),
		MaxReconnectAttempts:     0,
		PerSubscriberQueueDepth:  pubsub.DefaultQueueDepth,
		BackpressurePolicy:       pubsub.PolicyBlock.String(),
	}
}

// Load reads a YAML config file. Settings absent from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.MaxChunkSize < wire.MinChunkSize {
		return fmt.Errorf("%w: max_chunk_size must be >= %d", ErrInvalidConfig, wire.MinChunkSize)
	}
	if c.MaxMessageSize < c.MaxChunkSize {
		return fmt.Errorf("%w: max_message_size must be >= max_chunk_size", ErrInvalidConfig)
	}
	if c.HeartbeatInterval.Std() <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalidConfig)
	}
	if c.HeartbeatTimeout.Std() <= 0 {
		return fmt.Errorf("%w: heartbeat_timeout must be positive", ErrInvalidConfig)
	}
	if c.HeartbeatTimeout.Std() > c.HeartbeatInterval.Std() {
		return fmt.Errorf("%w: heartbeat_timeout must be <= heartbeat_interval", ErrInvalidConfig)
	}
	if c.MissedHeartbeatThreshold < 1 {
		return fmt.Errorf("%w: missed_heartbeat_threshold must be >= 1", ErrInvalidConfig)
	}
	if c.MaxStreamsPerConnection < 1 {
		return fmt.Errorf("%w: max_streams_per_connection must be >= 1", ErrInvalidConfig)
	}
	if c.ReconnectBackoffBase.Std() <= 0 {
		return fmt.Errorf("%w: reconnect_backoff_base must be positive", ErrInvalidConfig)
	}
	if c.ReconnectBackoffMax.Std() < c.ReconnectBackoffBase.Std() {
		return fmt.Errorf("%w: reconnect_backoff_max must be >= reconnect_backoff_base", ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must be >= 0", ErrInvalidConfig)
	}
	if c.PerSubscriberQueueDepth < 1 {
		return fmt.Errorf("%w: per_subscriber_queue_depth must be >= 1", ErrInvalidConfig)
	}
	if _, err := pubsub.ParsePolicy(c.BackpressurePolicy); err != nil {
		return fmt.Errorf("%w: backpressure_policy: %v", ErrInvalidConfig, err)
	}
	return nil
}

// KeepAlive converts the heartbeat settings.
func (c *Config) KeepAlive() transport.KeepAliveConfig {
	return transport.KeepAliveConfig{
		Interval:        c.HeartbeatInterval.Std(),
		Timeout:         c.HeartbeatTimeout.Std(),
		MissedThreshold: c.MissedHeartbeatThreshold,
	}
}

// Conn converts the connection settings.
func (c *Config) Conn() transport.ConnConfig {
	return transport.ConnConfig{
		MaxChunkSize:   c.MaxChunkSize,
		MaxMessageSize: c.MaxMessageSize,
		MaxStreams:     c.MaxStreamsPerConnection,
		KeepAlive:      c.KeepAlive(),
	}
}

// Reconnect converts the reconnection settings.
func (c *Config) Reconnect() connection.ManagerConfig {
	return connection.ManagerConfig{
		Backoff: connection.BackoffConfig{
			Base: c.ReconnectBackoffBase.Std(),
			Max:  c.ReconnectBackoffMax.Std(),
		},
		MaxAttempts: c.MaxReconnectAttempts,
	}
}

// Router converts the routing settings. Validate must have passed.
func (c *Config) Router() pubsub.RouterConfig {
	policy, _ := pubsub.ParsePolicy(c.BackpressurePolicy)
	return pubsub.RouterConfig{
		QueueDepth: c.PerSubscriberQueueDepth,
		Policy:     policy,
	}
}
