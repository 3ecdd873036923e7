package transport

import (
	"context"
	"sync"
	"time"
)

// Heartbeat constants.
const (
	// DefaultHeartbeatInterval is the default interval between pings.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultHeartbeatTimeout is the default time to wait for a pong.
	DefaultHeartbeatTimeout = 2 * time.Second

	// DefaultMissedThreshold is the default number of consecutively
	// missed pongs before the connection is declared dead.
	DefaultMissedThreshold = 3
)

// KeepAliveConfig configures heartbeat behavior.
type KeepAliveConfig struct {
	// Interval between pings.
	Interval time.Duration

	// Timeout for the pong answering each ping.
	Timeout time.Duration

	// MissedThreshold is the number of consecutively missed pongs
	// before the connection is declared dead.
	MissedThreshold int
}

// DefaultKeepAliveConfig returns the default heartbeat configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		Interval:        DefaultHeartbeatInterval,
		Timeout:         DefaultHeartbeatTimeout,
		MissedThreshold: DefaultMissedThreshold,
	}
}

// DetectionDelay is the worst-case time to declare a dead connection.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.Interval*time.Duration(c.MissedThreshold) + c.Timeout
}

// KeepAliveCallbacks receive heartbeat outcomes. onMiss fires on every
// consecutively missed pong with the running miss count, onAlive fires
// when a pong arrives after one or more misses, onDead fires exactly
// once when the miss count reaches the threshold.
type KeepAliveCallbacks struct {
	SendPing func() error
	OnMiss   func(missed int)
	OnAlive  func()
	OnDead   func()
}

// KeepAlive runs the heartbeat loop for one connection.
type KeepAlive struct {
	config    KeepAliveConfig
	callbacks KeepAliveCallbacks

	mu           sync.Mutex
	running      bool
	dead         bool
	missed       int
	hasPending   bool
	pendingSince time.Time
	lastPingTime time.Time
	lastPongTime time.Time

	stopCh chan struct{}
	pongCh chan struct{}
}

// NewKeepAlive creates a heartbeat manager. Zero config fields fall
// back to defaults.
func NewKeepAlive(config KeepAliveConfig, callbacks KeepAliveCallbacks) *KeepAlive {
	if config.Interval == 0 {
		config.Interval = DefaultHeartbeatInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultHeartbeatTimeout
	}
	if config.MissedThreshold == 0 {
		config.MissedThreshold = DefaultMissedThreshold
	}
	// A timeout longer than the interval would let every tick re-arm
	// the pending deadline before it expires.
	if config.Timeout > config.Interval {
		config.Timeout = config.Interval
	}

	return &KeepAlive{
		config:    config,
		callbacks: callbacks,
		stopCh:    make(chan struct{}),
		pongCh:    make(chan struct{}, 1),
	}
}

// Start begins the heartbeat loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.mu.Unlock()

	go ka.loop(ctx)
}

// Stop halts the heartbeat loop.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// PongReceived reports an incoming pong.
func (ka *KeepAlive) PongReceived() {
	select {
	case ka.pongCh <- struct{}{}:
	default:
	}
}

// IsRunning returns true while the heartbeat loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats is a snapshot of heartbeat state.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	Missed       int
}

// Stats returns current heartbeat statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
		Missed:       ka.missed,
	}
}

func (ka *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.config.Interval)
	defer ticker.Stop()

	ka.sendPing()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ka.stopCh:
			return
		case <-ticker.C:
			if !ka.handleTick() {
				return
			}
		case <-ka.pongCh:
			ka.handlePong()
		}
	}
}

func (ka *KeepAlive) sendPing() {
	ka.mu.Lock()
	ka.lastPingTime = time.Now()
	// The pending deadline is anchored to the oldest unanswered ping;
	// re-pinging must not push it out.
	if !ka.hasPending {
		ka.hasPending = true
		ka.pendingSince = ka.lastPingTime
	}
	ka.mu.Unlock()

	if err := ka.callbacks.SendPing(); err != nil {
		// Write failure counts as a timed-out ping; leave pending so
		// the next tick records the miss.
		_ = err
	}
}

// handleTick checks the previous ping and sends the next one. Returns
// false when the connection has been declared dead.
func (ka *KeepAlive) handleTick() bool {
	ka.mu.Lock()

	if ka.hasPending && time.Since(ka.pendingSince) >= ka.config.Timeout {
		ka.missed++
		ka.hasPending = false
		missed := ka.missed

		if missed >= ka.config.MissedThreshold {
			ka.dead = true
			ka.mu.Unlock()
			if ka.callbacks.OnDead != nil {
				ka.callbacks.OnDead()
			}
			return false
		}

		ka.mu.Unlock()
		if ka.callbacks.OnMiss != nil {
			ka.callbacks.OnMiss(missed)
		}
	} else {
		ka.mu.Unlock()
	}

	ka.sendPing()
	return true
}

func (ka *KeepAlive) handlePong() {
	ka.mu.Lock()
	ka.lastPongTime = time.Now()
	ka.hasPending = false
	recovered := ka.missed > 0
	ka.missed = 0
	ka.mu.Unlock()

	if recovered && ka.callbacks.OnAlive != nil {
		ka.callbacks.OnAlive()
	}
}
