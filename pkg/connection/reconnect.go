package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Connection errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrUnreachable      = errors.New("peer unreachable")
)

// State represents the lifecycle state of a managed connection.
type State uint8

const (
	// StateDisconnected indicates no active connection and no
	// reconnection in progress.
	StateDisconnected State = iota

	// StateConnecting indicates an explicit connection attempt is in
	// progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateUnreachable indicates reconnection was abandoned after
	// exhausting the attempt or time budget. The manager stays in this
	// state until Connect is called again.
	StateUnreachable

	// StateClosed indicates the manager has been shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateUnreachable:
		return "UNREACHABLE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes a connection to the peer. It returns nil on
// success.
type ConnectFunc func(ctx context.Context) error

// ManagerConfig customizes reconnection behavior.
type ManagerConfig struct {
	// Backoff parameters for reconnection delays.
	Backoff BackoffConfig

	// MaxAttempts is the number of reconnection attempts before the
	// peer is declared unreachable. Zero means unlimited.
	MaxAttempts int

	// MaxElapsed is the total time spent reconnecting before the peer
	// is declared unreachable. Zero means unlimited.
	MaxElapsed time.Duration

	// ConnectTimeout bounds each individual reconnection attempt.
	// Defaults to 30 seconds.
	ConnectTimeout time.Duration
}

// Manager drives connection lifecycle with automatic reconnection.
type Manager struct {
	mu sync.RWMutex

	state State

	backoff   *Backoff
	connectFn ConnectFunc

	autoReconnect  bool
	maxAttempts    int
	maxElapsed     time.Duration
	connectTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
	onUnreachable  func(attempts int, elapsed time.Duration)
}

// NewManager creates a connection manager with default settings.
func NewManager(connectFn ConnectFunc) *Manager {
	return NewManagerWithConfig(connectFn, ManagerConfig{})
}

// NewManagerWithConfig creates a connection manager with custom settings.
func NewManagerWithConfig(connectFn ConnectFunc, cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	return &Manager{
		state:          StateDisconnected,
		backoff:        NewBackoffWithConfig(cfg.Backoff),
		connectFn:      connectFn,
		autoReconnect:  true,
		maxAttempts:    cfg.MaxAttempts,
		maxElapsed:     cfg.MaxElapsed,
		connectTimeout: cfg.ConnectTimeout,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect initiates a connection. Calling Connect from the unreachable
// state restarts the attempt budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}

	oldState := m.state
	m.state = StateConnecting
	m.backoff.Reset()
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.notifyStateChange(StateConnecting, StateDisconnected)
		return err
	}

	m.state = StateConnected
	m.backoff.Reset()
	m.mu.Unlock()

	m.notifyStateChange(StateConnecting, StateConnected)
	if m.onConnected != nil {
		m.onConnected()
	}

	return nil
}

// Disconnect drops the connection deliberately. Reconnection is not
// attempted.
func (m *Manager) Disconnect() {
	m.transitionFromConnected(false)
}

// NotifyConnectionLost reports a detected connection loss, for example a
// heartbeat timeout. Reconnection starts if auto-reconnect is enabled.
func (m *Manager) NotifyConnectionLost() {
	m.transitionFromConnected(true)
}

func (m *Manager) transitionFromConnected(allowReconnect bool) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	reconnect := allowReconnect && m.autoReconnect

	if reconnect {
		m.state = StateReconnecting
	} else {
		m.state = StateDisconnected
	}
	newState := m.state
	m.mu.Unlock()

	m.notifyStateChange(oldState, newState)
	if m.onDisconnected != nil {
		m.onDisconnected()
	}

	if reconnect {
		m.triggerReconnect()
	}
}

// StartReconnectLoop starts the background reconnection goroutine. Must
// be called once before automatic reconnection will work.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close shuts down the manager and waits for the reconnection goroutine.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

func (m *Manager) attemptReconnect() {
	m.backoff.Reset()
	started := time.Now()

	for {
		m.mu.RLock()
		state := m.state
		m.mu.RUnlock()

		if state != StateReconnecting {
			return
		}

		if m.budgetExhausted(started) {
			m.declareUnreachable(started)
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()

		if m.onReconnecting != nil {
			m.onReconnecting(attempt, delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.RLock()
		state = m.state
		m.mu.RUnlock()
		if state != StateReconnecting {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.connectTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			m.mu.Lock()
			oldState := m.state
			m.state = StateConnected
			m.backoff.Reset()
			m.mu.Unlock()

			m.notifyStateChange(oldState, StateConnected)
			if m.onConnected != nil {
				m.onConnected()
			}
			return
		}
	}
}

func (m *Manager) budgetExhausted(started time.Time) bool {
	if m.maxAttempts > 0 && m.backoff.Attempts() >= m.maxAttempts {
		return true
	}
	if m.maxElapsed > 0 && time.Since(started) >= m.maxElapsed {
		return true
	}
	return false
}

func (m *Manager) declareUnreachable(started time.Time) {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateUnreachable
	attempts := m.backoff.Attempts()
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateUnreachable)
	if m.onUnreachable != nil {
		m.onUnreachable(attempts, time.Since(started))
	}
}

func (m *Manager) notifyStateChange(oldState, newState State) {
	if m.onStateChange != nil {
		m.onStateChange(oldState, newState)
	}
}

// OnStateChange sets a callback for state transitions.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for disconnection.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each reconnection delay.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnUnreachable sets a callback invoked once when reconnection is
// abandoned.
func (m *Manager) OnUnreachable(fn func(attempts int, elapsed time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnreachable = fn
}

// BackoffAttempts returns the reconnection attempts since the last reset.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
