// Package gateway keeps one WebSocket session to the control plane alive
// and runs the dispatcher and frame streams over it.
//
//	          ┌──────────── ctx cancelled ────────────┐
//	          ▼                                       │
//	Disconnected ──► Connecting ──dial ok──► Connected ┘
//	     ▲               │                      │
//	     └── delay ◄─────┴── dial failed        └── any loop failed ──► close, delay
//
// While Connected an errgroup runs the dispatcher receive loop, one frame
// stream per configured run id and websocket keepalive pings. The first
// failure cancels the others. A stream ending on its idle timeout is not a
// failure and leaves the session up.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remote-agent/capture"
	"remote-agent/dispatcher"
	"remote-agent/loadbalance"
	"remote-agent/metrics"
	"remote-agent/streamer"
	"remote-agent/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State of the connection manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var allStates = []string{string(StateDisconnected), string(StateConnecting), string(StateConnected)}

// Conn is everything a session needs from a connection.
type Conn interface {
	dispatcher.Conn
	streamer.Writer
	KeepAlive(ctx context.Context, interval time.Duration) error
	Close(reason string) error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Options configure a Manager.
type Options struct {
	Endpoints         []string             // Resolved ws:// or wss:// URLs, at least one
	Balancer          loadbalance.Balancer // Default round robin
	ReconnectDelay    time.Duration        // Fixed wait between attempts (default 10s)
	ConnectTimeout    time.Duration        // Per dial (default 30s)
	KeepAliveInterval time.Duration        // 0 disables pings
	Transport         transport.Options    // Used by the default dialer
	Dial              DialFunc             // Default transport.Dial

	Streaming    bool     // Run frame streams on the session
	StreamRunIDs []string // Run ids to stream (default "1")
	Stream       streamer.Options

	DrainTimeout time.Duration // How long Run waits for in-flight calls on exit
	Metrics      *metrics.Collector
}

// Manager owns the connection lifecycle. At most one session is live.
type Manager struct {
	dispatcher *dispatcher.Dispatcher
	source     capture.Source
	opts       Options
	logger     *zap.Logger

	mu            sync.Mutex
	state         State
	onStateChange func(State)
}

// New validates opts and creates a manager in the Disconnected state.
func New(d *dispatcher.Dispatcher, source capture.Source, opts Options, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints", ErrInvalidEndpoint)
	}
	for _, ep := range opts.Endpoints {
		if !isWebSocketURL(ep) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, ep)
		}
	}
	if opts.Streaming && source == nil {
		return nil, errors.New("gateway: streaming enabled without a frame source")
	}
	if opts.Balancer == nil {
		opts.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 10 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if len(opts.StreamRunIDs) == 0 {
		opts.StreamRunIDs = []string{"1"}
	}

	m := &Manager{
		dispatcher: d,
		source:     source,
		opts:       opts,
		logger:     logger.With(zap.String("component", "gateway")),
		state:      StateDisconnected,
	}
	if m.opts.Dial == nil {
		m.opts.Dial = m.dialTransport
	}
	return m, nil
}

func (m *Manager) dialTransport(ctx context.Context, url string) (Conn, error) {
	return transport.Dial(ctx, url, m.opts.Transport, m.logger)
}

// OnStateChange registers a callback invoked on every transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// setState updates the state and fires the callback. Caller must NOT hold m.mu.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fn := m.onStateChange
	m.mu.Unlock()

	m.opts.Metrics.SetConnectionState(string(s), allStates...)
	if fn != nil {
		fn(s)
	}
}

// Run connects and reconnects until ctx is cancelled. Connection failures
// are never returned; Run only returns once ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("connection manager started",
		zap.Strings("endpoints", m.opts.Endpoints),
		zap.String("balancer", m.opts.Balancer.Name()),
		zap.Duration("reconnect_delay", m.opts.ReconnectDelay))

	defer func() {
		m.setState(StateDisconnected)
		if err := m.dispatcher.Wait(m.opts.DrainTimeout); err != nil {
			m.logger.Warn("in-flight calls still running at exit", zap.Error(err))
		}
	}()

	for ctx.Err() == nil {
		if err := m.connectOnce(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("connection ended", zap.Error(err), zap.Duration("retry_in", m.opts.ReconnectDelay))
		}
		m.setState(StateDisconnected)

		select {
		case <-ctx.Done():
		case <-time.After(m.opts.ReconnectDelay):
		}
	}
	m.logger.Info("connection manager stopped")
	return nil
}

// connectOnce dials one endpoint and serves the session until it ends.
func (m *Manager) connectOnce(ctx context.Context) error {
	m.setState(StateConnecting)

	url, err := m.opts.Balancer.Pick(m.opts.Endpoints)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	conn, err := m.opts.Dial(dialCtx, url)
	cancel()
	if err != nil {
		m.opts.Metrics.RecordConnectAttempt("failure")
		return fmt.Errorf("connect %s: %w", url, err)
	}
	m.opts.Metrics.RecordConnectAttempt("success")

	sessionID := uuid.NewString()
	logger := m.logger.With(zap.String("session_id", sessionID))
	logger.Info("connected", zap.String("endpoint", url))
	m.setState(StateConnected)

	err = m.serve(ctx, conn, logger)
	if cerr := conn.Close("session ended"); cerr != nil {
		logger.Debug("close connection", zap.Error(cerr))
	}
	return err
}

// serve runs the session loops until the first one fails.
func (m *Manager) serve(ctx context.Context, conn Conn, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.dispatcher.Serve(gctx, conn)
	})

	g.Go(func() error {
		return conn.KeepAlive(gctx, m.opts.KeepAliveInterval)
	})

	if m.opts.Streaming {
		s := streamer.New(m.source, conn, m.opts.Stream, logger)
		for _, runID := range m.opts.StreamRunIDs {
			g.Go(func() error {
				err := s.Stream(gctx, runID)
				if errors.Is(err, streamer.ErrAlreadyStreaming) {
					return nil
				}
				return err
			})
		}
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
