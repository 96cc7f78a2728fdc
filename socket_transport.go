// socket_transport.go: websocket transport to a development server fronting the engine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the development server address.
const DefaultEndpoint = "ws://127.0.0.1:9000"

// SocketOptions configures a SocketTransport.
type SocketOptions struct {
	// Endpoint is the websocket URL of the development server.
	Endpoint string

	// MaxReconnectAttempts bounds consecutive failed (re)connection attempts.
	// After that the transport stays disconnected until closed and recreated.
	MaxReconnectAttempts int

	// ReconnectBaseDelay is the first backoff delay; it doubles per attempt.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// PingInterval enables websocket keepalive pings when positive.
	PingInterval time.Duration

	// Dialer overrides the websocket dialer, mostly for tests.
	Dialer *websocket.Dialer

	Logger Logger
}

// DefaultSocketOptions returns the defaults used by the development tooling.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		Endpoint:             DefaultEndpoint,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    16 * time.Second,
		HandshakeTimeout:     2 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         10 * time.Second,
	}
}

func (o *SocketOptions) applyDefaults() {
	d := DefaultSocketOptions()
	if o.Endpoint == "" {
		o.Endpoint = d.Endpoint
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if o.ReconnectMaxDelay < o.ReconnectBaseDelay {
		o.ReconnectMaxDelay = o.ReconnectBaseDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
}

// SocketTransport implements Transport and ConnectionNotifier over a websocket.
//
// It starts connecting as soon as it is constructed. An unexpected close triggers
// reconnection with exponential backoff; after MaxReconnectAttempts consecutive
// failures it gives up and reports StateDisconnected for good.
type SocketTransport struct {
	opts   SocketOptions
	logger Logger
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex // protects the fields below
	conn      *websocket.Conn
	state     ConnectionState
	receiver  func(frame string)
	listeners stateListeners
	attempts  int

	writeMu sync.Mutex
	closed  atomic.Bool
	gaveUp  atomic.Bool
}

// NewSocketTransport creates the transport and starts connecting in the background.
func NewSocketTransport(opts SocketOptions) *SocketTransport {
	opts.applyDefaults()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &SocketTransport{
		opts:   opts,
		logger: opts.Logger.With("transport", TransportSocket, "endpoint", opts.Endpoint),
		dialer: dialer,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
	SafeGo(t.logger, t.run)
	return t
}

// Kind implements Kinded.
func (t *SocketTransport) Kind() TransportKind {
	return TransportSocket
}

func (t *SocketTransport) run() {
	defer close(t.done)

	for {
		conn, err := t.dial()
		if err == nil {
			t.resetAttempts()
			t.serve(conn)
		} else if t.ctx.Err() == nil {
			t.logger.Info("Connection attempt failed", "error", err)
		}

		if t.ctx.Err() != nil {
			return
		}
		t.setState(StateDisconnected)

		attempt := t.nextAttempt()
		if attempt > t.opts.MaxReconnectAttempts {
			t.gaveUp.Store(true)
			t.logger.Warn("Giving up reconnecting",
				"attempts", attempt-1,
				"max_attempts", t.opts.MaxReconnectAttempts)
			return
		}

		delay := reconnectDelay(t.opts.ReconnectBaseDelay, t.opts.ReconnectMaxDelay, attempt)
		t.logger.Debug("Scheduling reconnect", "attempt", attempt, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		t.setState(StateConnecting)
	}
}

// reconnectDelay returns base*2^(attempt-1), capped at max.
func reconnectDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (t *SocketTransport) dial() (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(t.ctx, t.opts.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs one connected session until the socket fails or the transport closes.
func (t *SocketTransport) serve(conn *websocket.Conn) {
	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info("Transport connected")
	t.setState(StateConnected)

	sessionCtx, sessionCancel := context.WithCancel(t.ctx)
	defer sessionCancel()

	if t.opts.PingInterval > 0 {
		SafeGo(t.logger, func() { t.keepalive(sessionCtx, conn) })
	}

	// Unblock the read loop when the transport is closed.
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if t.ctx.Err() == nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.logger.Warn("Connection closed unexpectedly", "error", err)
				} else {
					t.logger.Info("Connection closed", "error", err)
				}
			}
			break
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			t.deliver(string(message))
		default:
			t.logger.Debug("Ignoring frame", "message_type", messageType)
		}
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
}

func (t *SocketTransport) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.opts.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("Ping failed, dropping connection", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (t *SocketTransport) deliver(frame string) {
	if t.closed.Load() {
		return
	}
	t.mu.Lock()
	receiver := t.receiver
	t.mu.Unlock()
	if receiver == nil {
		t.logger.Debug("Dropping frame, no receiver registered")
		return
	}
	safeCall(t.logger, "frame receiver", func() { receiver(frame) })
}

func (t *SocketTransport) setState(state ConnectionState) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	listeners := t.listeners.snapshot()
	t.mu.Unlock()

	t.logger.Debug("Connection state changed", "state", state)
	for _, l := range listeners {
		if t.closed.Load() {
			return
		}
		l := l
		safeCall(t.logger, "connection listener", func() { l(state) })
	}
}

func (t *SocketTransport) resetAttempts() {
	t.mu.Lock()
	t.attempts = 0
	t.mu.Unlock()
}

func (t *SocketTransport) nextAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return t.attempts
}

// Send writes a text frame. It fails fast when not connected.
func (t *SocketTransport) Send(frame string) error {
	if t.closed.Load() {
		return NewDisconnectedError("send")
	}
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()
	if conn == nil || !connected {
		return NewDisconnectedError("send")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return NewDisconnectedErrorWithCause("send", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		// a failed write leaves the websocket unusable; the read loop notices the close
		conn.Close()
		return NewDisconnectedErrorWithCause("send", err)
	}
	return nil
}

// OnFrame registers the frame receiver.
func (t *SocketTransport) OnFrame(receiver func(frame string)) {
	t.mu.Lock()
	t.receiver = receiver
	t.mu.Unlock()
}

// IsConnected reports whether the websocket is currently open.
func (t *SocketTransport) IsConnected() bool {
	return t.State() == StateConnected
}

// State implements ConnectionNotifier.
func (t *SocketTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// GaveUp reports whether reconnection stopped after exhausting its attempts.
func (t *SocketTransport) GaveUp() bool {
	return t.gaveUp.Load()
}

// OnConnectionChange implements ConnectionNotifier.
func (t *SocketTransport) OnConnectionChange(listener func(ConnectionState)) func() {
	t.mu.Lock()
	id := t.listeners.add(listener)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.listeners.remove(id)
			t.mu.Unlock()
		})
	}
}

// Done is closed once the connection loop has exited.
func (t *SocketTransport) Done() <-chan struct{} {
	return t.done
}

// Close stops reconnecting and closes the socket. Listeners are not notified of
// the final transition.
func (t *SocketTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.receiver = nil
	t.listeners = stateListeners{}
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
	}
	t.logger.Info("Socket transport closed")
	return nil
}
