// embedded_transport.go: transport over the host-injected bridge of an embedded webview
//
// When the UI runs inside the engine process, the host injects a send primitive
// before UI code starts and delivers inbound frames by calling back into the
// transport. There is no connection to lose, so the transport is always connected
// until it is closed.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxBufferedFrames bounds the frames kept while no receiver is attached.
const DefaultMaxBufferedFrames = 1024

// HostBridge is the send primitive injected by the hosting engine.
type HostBridge interface {
	PostMessage(frame string) error
}

// HostBridgeFunc adapts a plain function to HostBridge.
type HostBridgeFunc func(frame string) error

// PostMessage implements HostBridge.
func (f HostBridgeFunc) PostMessage(frame string) error {
	return f(frame)
}

// EmbeddedTransport implements Transport on top of a HostBridge.
//
// Frames the host delivers before a receiver is registered are buffered in
// arrival order and flushed, still in order, once OnFrame is called. This covers
// the window between host injection and UI initialization.
type EmbeddedTransport struct {
	host   HostBridge
	logger Logger

	// deliverMu serializes delivery so frames reach the receiver in arrival order.
	deliverMu   sync.Mutex
	receiver    func(frame string)
	buffered    []string
	maxBuffered int

	closed atomic.Bool
}

// NewEmbeddedTransport wraps the host primitive. The host must route inbound
// frames to Deliver.
func NewEmbeddedTransport(host HostBridge, logger Logger) *EmbeddedTransport {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &EmbeddedTransport{
		host:        host,
		logger:      logger.With("transport", TransportEmbedded),
		maxBuffered: DefaultMaxBufferedFrames,
	}
}

// Kind implements Kinded.
func (t *EmbeddedTransport) Kind() TransportKind {
	return TransportEmbedded
}

// Send forwards the frame to the host primitive.
func (t *EmbeddedTransport) Send(frame string) error {
	if t.closed.Load() {
		return NewDisconnectedError("send")
	}
	if t.host == nil {
		return NewDisconnectedError("send")
	}
	if err := t.host.PostMessage(frame); err != nil {
		return NewDisconnectedErrorWithCause("send", err)
	}
	return nil
}

// Deliver is invoked by the host for every inbound frame.
func (t *EmbeddedTransport) Deliver(frame string) {
	if t.closed.Load() {
		return
	}

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	if t.receiver == nil {
		if len(t.buffered) >= t.maxBuffered {
			t.logger.Warn("Dropping inbound frame, no receiver attached",
				"buffered", len(t.buffered))
			return
		}
		t.buffered = append(t.buffered, frame)
		return
	}
	t.dispatch(t.receiver, frame)
}

// OnFrame registers the receiver and flushes any buffered frames to it.
func (t *EmbeddedTransport) OnFrame(receiver func(frame string)) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.receiver = receiver
	if receiver == nil || len(t.buffered) == 0 {
		return
	}

	pending := t.buffered
	t.buffered = nil
	t.logger.Debug("Flushing buffered frames", "count", len(pending))
	for _, frame := range pending {
		if t.closed.Load() {
			return
		}
		t.dispatch(receiver, frame)
	}
}

func (t *EmbeddedTransport) dispatch(receiver func(string), frame string) {
	if t.closed.Load() {
		return
	}
	safeCall(t.logger, "frame receiver", func() { receiver(frame) })
}

// IsConnected reports true until the transport is closed.
func (t *EmbeddedTransport) IsConnected() bool {
	return !t.closed.Load()
}

// State implements ConnectionNotifier. The state never changes while open.
func (t *EmbeddedTransport) State() ConnectionState {
	if t.closed.Load() {
		return StateDisconnected
	}
	return StateConnected
}

// OnConnectionChange implements ConnectionNotifier. The embedded bridge has no
// transitions to report, so the listener is never called.
func (t *EmbeddedTransport) OnConnectionChange(listener func(ConnectionState)) func() {
	return func() {}
}

// Close stops delivery. It does not take deliverMu, so a receiver may close the
// transport from inside a delivery.
func (t *EmbeddedTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.logger.Debug("Embedded transport closed")
	}
	return nil
}
