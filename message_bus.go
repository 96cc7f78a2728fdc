// message_bus.go: request/response correlation and notification fan-out
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/oklog/ulid/v2"
)

// DefaultRequestTimeout bounds how long a request waits for its response.
const DefaultRequestTimeout = 5 * time.Second

// BusOptions configures a MessageBus.
type BusOptions struct {
	RequestTimeout time.Duration
	Logger         Logger
	Metrics        MetricsCollector
}

// NotificationListener receives the params of a notification.
type NotificationListener func(params json.RawMessage)

type notificationListener struct {
	id uint64
	fn NotificationListener
}

// MessageBus sits on one Transport. It assigns correlation ids to requests,
// resolves them when the matching response arrives, and dispatches id-less
// frames to the listeners registered for their method.
type MessageBus struct {
	transport Transport
	tracker   *RequestTracker
	logger    Logger
	metrics   MetricsCollector
	id        ulid.ULID

	timeout atomic.Int64 // nanoseconds

	listenersMu sync.RWMutex
	listeners   map[string][]notificationListener
	nextListen  uint64

	closed atomic.Bool
}

// NewMessageBus attaches a bus to the transport and takes over its frame receiver.
func NewMessageBus(transport Transport, opts BusOptions) *MessageBus {
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	id := ulid.Make()
	bus := &MessageBus{
		transport: transport,
		tracker:   NewRequestTracker(),
		logger:    opts.Logger.With("bus_id", id.String()),
		metrics:   metricsOrNoOp(opts.Metrics),
		id:        id,
		listeners: make(map[string][]notificationListener),
	}
	bus.timeout.Store(int64(opts.RequestTimeout))
	transport.OnFrame(bus.handleFrame)
	return bus
}

// ID returns the bus instance id used in log context.
func (b *MessageBus) ID() string {
	return b.id.String()
}

// SetRequestTimeout changes the timeout applied to subsequent requests.
func (b *MessageBus) SetRequestTimeout(timeout time.Duration) {
	if timeout > 0 {
		b.timeout.Store(int64(timeout))
	}
}

// RequestTimeout returns the timeout applied to new requests.
func (b *MessageBus) RequestTimeout() time.Duration {
	return time.Duration(b.timeout.Load())
}

// Request sends method with params and waits for the matching response.
//
// It fails with a timeout error when no response arrives in time, a disconnected
// error when the frame cannot be sent, the engine error when the response carries
// one, and ctx.Err() when ctx ends first. The pending entry is removed on every path.
func (b *MessageBus) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	started := timecache.CachedTimeNano()
	result, err := b.request(ctx, method, params)

	elapsed := time.Duration(timecache.CachedTimeNano() - started)
	b.metrics.IncrementCounter(MetricRequestsTotal, map[string]string{"method": method, "status": requestStatus(err)}, 1)
	b.metrics.RecordHistogram(MetricRequestSeconds, map[string]string{"method": method}, elapsed.Seconds())
	b.metrics.SetGauge(MetricPendingRequests, nil, float64(b.tracker.Count()))
	return result, err
}

func (b *MessageBus) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if b.closed.Load() {
		return nil, NewBusClosedError()
	}

	timeout := b.RequestTimeout()
	req := b.tracker.start(method, timeout, func(id uint64) {
		if settled, ok := b.tracker.settle(id, requestOutcome{err: NewTimeoutError(method, timeout.String())}); ok {
			b.logger.Warn("Request timed out", "id", id, "method", method, "timeout", timeout, "elapsed", settled.elapsed())
		}
	})

	frame, err := encodeRequest(req.id, method, params)
	if err != nil {
		b.tracker.settle(req.id, requestOutcome{err: err})
		<-req.done
		return nil, err
	}

	if err := b.transport.Send(frame); err != nil {
		b.tracker.settle(req.id, requestOutcome{err: err})
		<-req.done
		return nil, err
	}
	b.logger.Debug("Request sent", "id", req.id, "method", method)

	select {
	case outcome := <-req.done:
		return outcome.result, outcome.err
	case <-ctx.Done():
		if _, ok := b.tracker.settle(req.id, requestOutcome{err: ctx.Err()}); ok {
			<-req.done
			return nil, ctx.Err()
		}
		// settled concurrently; report what actually happened
		outcome := <-req.done
		return outcome.result, outcome.err
	}
}

// Call is Request followed by decoding the result into out. A nil out discards the result.
func (b *MessageBus) Call(ctx context.Context, method string, params any, out any) error {
	result, err := b.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return NewProtocolError("failed to decode "+method+" result", err)
	}
	return nil
}

// On registers a listener for a notification event. The returned function removes
// exactly this registration; calling it more than once is harmless.
func (b *MessageBus) On(event string, listener NotificationListener) (unsubscribe func()) {
	b.listenersMu.Lock()
	b.nextListen++
	id := b.nextListen
	b.listeners[event] = append(b.listeners[event], notificationListener{id: id, fn: listener})
	b.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.removeListener(event, id) })
	}
}

func (b *MessageBus) removeListener(event string, id uint64) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()

	current := b.listeners[event]
	for i, l := range current {
		if l.id == id {
			next := make([]notificationListener, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			if len(next) == 0 {
				delete(b.listeners, event)
			} else {
				b.listeners[event] = next
			}
			return
		}
	}
}

// ListenerCount returns the number of listeners registered for event.
func (b *MessageBus) ListenerCount(event string) int {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()
	return len(b.listeners[event])
}

// handleFrame routes one inbound frame. Malformed or unroutable frames are logged and dropped.
func (b *MessageBus) handleFrame(raw string) {
	if b.closed.Load() {
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		b.logger.Warn("Dropping unparseable frame", "error", err, "size", len(raw))
		b.countDropped("unparseable")
		return
	}

	switch {
	case frame.ID != nil && b.tracker.has(*frame.ID):
		b.resolve(*frame.ID, frame)
	case frame.ID == nil && frame.Method != "":
		b.dispatch(frame.Method, frame.Params)
	case frame.ID != nil:
		b.logger.Warn("Dropping response for unknown request", "id", *frame.ID)
		b.countDropped("unknown_id")
	default:
		b.logger.Warn("Dropping frame without id or method", "size", len(raw))
		b.countDropped("unroutable")
	}
}

func (b *MessageBus) countDropped(reason string) {
	b.metrics.IncrementCounter(MetricDroppedFramesTotal, map[string]string{"reason": reason}, 1)
}

func (b *MessageBus) resolve(id uint64, frame inboundFrame) {
	outcome := requestOutcome{result: frame.Result}
	if frame.Error != nil {
		outcome = requestOutcome{err: frame.Error}
	}
	req, ok := b.tracker.settle(id, outcome)
	if !ok {
		return
	}
	b.logger.Debug("Response received",
		"id", id,
		"method", req.method,
		"elapsed", req.elapsed(),
		"error", frame.Error != nil)
}

func (b *MessageBus) dispatch(event string, params json.RawMessage) {
	b.listenersMu.RLock()
	listeners := b.listeners[event]
	b.listenersMu.RUnlock()

	b.metrics.IncrementCounter(MetricNotificationsTotal, map[string]string{"event": event}, 1)
	if len(listeners) == 0 {
		b.logger.Debug("Notification without listeners", "event", event)
		return
	}
	for _, l := range listeners {
		if b.closed.Load() {
			return
		}
		fn := l.fn
		safeCall(b.logger, event, func() { fn(params) })
	}
}

// IsConnected delegates to the transport.
func (b *MessageBus) IsConnected() bool {
	return b.transport.IsConnected()
}

// Transport returns the underlying transport.
func (b *MessageBus) Transport() Transport {
	return b.transport
}

// PendingCount returns the number of requests awaiting a response.
func (b *MessageBus) PendingCount() int {
	return b.tracker.Count()
}

// Close rejects pending requests, drops all listeners and closes the transport.
func (b *MessageBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	rejected := b.tracker.drain(NewBusClosedError())

	b.listenersMu.Lock()
	b.listeners = make(map[string][]notificationListener)
	b.listenersMu.Unlock()

	b.logger.Debug("Message bus closed", "rejected_requests", rejected)
	return b.transport.Close()
}
