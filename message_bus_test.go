// message_bus_test.go: correlation, timeout and notification routing tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newManualBus returns a bus over a connected transport that records frames and never answers.
func newManualBus(t *testing.T, timeout time.Duration) (*MessageBus, *fakeTransport, *TestLogger) {
	t.Helper()
	logger := NewTestLogger()
	transport := newFakeTransport(nil, StateConnected)
	bus := NewMessageBus(transport, BusOptions{RequestTimeout: timeout, Logger: logger})
	t.Cleanup(func() { _ = bus.Close() })
	return bus, transport, logger
}

// lastRequest waits for the n-th sent frame and decodes it.
func lastRequest(t *testing.T, transport *fakeTransport, n int) RequestFrame {
	t.Helper()
	NewTestAssertions(t).WaitForCondition(func() bool {
		return len(transport.Sent()) >= n
	}, time.Second, "request should be sent")
	req, _, err := DecodeRequest(transport.Sent()[n-1])
	require.NoError(t, err)
	return req
}

func TestMessageBus_RequestResponse(t *testing.T) {
	engine := NewMockEngine(testParameters()...)
	transport := newFakeTransport(engine, StateConnected)
	bus := NewMessageBus(transport, BusOptions{})
	defer bus.Close()

	var result getAllParametersResult
	require.NoError(t, bus.Call(t.Context(), MethodGetAllParameters, struct{}{}, &result))
	assert.Len(t, result.Parameters, 2)
	assert.Equal(t, 0, bus.PendingCount())
	assert.NotEmpty(t, bus.ID())
}

func TestMessageBus_CorrelatesOutOfOrderResponses(t *testing.T) {
	bus, transport, _ := newManualBus(t, time.Second)

	type answer struct {
		raw json.RawMessage
		err error
	}
	first := make(chan answer, 1)
	second := make(chan answer, 1)
	go func() {
		raw, err := bus.Request(t.Context(), MethodPing, nil)
		first <- answer{raw, err}
	}()
	req1 := lastRequest(t, transport, 1)
	go func() {
		raw, err := bus.Request(t.Context(), MethodPing, nil)
		second <- answer{raw, err}
	}()
	req2 := lastRequest(t, transport, 2)
	assert.NotEqual(t, req1.ID, req2.ID, "correlation ids are unique")

	resp2, _ := EncodeResponse(req2.ID, map[string]int{"n": 2}, nil)
	resp1, _ := EncodeResponse(req1.ID, map[string]int{"n": 1}, nil)
	transport.deliver(resp2)
	transport.deliver(resp1)

	a1, a2 := <-first, <-second
	require.NoError(t, a1.err)
	require.NoError(t, a2.err)
	assert.JSONEq(t, `{"n":1}`, string(a1.raw))
	assert.JSONEq(t, `{"n":2}`, string(a2.raw))
}

func TestMessageBus_EngineErrorResponse(t *testing.T) {
	bus, transport, _ := newManualBus(t, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := bus.Request(t.Context(), MethodSetParameter, setParameterParams{ID: "gain", Value: 3})
		done <- err
	}()
	req := lastRequest(t, transport, 1)
	resp, _ := EncodeResponse(req.ID, nil, &RPCError{Code: RPCCodeParamOutOfRange, Message: "too loud"})
	transport.deliver(resp)

	err := <-done
	var rpcErr *RPCError
	require.True(t, stderrors.As(err, &rpcErr))
	assert.Equal(t, RPCCodeParamOutOfRange, rpcErr.Code)
}

func TestMessageBus_TimeoutRemovesPendingEntry(t *testing.T) {
	bus, transport, logger := newManualBus(t, 30*time.Millisecond)

	start := time.Now()
	_, err := bus.Request(t.Context(), MethodPing, nil)
	assert.True(t, IsTimeout(err))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, bus.PendingCount())
	assert.True(t, logger.HasMessage("WARN", "Request timed out"))

	// a late response is dropped, not delivered to anyone
	req := lastRequest(t, transport, 1)
	resp, _ := EncodeResponse(req.ID, pingResult{Pong: true}, nil)
	transport.deliver(resp)
	assert.True(t, logger.HasMessage("WARN", "Dropping response for unknown request"))
}

func TestMessageBus_SetRequestTimeout(t *testing.T) {
	bus, _, _ := newManualBus(t, time.Hour)
	bus.SetRequestTimeout(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, bus.RequestTimeout())

	bus.SetRequestTimeout(0)
	assert.Equal(t, 20*time.Millisecond, bus.RequestTimeout(), "non-positive timeouts are ignored")

	_, err := bus.Request(t.Context(), MethodPing, nil)
	assert.True(t, IsTimeout(err))
}

func TestMessageBus_SendFailure(t *testing.T) {
	transport := newFakeTransport(nil, StateDisconnected)
	bus := NewMessageBus(transport, BusOptions{RequestTimeout: time.Hour})
	defer bus.Close()

	_, err := bus.Request(t.Context(), MethodPing, nil)
	assert.True(t, IsDisconnected(err))
	assert.Equal(t, 0, bus.PendingCount())
}

func TestMessageBus_ContextCancel(t *testing.T) {
	bus, transport, _ := newManualBus(t, time.Hour)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := bus.Request(ctx, MethodPing, nil)
		done <- err
	}()
	lastRequest(t, transport, 1)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, bus.PendingCount())
}

func TestMessageBus_MalformedFramesDropped(t *testing.T) {
	bus, transport, logger := newManualBus(t, time.Second)
	calls := 0
	bus.On(EventParametersChanged, func(json.RawMessage) { calls++ })

	transport.deliver("not json")
	transport.deliver(`{"jsonrpc":"2.0"}`)
	transport.deliver(`{"jsonrpc":"2.0","id":999,"result":{}}`)

	assert.True(t, logger.HasMessage("WARN", "Dropping unparseable frame"))
	assert.True(t, logger.HasMessage("WARN", "Dropping frame without id or method"))
	assert.True(t, logger.HasMessage("WARN", "Dropping response for unknown request"))
	assert.Equal(t, 0, calls)
}

func TestMessageBus_NotificationFanOut(t *testing.T) {
	bus, transport, _ := newManualBus(t, time.Second)

	var got []string
	bus.On(EventParameterChanged, func(params json.RawMessage) { got = append(got, "a:"+string(params)) })
	bus.On(EventParameterChanged, func(params json.RawMessage) { got = append(got, "b:"+string(params)) })
	bus.On(EventParametersChanged, func(json.RawMessage) { got = append(got, "topology") })

	transport.Push(EventParameterChanged, ParameterValue{ID: "gain", Value: 0.3})
	require.Len(t, got, 2)
	assert.Equal(t, `a:{"id":"gain","value":0.3}`, got[0])
	assert.Equal(t, `b:{"id":"gain","value":0.3}`, got[1])

	transport.Push(EventParametersChanged, nil)
	assert.Equal(t, "topology", got[2])

	transport.Push("unknownEvent", nil)
	assert.Len(t, got, 3)
}

func TestMessageBus_UnsubscribeRemovesExactlyOne(t *testing.T) {
	bus, transport, _ := newManualBus(t, time.Second)

	counts := make([]int, 3)
	listener := func(i int) NotificationListener {
		return func(json.RawMessage) { counts[i]++ }
	}
	bus.On(EventParameterChanged, listener(0))
	unsubscribe := bus.On(EventParameterChanged, listener(1))
	bus.On(EventParameterChanged, listener(2))
	assert.Equal(t, 3, bus.ListenerCount(EventParameterChanged))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 2, bus.ListenerCount(EventParameterChanged))

	transport.Push(EventParameterChanged, ParameterValue{ID: "gain", Value: 1})
	assert.Equal(t, []int{1, 0, 1}, counts)
}

func TestMessageBus_UnsubscribeDuringDispatch(t *testing.T) {
	bus, transport, _ := newManualBus(t, time.Second)

	calls := 0
	var unsubscribe func()
	unsubscribe = bus.On(EventParametersChanged, func(json.RawMessage) {
		calls++
		unsubscribe()
	})
	bus.On(EventParametersChanged, func(json.RawMessage) { calls++ })

	transport.Push(EventParametersChanged, nil)
	transport.Push(EventParametersChanged, nil)
	assert.Equal(t, 3, calls)
}

func TestMessageBus_ListenerPanicDoesNotStopFanOut(t *testing.T) {
	bus, transport, logger := newManualBus(t, time.Second)
	second := false
	bus.On(EventParametersChanged, func(json.RawMessage) { panic("listener bug") })
	bus.On(EventParametersChanged, func(json.RawMessage) { second = true })

	transport.Push(EventParametersChanged, nil)
	assert.True(t, second)
	assert.True(t, logger.HasMessage("ERROR", "Listener panicked"))
}

func TestMessageBus_CloseRejectsPending(t *testing.T) {
	transport := newFakeTransport(nil, StateConnected)
	bus := NewMessageBus(transport, BusOptions{RequestTimeout: time.Hour})

	const n = 3
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bus.Request(context.Background(), MethodPing, nil)
			errs <- err
		}()
	}
	NewTestAssertions(t).WaitForCondition(func() bool {
		return bus.PendingCount() == n
	}, time.Second, "requests should be pending")

	require.NoError(t, bus.Close())
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.True(t, HasErrorCode(err, ErrCodeBusClosed))
	}
	assert.False(t, transport.IsConnected(), "closing the bus closes the transport")

	_, err := bus.Request(context.Background(), MethodPing, nil)
	assert.True(t, HasErrorCode(err, ErrCodeBusClosed))
	assert.Equal(t, 0, bus.ListenerCount(EventParameterChanged))
}
