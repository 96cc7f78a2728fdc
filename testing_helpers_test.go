// testing_helpers_test.go: engine doubles, transports and assertion helpers for tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestEnvironment provides temp files and cleanup for tests
type TestEnvironment struct {
	t       *testing.T
	cleanup []func()
	mu      sync.Mutex
}

// NewTestEnvironment creates a new test environment with automatic cleanup
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	env := &TestEnvironment{t: t}
	t.Cleanup(env.Cleanup)
	return env
}

// CreateTempFile creates a file with the given name and content in a fresh temp dir
func (te *TestEnvironment) CreateTempFile(name, content string) string {
	te.t.Helper()
	path := filepath.Join(te.t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		te.t.Fatalf("Failed to create temp file %s: %v", path, err)
	}
	return path
}

// AddCleanupFunc adds a custom cleanup function
func (te *TestEnvironment) AddCleanupFunc(fn func()) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.cleanup = append(te.cleanup, fn)
}

// Cleanup runs cleanup functions in reverse registration order
func (te *TestEnvironment) Cleanup() {
	te.mu.Lock()
	cleanup := te.cleanup
	te.cleanup = nil
	te.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
}

// MockEngine answers protocol requests from an in-memory parameter set.
type MockEngine struct {
	mu             sync.Mutex
	params         []ParameterInfo
	calls          map[string]int
	getAllFailures int
	getAllCode     int
	setError       *RPCError
	setGate        chan struct{}
	getAllGate     chan struct{}
	silent         map[string]bool
}

// NewMockEngine creates an engine exposing params.
func NewMockEngine(params ...ParameterInfo) *MockEngine {
	return &MockEngine{
		params: append([]ParameterInfo(nil), params...),
		calls:  make(map[string]int),
		silent: make(map[string]bool),
	}
}

// SetParameters replaces the engine's parameter set.
func (e *MockEngine) SetParameters(params ...ParameterInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = append([]ParameterInfo(nil), params...)
}

// Calls returns how many requests for method were received.
func (e *MockEngine) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

// FailGetAll makes the next n getAllParameters requests fail with an internal error.
func (e *MockEngine) FailGetAll(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.getAllFailures = n
	e.getAllCode = RPCCodeInternalError
}

// RejectSet makes setParameter requests fail with the given error until cleared with nil.
func (e *MockEngine) RejectSet(rpcErr *RPCError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setError = rpcErr
}

// HoldSet blocks setParameter answers until the returned release func is called.
func (e *MockEngine) HoldSet() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.setGate = gate
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			if e.setGate == gate {
				e.setGate = nil
			}
			e.mu.Unlock()
			close(gate)
		})
	}
}

// HoldGetAll holds the answer to the next getAllParameters request until the
// returned release func is called. The answer reflects the parameters at the
// time the request arrived.
func (e *MockEngine) HoldGetAll() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.getAllGate = gate
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// Silence stops the engine from answering method.
func (e *MockEngine) Silence(method string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silent[method] = true
}

// Value returns the engine-side value of id.
func (e *MockEngine) Value(id ParameterID) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.params {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// Handle answers one request frame. It reports false when no response is due.
func (e *MockEngine) Handle(frame string) (string, bool) {
	req, params, err := DecodeRequest(frame)
	if err != nil {
		return "", false
	}

	e.mu.Lock()
	e.calls[req.Method]++
	silent := e.silent[req.Method]
	gate := e.setGate
	var getAllGate chan struct{}
	if req.Method == MethodGetAllParameters {
		getAllGate, e.getAllGate = e.getAllGate, nil
	}
	e.mu.Unlock()

	if silent {
		return "", false
	}
	if req.Method == MethodSetParameter && gate != nil {
		<-gate
	}

	result, rpcErr := e.answer(req.Method, params)
	if getAllGate != nil {
		<-getAllGate
	}
	response, err := EncodeResponse(req.ID, result, rpcErr)
	if err != nil {
		return "", false
	}
	return response, true
}

func (e *MockEngine) answer(method string, raw json.RawMessage) (any, *RPCError) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch method {
	case MethodPing:
		return pingResult{Pong: true}, nil

	case MethodGetAllParameters:
		if e.getAllFailures > 0 {
			e.getAllFailures--
			return nil, &RPCError{Code: e.getAllCode, Message: "engine busy"}
		}
		return getAllParametersResult{Parameters: append([]ParameterInfo(nil), e.params...)}, nil

	case MethodGetParameter:
		var params getParameterParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &RPCError{Code: RPCCodeInvalidParams, Message: err.Error()}
		}
		for _, p := range e.params {
			if p.ID == params.ID {
				return ParameterValue{ID: p.ID, Value: mustWire(p.Value)}, nil
			}
		}
		return nil, &RPCError{Code: RPCCodeParamNotFound, Message: "unknown parameter " + string(params.ID)}

	case MethodSetParameter:
		if e.setError != nil {
			return nil, e.setError
		}
		var params setParameterParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &RPCError{Code: RPCCodeInvalidParams, Message: err.Error()}
		}
		for i, p := range e.params {
			if p.ID == params.ID {
				if p.Type != ParamTypeBool && (params.Value < p.Min || params.Value > p.Max) {
					return nil, &RPCError{Code: RPCCodeParamOutOfRange, Message: "value out of range"}
				}
				e.params[i].Value = params.Value
				return struct{}{}, nil
			}
		}
		return nil, &RPCError{Code: RPCCodeParamNotFound, Message: "unknown parameter " + string(params.ID)}

	default:
		return nil, &RPCError{Code: RPCCodeMethodNotFound, Message: "method not found: " + method}
	}
}

func mustWire(v any) float64 {
	f, err := WireValue(v)
	if err != nil {
		return 0
	}
	return f
}

// fakeTransport is an in-memory Transport and ConnectionNotifier backed by a MockEngine.
// Responses are delivered from their own goroutine, like a real socket read loop.
type fakeTransport struct {
	engine *MockEngine

	mu        sync.Mutex
	receiver  func(string)
	state     ConnectionState
	listeners stateListeners
	sent      []string
	closed    bool
}

func newFakeTransport(engine *MockEngine, state ConnectionState) *fakeTransport {
	return &fakeTransport{engine: engine, state: state}
}

func (t *fakeTransport) Kind() TransportKind { return TransportSocket }

func (t *fakeTransport) Send(frame string) error {
	t.mu.Lock()
	if t.closed || t.state != StateConnected {
		t.mu.Unlock()
		return NewDisconnectedError("send")
	}
	t.sent = append(t.sent, frame)
	t.mu.Unlock()

	if t.engine != nil {
		go func() {
			if response, ok := t.engine.Handle(frame); ok {
				t.deliver(response)
			}
		}()
	}
	return nil
}

func (t *fakeTransport) deliver(frame string) {
	t.mu.Lock()
	receiver := t.receiver
	closed := t.closed
	t.mu.Unlock()
	if receiver != nil && !closed {
		receiver(frame)
	}
}

// Push delivers a notification synchronously.
func (t *fakeTransport) Push(method string, params any) {
	frame, err := EncodeNotification(method, params)
	if err != nil {
		panic(err)
	}
	t.deliver(frame)
}

func (t *fakeTransport) OnFrame(receiver func(string)) {
	t.mu.Lock()
	t.receiver = receiver
	t.mu.Unlock()
}

func (t *fakeTransport) IsConnected() bool {
	return t.State() == StateConnected
}

func (t *fakeTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) SetState(state ConnectionState) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	listeners := t.listeners.snapshot()
	t.mu.Unlock()
	for _, l := range listeners {
		l(state)
	}
}

func (t *fakeTransport) OnConnectionChange(listener func(ConnectionState)) func() {
	t.mu.Lock()
	id := t.listeners.add(listener)
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.listeners.remove(id)
		t.mu.Unlock()
	}
}

func (t *fakeTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.state = StateDisconnected
	t.mu.Unlock()
	return nil
}

// pollingTransport exposes only the base Transport contract, without state events.
type pollingTransport struct {
	mu        sync.Mutex
	connected bool
}

func (t *pollingTransport) Send(string) error    { return nil }
func (t *pollingTransport) OnFrame(func(string)) {}
func (t *pollingTransport) Close() error         { return nil }

func (t *pollingTransport) setConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
}

func (t *pollingTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// MockEngineServer serves a MockEngine over websocket for SocketTransport tests.
type MockEngineServer struct {
	*httptest.Server
	Engine *MockEngine

	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       map[*websocket.Conn]struct{}
	connections int
	refuse      bool
}

// NewMockEngineServer starts a websocket engine server closed at test cleanup.
func NewMockEngineServer(t *testing.T, engine *MockEngine) *MockEngineServer {
	t.Helper()
	s := &MockEngineServer{
		Engine: engine,
		conns:  make(map[*websocket.Conn]struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *MockEngineServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Connections returns how many websocket sessions were accepted.
func (s *MockEngineServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Refuse makes the server reject new upgrades with 503.
func (s *MockEngineServer) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// DropAll closes every open websocket session.
func (s *MockEngineServer) DropAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Push writes a notification to every open session.
func (s *MockEngineServer) Push(method string, params any) {
	frame, err := EncodeNotification(method, params)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

// Close drops sessions and stops the server.
func (s *MockEngineServer) Close() {
	s.DropAll()
	s.Server.Close()
}

func (s *MockEngineServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.connections++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame := string(message)
		go func() {
			response, ok := s.Engine.Handle(frame)
			if !ok {
				return
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, open := s.conns[conn]; open {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(response))
			}
		}()
	}
}

// testParameters returns a gain (float) and bypass (bool) parameter pair.
func testParameters() []ParameterInfo {
	return []ParameterInfo{
		{ID: "gain", Name: "Gain", Type: ParamTypeFloat, Value: 0.5, Default: 0.5, Min: 0, Max: 1, Unit: "dB", Group: "Input"},
		{ID: "bypass", Name: "Bypass", Type: ParamTypeBool, Value: false, Default: false, Min: 0, Max: 1},
	}
}

// TestAssertions provides enhanced test assertion helpers
type TestAssertions struct {
	t *testing.T
}

// NewTestAssertions creates new test assertion helper
func NewTestAssertions(t *testing.T) *TestAssertions {
	return &TestAssertions{t: t}
}

// AssertNoError asserts that error is nil, with context
func (ta *TestAssertions) AssertNoError(err error, context string) {
	ta.t.Helper()
	if err != nil {
		ta.t.Fatalf("Expected no error in %s, got: %v", context, err)
	}
}

// AssertError asserts that error is not nil, with context
func (ta *TestAssertions) AssertError(err error, context string) {
	ta.t.Helper()
	if err == nil {
		ta.t.Fatalf("Expected error in %s, got nil", context)
	}
}

// AssertEqual asserts that two values are equal
func (ta *TestAssertions) AssertEqual(expected, actual interface{}, context string) {
	ta.t.Helper()
	if expected != actual {
		ta.t.Fatalf("Expected %v in %s, got %v", expected, context, actual)
	}
}

// AssertTrue asserts that condition is true
func (ta *TestAssertions) AssertTrue(condition bool, context string) {
	ta.t.Helper()
	if !condition {
		ta.t.Fatalf("Expected true condition in %s", context)
	}
}

// AssertFalse asserts that condition is false
func (ta *TestAssertions) AssertFalse(condition bool, context string) {
	ta.t.Helper()
	if condition {
		ta.t.Fatalf("Expected false condition in %s", context)
	}
}

// WaitForCondition waits for a condition to be true with timeout
func (ta *TestAssertions) WaitForCondition(condition func() bool, timeout time.Duration, message string) {
	ta.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	ta.t.Fatalf("Condition not met within %v: %s", timeout, message)
}
