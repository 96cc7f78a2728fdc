// connection_status.go: reactive projection of transport connectivity
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// DefaultStatusPollInterval is used for transports that do not push state changes.
const DefaultStatusPollInterval = 1 * time.Second

// ConnectionInfo is what status indicators render.
type ConnectionInfo struct {
	Connected bool
	State     ConnectionState
	Transport TransportKind
	Since     time.Time
}

// StatusOptions configures ConnectionStatus.
type StatusOptions struct {
	PollInterval time.Duration
	Logger       Logger
}

// ConnectionStatus follows a transport's connectivity. It listens to
// ConnectionNotifier events when the transport offers them and otherwise polls
// IsConnected at a low frequency.
type ConnectionStatus struct {
	transport Transport
	kind      TransportKind
	logger    Logger
	interval  time.Duration

	mu        sync.Mutex
	info      ConnectionInfo
	seq       uint64
	listeners stateListeners
	detach    func()

	running  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
	closed   atomic.Bool
}

// NewConnectionStatus creates the projection. Call Start to begin tracking.
func NewConnectionStatus(transport Transport, opts StatusOptions) *ConnectionStatus {
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultStatusPollInterval
	}
	kind := transportKind(transport)
	s := &ConnectionStatus{
		transport: transport,
		kind:      kind,
		logger:    opts.Logger,
		interval:  opts.PollInterval,
	}
	s.info = ConnectionInfo{
		State:     currentState(transport),
		Transport: kind,
		Since:     timecache.CachedTime(),
	}
	s.info.Connected = s.info.State == StateConnected
	return s
}

func currentState(t Transport) ConnectionState {
	if n, ok := t.(ConnectionNotifier); ok {
		return n.State()
	}
	if t.IsConnected() {
		return StateConnected
	}
	return StateConnecting
}

// Start begins tracking. It is a no-op when already running.
func (s *ConnectionStatus) Start() {
	if s.closed.Load() || !s.running.CompareAndSwap(false, true) {
		return
	}

	if n, ok := s.transport.(ConnectionNotifier); ok {
		// events trigger a fresh read of the transport state
		detach := n.OnConnectionChange(func(ConnectionState) { s.apply(n.State) })
		s.mu.Lock()
		s.detach = detach
		s.mu.Unlock()
		// catch a transition that happened before the listener was attached
		s.apply(n.State)
		return
	}

	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	SafeGo(s.logger, s.poll)
}

func (s *ConnectionStatus) poll() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.check()
	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stopChan:
			return
		}
	}
}

func (s *ConnectionStatus) check() {
	if s.transport.IsConnected() {
		s.update(StateConnected)
		return
	}
	s.update(StateDisconnected)
}

func (s *ConnectionStatus) update(state ConnectionState) {
	s.apply(func() ConnectionState { return state })
}

// apply reads the state under mu and notifies listeners of a change. A newer
// change stops the delivery of an older one, so the last state a listener
// sees is the current one.
func (s *ConnectionStatus) apply(read func() ConnectionState) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	state := read()
	if s.info.State == state {
		s.mu.Unlock()
		return
	}
	s.info = ConnectionInfo{
		Connected: state == StateConnected,
		State:     state,
		Transport: s.kind,
		Since:     timecache.CachedTime(),
	}
	s.seq++
	seq := s.seq
	listeners := s.listeners.snapshot()
	s.mu.Unlock()

	s.logger.Debug("Connection status changed", "state", state, "transport", s.kind)
	for _, l := range listeners {
		if s.closed.Load() || s.superseded(seq) {
			return
		}
		l := l
		safeCall(s.logger, "status listener", func() { l(state) })
	}
}

func (s *ConnectionStatus) superseded(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq != seq
}

// Snapshot returns the current connection info.
func (s *ConnectionStatus) Snapshot() ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// IsConnected reports the projected connectivity.
func (s *ConnectionStatus) IsConnected() bool {
	return s.Snapshot().Connected
}

// Subscribe registers a listener for state transitions.
func (s *ConnectionStatus) Subscribe(listener func(ConnectionState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.listeners.add(listener)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.listeners.remove(id)
			s.mu.Unlock()
		})
	}
}

// Close stops tracking and drops all listeners.
func (s *ConnectionStatus) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.listeners = stateListeners{}
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	// the poll loop checks closed before notifying, so there is no need to wait
	// for it here; waiting would deadlock a listener that closes the status
	if s.stopChan != nil {
		close(s.stopChan)
	}
}
