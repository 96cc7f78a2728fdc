// parameter_store.go: reactive parameter state with optimistic writes and push merging
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"context"
	"sync"
	"time"
)

// Store defaults.
const (
	DefaultFetchRetries   = 3
	DefaultFetchBaseDelay = 500 * time.Millisecond
	DefaultConnectTimeout = 15 * time.Second
)

// Phase is the data half of the store state.
type Phase int

const (
	PhaseNoData Phase = iota
	PhaseLoading
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseNoData:
		return "no-data"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// StoreSnapshot is an immutable view of the store. Parameters is never mutated
// in place; a snapshot with the same Version holds the same slice.
type StoreSnapshot struct {
	Connection ConnectionState
	Phase      Phase
	Parameters ParameterList
	Err        error
	Version    uint64
}

// StoreListener receives snapshots after every change.
type StoreListener func(StoreSnapshot)

// StoreOptions configures a ParameterStore.
type StoreOptions struct {
	// FetchRetries is the number of retries after a failed full fetch. Zero
	// selects DefaultFetchRetries; a negative value disables retrying.
	FetchRetries int

	// FetchBaseDelay is the first retry delay; it doubles per retry.
	FetchBaseDelay time.Duration

	// ConnectTimeout is how long Start waits for a first connection before
	// reporting a terminal error.
	ConnectTimeout time.Duration

	Logger  Logger
	Metrics MetricsCollector
}

func (o *StoreOptions) applyDefaults() {
	if o.FetchRetries < 0 {
		o.FetchRetries = 0
	} else if o.FetchRetries == 0 {
		o.FetchRetries = DefaultFetchRetries
	}
	if o.FetchBaseDelay <= 0 {
		o.FetchBaseDelay = DefaultFetchBaseDelay
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
}

type storeListener struct {
	id uint64
	fn StoreListener
}

// ParameterStore owns the parameter collection that UI surfaces render.
//
// It loads the collection whenever the connection comes up, applies local writes
// optimistically, merges pushed value changes and refetches on topology changes.
// Every decision is taken against the state held at that moment under mu, so
// completions may arrive in any order.
type ParameterStore struct {
	client  *ParameterClient
	status  *ConnectionStatus
	logger  Logger
	metrics MetricsCollector

	connectTimeout time.Duration

	mu             sync.Mutex
	lifecycle      storeLifecycle
	connection     ConnectionState
	phase          Phase
	params         ParameterList
	err            error
	version        uint64
	notified       uint64
	everConnected  bool
	connectTimer   *time.Timer
	fetch          fetchState
	generation     uint64
	fetchCancel    context.CancelFunc
	fetchRetries   int
	fetchBaseDelay time.Duration
	listeners      []storeListener
	nextListener   uint64
	unsubscribers  []func()
	ctx            context.Context
	cancel         context.CancelFunc

	// notify wakes the notifier goroutine, which is the only caller of listeners.
	notify chan struct{}
}

type storeLifecycle int

const (
	storeCreated storeLifecycle = iota
	storeMounted
	storeClosed
)

// NewParameterStore creates a store bound to client and status. Call Start to mount it.
func NewParameterStore(client *ParameterClient, status *ConnectionStatus, opts StoreOptions) *ParameterStore {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &ParameterStore{
		client:         client,
		status:         status,
		logger:         opts.Logger.With("component", "parameter_store"),
		metrics:        metricsOrNoOp(opts.Metrics),
		connectTimeout: opts.ConnectTimeout,
		connection:     StateConnecting,
		phase:          PhaseNoData,
		fetchRetries:   opts.FetchRetries,
		fetchBaseDelay: opts.FetchBaseDelay,
		ctx:            ctx,
		cancel:         cancel,
		notify:         make(chan struct{}, 1),
	}
}

// Start mounts the store: it arms the connect timeout, subscribes to connection
// and parameter notifications, and fetches immediately if already connected.
func (s *ParameterStore) Start() {
	s.mu.Lock()
	if s.lifecycle != storeCreated {
		s.mu.Unlock()
		return
	}
	s.lifecycle = storeMounted
	s.phase = PhaseLoading
	s.connectTimer = time.AfterFunc(s.connectTimeout, s.onConnectTimeout)
	s.bump()
	s.mu.Unlock()

	SafeGo(s.logger, s.notifyLoop)

	s.status.Start()
	unsubscribers := []func(){
		s.status.Subscribe(s.onConnection),
		s.client.OnParameterChanged(s.onParameterChanged),
		s.client.OnParametersChanged(s.onTopologyChanged),
	}

	s.mu.Lock()
	if s.lifecycle != storeMounted {
		s.mu.Unlock()
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
		return
	}
	s.unsubscribers = unsubscribers
	s.mu.Unlock()

	s.logger.Debug("Parameter store mounted", "connect_timeout", s.connectTimeout)
	s.publish()
	s.onConnection(s.status.Snapshot().State)
}

// Close unmounts the store. Timers stop, in-flight fetches and writes are
// cancelled and no listener is called afterwards. Close is idempotent.
func (s *ParameterStore) Close() {
	s.mu.Lock()
	if s.lifecycle == storeClosed {
		s.mu.Unlock()
		return
	}
	s.lifecycle = storeClosed
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	s.cancelFetch()
	unsubscribers := s.unsubscribers
	s.unsubscribers = nil
	s.listeners = nil
	s.mu.Unlock()

	s.cancel()
	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	s.logger.Debug("Parameter store closed")
}

// Snapshot returns the current state.
func (s *ParameterStore) Snapshot() StoreSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ParameterStore) snapshotLocked() StoreSnapshot {
	return StoreSnapshot{
		Connection: s.connection,
		Phase:      s.phase,
		Parameters: s.params,
		Err:        s.err,
		Version:    s.version,
	}
}

// Parameter returns the stored entry for id.
func (s *ParameterStore) Parameter(id ParameterID) (ParameterInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Find(id)
}

// Subscribe registers a listener called with each new snapshot. Snapshots may be
// coalesced; a listener always ends up seeing the latest one.
func (s *ParameterStore) Subscribe(listener StoreListener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, storeListener{id: id, fn: listener})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// SetFetchPolicy changes the retry policy used by fetches started afterwards.
// Retries and baseDelay follow StoreOptions: zero keeps the current value and
// negative retries disable retrying.
func (s *ParameterStore) SetFetchPolicy(retries int, baseDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case retries < 0:
		s.fetchRetries = 0
	case retries > 0:
		s.fetchRetries = retries
	}
	if baseDelay > 0 {
		s.fetchBaseDelay = baseDelay
	}
}

// SetParameter writes value optimistically.
//
// The stored value changes before the engine answers. When the write fails the
// previous value is restored only if the stored value is still the one this call
// wrote; a value pushed in the meantime wins. The write error is returned either way.
func (s *ParameterStore) SetParameter(ctx context.Context, id ParameterID, value any) error {
	s.mu.Lock()
	if s.lifecycle != storeMounted {
		s.mu.Unlock()
		return NewStoreClosedError("set parameter")
	}
	current, known := s.params.Find(id)
	var previous, optimistic any
	if known {
		previous = current.Value
		optimistic = NormalizeValue(current.Type, value)
		if next, changed := s.params.withValue(id, optimistic); changed {
			s.params = next
			s.bump()
		}
	}
	s.mu.Unlock()
	s.publish()

	// Close cancels the write along with the store
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	err := s.client.SetParameter(writeCtx, id, value)
	s.metrics.IncrementCounter(MetricWritesTotal, map[string]string{"status": requestStatus(err)}, 1)

	s.mu.Lock()
	if s.lifecycle != storeMounted {
		s.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			return NewStoreClosedError("set parameter")
		}
		return err
	}
	if err == nil {
		s.clearErrorLocked()
		s.mu.Unlock()
		s.publish()
		return nil
	}
	if known {
		s.rollbackLocked(id, previous, optimistic)
	}
	s.mu.Unlock()
	s.publish()

	s.logger.Warn("Parameter write failed", "parameter_id", id, "error", err)
	return err
}

// rollbackLocked restores previous unless the stored value moved away from optimistic.
func (s *ParameterStore) rollbackLocked(id ParameterID, previous, optimistic any) {
	current, ok := s.params.Find(id)
	if !ok {
		return
	}
	if !ValuesEqual(current.Value, optimistic) {
		s.logger.Debug("Skipping rollback, value changed while write was in flight",
			"parameter_id", id, "current", current.Value, "written", optimistic)
		return
	}
	if next, changed := s.params.withValue(id, previous); changed {
		s.params = next
		s.bump()
		s.logger.Debug("Rolled back parameter", "parameter_id", id, "value", previous)
	}
}

func (s *ParameterStore) clearErrorLocked() {
	if s.err == nil {
		return
	}
	s.err = nil
	if s.phase == PhaseError {
		if s.params != nil {
			s.phase = PhaseReady
		} else {
			s.phase = PhaseLoading
		}
	}
	s.bump()
}

func (s *ParameterStore) onParameterChanged(id ParameterID, value float64) {
	s.mu.Lock()
	if s.lifecycle != storeMounted {
		s.mu.Unlock()
		return
	}
	next, changed := s.params.withValue(id, value)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.params = next
	s.bump()
	s.mu.Unlock()
	s.publish()
}

func (s *ParameterStore) onTopologyChanged() {
	s.logger.Info("Parameter topology changed, refetching")
	// the fetch is started from its own goroutine, never from inside the bus dispatch
	SafeGo(s.logger, func() { s.startFetch("topology changed", true) })
}

// Refetch reloads the whole collection, superseding any fetch in flight.
func (s *ParameterStore) Refetch() error {
	if !s.client.IsConnected() {
		return NewDisconnectedError("refetch")
	}
	s.mu.Lock()
	mounted := s.lifecycle == storeMounted
	s.mu.Unlock()
	if !mounted {
		return NewStoreClosedError("refetch")
	}
	s.startFetch("manual refetch", true)
	return nil
}

func (s *ParameterStore) onConnection(state ConnectionState) {
	s.mu.Lock()
	if s.lifecycle != storeMounted || s.connection == state {
		s.mu.Unlock()
		return
	}
	s.connection = state
	s.bump()

	connected := state == StateConnected
	if connected {
		s.everConnected = true
		if s.connectTimer != nil {
			s.connectTimer.Stop()
			s.connectTimer = nil
		}
	} else if s.fetch != fetchIdle {
		// the disconnect is now the active condition, not the fetch
		s.abandonFetchLocked()
	}
	s.mu.Unlock()
	s.publish()

	if connected {
		s.startFetch("connected", false)
	}
}

func (s *ParameterStore) onConnectTimeout() {
	s.mu.Lock()
	if s.lifecycle != storeMounted || s.everConnected {
		s.mu.Unlock()
		return
	}
	s.connectTimer = nil
	s.phase = PhaseError
	s.err = NewConnectTimeoutError(s.connectTimeout.String())
	s.bump()
	s.mu.Unlock()

	s.logger.Error("No connection established", "timeout", s.connectTimeout)
	s.publish()
}

// bump records a state change; the caller holds mu.
func (s *ParameterStore) bump() {
	s.version++
}

// publish schedules delivery of the latest snapshot. Listeners run on the store's
// notifier goroutine, never on the caller's, so a listener may call back into the
// store or issue requests.
func (s *ParameterStore) publish() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *ParameterStore) notifyLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
			s.deliverPending()
		}
	}
}

// deliverPending calls listeners until they have seen the current version.
func (s *ParameterStore) deliverPending() {
	for {
		s.mu.Lock()
		if s.lifecycle == storeClosed || s.version == s.notified {
			s.mu.Unlock()
			return
		}
		snapshot := s.snapshotLocked()
		listeners := append([]storeListener(nil), s.listeners...)
		s.notified = s.version
		s.mu.Unlock()

		for _, l := range listeners {
			if s.isClosed() {
				return
			}
			fn := l.fn
			safeCall(s.logger, "store listener", func() { fn(snapshot) })
		}
	}
}

func (s *ParameterStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle == storeClosed
}
