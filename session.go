// session.go: construction and lifecycle of the parameter sync stack
//
// A Session wires one transport to its bus, client, status projection and store.
// Nothing is global: each UI scope owns its session and can substitute any
// Transport for tests.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"fmt"
	"sync"
)

// SessionOptions carries collaborators that cannot come from a config file.
type SessionOptions struct {
	// Logger is any logger accepted by NewLogger; nil disables logging.
	Logger any

	// HostBridge is required for the embedded transport.
	HostBridge HostBridge

	// Transport, when set, is used instead of building one from the config.
	Transport Transport

	// Metrics receives bus and store metrics; nil discards them.
	Metrics MetricsCollector
}

// Session owns the full stack for one UI scope.
type Session struct {
	config ClientConfig
	logger Logger

	transport Transport
	bus       *MessageBus
	client    *ParameterClient
	status    *ConnectionStatus
	store     *ParameterStore

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSession validates config and builds the stack. Nothing runs until Start,
// except that a socket transport begins dialing as soon as it exists.
func NewSession(config ClientConfig, opts SessionOptions) (*Session, error) {
	config.ApplyDefaults()
	if opts.Transport == nil {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	logger := NewLogger(opts.Logger)
	transport, err := newTransport(config, opts, logger)
	if err != nil {
		return nil, err
	}

	bus := NewMessageBus(transport, BusOptions{
		RequestTimeout: config.RequestTimeout.Std(),
		Logger:         logger,
		Metrics:        opts.Metrics,
	})
	client := NewParameterClient(bus, logger)
	status := NewConnectionStatus(transport, StatusOptions{
		PollInterval: config.StatusPollInterval.Std(),
		Logger:       logger,
	})
	storeOptions := config.StoreOptions(logger)
	storeOptions.Metrics = opts.Metrics
	store := NewParameterStore(client, status, storeOptions)

	logger.Info("Session created",
		"transport", transportKind(transport),
		"endpoint", config.Endpoint,
		"bus_id", bus.ID())

	return &Session{
		config:    config,
		logger:    logger,
		transport: transport,
		bus:       bus,
		client:    client,
		status:    status,
		store:     store,
	}, nil
}

func newTransport(config ClientConfig, opts SessionOptions, logger Logger) (Transport, error) {
	if opts.Transport != nil {
		return opts.Transport, nil
	}
	switch config.Transport {
	case TransportEmbedded:
		if opts.HostBridge == nil {
			return nil, NewConfigValidationError("embedded transport requires a host bridge", nil)
		}
		return NewEmbeddedTransport(opts.HostBridge, logger), nil
	case TransportSocket:
		return NewSocketTransport(config.SocketOptions(logger)), nil
	default:
		return nil, NewConfigValidationError(fmt.Sprintf("unsupported transport %q", config.Transport), nil)
	}
}

// Start begins connection tracking and mounts the store.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.status.Start()
	s.store.Start()
}

// Close tears the stack down in reverse construction order.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.store.Close()
	s.status.Close()
	err := s.bus.Close()
	s.logger.Info("Session closed")
	return err
}

// ApplyConfig applies the tunables that can change on a live session. It
// implements ConfigApplier for ConfigWatcher.
func (s *Session) ApplyConfig(config ClientConfig) error {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return err
	}
	s.bus.SetRequestTimeout(config.RequestTimeout.Std())
	s.store.SetFetchPolicy(config.Fetch.Retries, config.Fetch.BaseDelay.Std())

	s.mu.Lock()
	s.config.RequestTimeout = config.RequestTimeout
	s.config.Fetch = config.Fetch
	s.mu.Unlock()
	return nil
}

// Config returns the configuration in effect.
func (s *Session) Config() ClientConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Transport returns the session transport. For the embedded transport the host
// delivers inbound frames through it.
func (s *Session) Transport() Transport { return s.transport }

// Bus returns the message bus.
func (s *Session) Bus() *MessageBus { return s.bus }

// Client returns the parameter client.
func (s *Session) Client() *ParameterClient { return s.client }

// Status returns the connection status projection.
func (s *Session) Status() *ConnectionStatus { return s.status }

// Store returns the parameter store.
func (s *Session) Store() *ParameterStore { return s.store }

// Logger returns the session logger.
func (s *Session) Logger() Logger { return s.logger }
