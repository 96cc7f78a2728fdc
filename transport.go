// transport.go: duplex channel contract shared by both hosting contexts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

// Transport is a duplex text-frame channel to the engine.
//
// Frames handed to the receiver preserve wire arrival order. Implementations own their
// underlying handle (socket or host bridge); higher layers only see frames.
type Transport interface {
	// Send writes one text frame. It fails fast with a disconnected error when the
	// channel is down; frames are never queued for later delivery.
	Send(frame string) error

	// OnFrame registers the single frame receiver, replacing any previous one.
	OnFrame(receiver func(frame string))

	// IsConnected reports whether Send can currently succeed.
	IsConnected() bool

	// Close releases all resources. No receiver or listener runs after Close returns.
	Close() error
}

// ConnectionNotifier is implemented by transports that push state transitions.
// Transports without it are polled by ConnectionStatus.
type ConnectionNotifier interface {
	State() ConnectionState
	OnConnectionChange(listener func(ConnectionState)) (unsubscribe func())
}

// Kinded is implemented by transports that know which hosting context they serve.
type Kinded interface {
	Kind() TransportKind
}

// transportKind returns the kind reported by t, defaulting to socket.
func transportKind(t Transport) TransportKind {
	if k, ok := t.(Kinded); ok {
		return k.Kind()
	}
	return TransportSocket
}

// stateListeners is a registration list for connection state listeners where
// each unsubscribe removes exactly its own registration.
type stateListeners struct {
	nextID    uint64
	listeners []stateListener
}

type stateListener struct {
	id uint64
	fn func(ConnectionState)
}

func (s *stateListeners) add(fn func(ConnectionState)) uint64 {
	s.nextID++
	s.listeners = append(s.listeners, stateListener{id: s.nextID, fn: fn})
	return s.nextID
}

func (s *stateListeners) remove(id uint64) {
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *stateListeners) snapshot() []func(ConnectionState) {
	out := make([]func(ConnectionState), len(s.listeners))
	for i, l := range s.listeners {
		out[i] = l.fn
	}
	return out
}
