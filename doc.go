// Package wavecraft keeps a plugin user interface in sync with the parameters of
// a native audio engine.
//
// The UI may run embedded in the engine process, talking through a host-injected
// bridge, or as a regular page connected over a websocket to a development
// server that fronts the same engine. Both contexts are hidden behind Transport,
// so everything above it behaves identically.
//
// Layers, leaves first:
//   - Transport: EmbeddedTransport (always connected, buffers frames until a
//     receiver attaches) and SocketTransport (websocket with bounded
//     exponential-backoff reconnection)
//   - MessageBus: JSON-RPC 2.0 request/response correlation with per-request
//     timeouts, plus notification fan-out by method name
//   - ParameterClient: getParameter, getAllParameters, setParameter, ping and
//     the parameterChanged / parametersChanged notifications
//   - ConnectionStatus: connectivity projection for status indicators
//   - ParameterStore: the collection the UI renders, with fetch-with-retry on
//     connect, optimistic writes with rollback, push merging and topology refetch
//
// Basic Usage:
//
//	config := wavecraft.DefaultClientConfig()
//	session, err := wavecraft.NewSession(config, wavecraft.SessionOptions{
//		Logger: wavecraft.NewGlogLogger(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	store := session.Store()
//	unsubscribe := store.Subscribe(func(s wavecraft.StoreSnapshot) {
//		render(s.Phase, s.Parameters, s.Err)
//	})
//	defer unsubscribe()
//	session.Start()
//
//	err = store.SetParameter(ctx, "gain", 0.8)
//
// Errors are coded with github.com/agilira/go-errors; use IsNotFound, IsTimeout,
// IsDisconnected and friends to classify them.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package wavecraft
