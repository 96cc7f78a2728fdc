// request_tracker.go: pending request table for the message bus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// requestOutcome settles one pending request.
type requestOutcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest is an unsettled request awaiting its response frame.
type pendingRequest struct {
	id      uint64
	method  string
	started int64 // cached unix nanos
	done    chan requestOutcome
	timer   *time.Timer
}

// RequestTracker owns the table of in-flight requests keyed by correlation id.
// Every entry is removed exactly once: by a response, a timeout, a cancellation
// or a drain.
type RequestTracker struct {
	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	nextID  uint64
}

// NewRequestTracker creates an empty tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		pending: make(map[uint64]*pendingRequest),
	}
}

// start allocates the next correlation id and registers a pending entry.
// The timeout fires onTimeout with the id unless the entry settles first.
func (rt *RequestTracker) start(method string, timeout time.Duration, onTimeout func(id uint64)) *pendingRequest {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.nextID++
	req := &pendingRequest{
		id:      rt.nextID,
		method:  method,
		started: timecache.CachedTimeNano(),
		done:    make(chan requestOutcome, 1),
	}
	if timeout > 0 {
		id := req.id
		req.timer = time.AfterFunc(timeout, func() { onTimeout(id) })
	}
	rt.pending[req.id] = req
	return req
}

// settle removes the entry and delivers the outcome. It reports false when the
// id is unknown, e.g. already settled by a timeout.
func (rt *RequestTracker) settle(id uint64, outcome requestOutcome) (*pendingRequest, bool) {
	rt.mu.Lock()
	req, ok := rt.pending[id]
	if ok {
		delete(rt.pending, id)
	}
	rt.mu.Unlock()

	if !ok {
		return nil, false
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	req.done <- outcome
	return req, true
}

// has reports whether id is still pending.
func (rt *RequestTracker) has(id uint64) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.pending[id]
	return ok
}

// Count returns the number of unsettled requests.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.pending)
}

// drain rejects every pending request with err.
func (rt *RequestTracker) drain(err error) int {
	rt.mu.Lock()
	pending := rt.pending
	rt.pending = make(map[uint64]*pendingRequest)
	rt.mu.Unlock()

	for _, req := range pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.done <- requestOutcome{err: err}
	}
	return len(pending)
}

// elapsed returns the time since the request started.
func (req *pendingRequest) elapsed() time.Duration {
	return time.Duration(timecache.CachedTimeNano() - req.started)
}
