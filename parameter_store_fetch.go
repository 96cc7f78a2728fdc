// parameter_store_fetch.go: full-collection fetch with bounded retry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"context"
	"time"
)

// fetchState tracks the single full fetch the store may have in flight.
type fetchState int

const (
	fetchIdle fetchState = iota
	fetchFetching
	fetchBackoff
)

func (f fetchState) String() string {
	switch f {
	case fetchIdle:
		return "idle"
	case fetchFetching:
		return "fetching"
	case fetchBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// fetchRun carries what one fetch needs outside the store lock.
type fetchRun struct {
	ctx        context.Context
	generation uint64
	retries    int
	baseDelay  time.Duration
}

// startFetch begins a full fetch. Without force it is a no-op while another fetch
// is running; with force it supersedes it.
func (s *ParameterStore) startFetch(reason string, force bool) {
	s.mu.Lock()
	if s.lifecycle != storeMounted {
		s.mu.Unlock()
		return
	}
	if s.fetch != fetchIdle && !force {
		s.mu.Unlock()
		s.logger.Debug("Fetch already in flight", "reason", reason)
		return
	}
	run := s.beginFetchLocked()
	s.mu.Unlock()

	s.logger.Debug("Fetching parameters", "reason", reason, "generation", run.generation)
	s.publish()
	SafeGo(s.logger, func() { s.runFetch(run) })
}

// beginFetchLocked cancels any running fetch and opens a new generation.
func (s *ParameterStore) beginFetchLocked() fetchRun {
	s.cancelFetch()
	s.generation++

	ctx, cancel := context.WithCancel(s.ctx)
	s.fetchCancel = cancel
	s.fetch = fetchFetching
	if s.params == nil || s.phase == PhaseError {
		s.phase = PhaseLoading
		s.err = nil
		s.bump()
	}
	return fetchRun{
		ctx:        ctx,
		generation: s.generation,
		retries:    s.fetchRetries,
		baseDelay:  s.fetchBaseDelay,
	}
}

func (s *ParameterStore) runFetch(run fetchRun) {
	for attempt := 0; ; attempt++ {
		params, err := s.client.GetAllParameters(run.ctx)
		if err == nil {
			s.completeFetch(run.generation, params)
			return
		}
		if run.ctx.Err() != nil {
			// superseded, abandoned or closed; whoever cancelled owns the state
			return
		}
		if !s.client.IsConnected() {
			s.abandonFetch(run.generation, err)
			return
		}
		if attempt >= run.retries {
			s.failFetch(run.generation, attempt+1, err)
			return
		}

		delay := run.baseDelay << attempt
		if !s.enterBackoff(run.generation) {
			return
		}
		s.logger.Info("Parameter fetch failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-run.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !s.resumeFetch(run.generation) {
			return
		}
	}
}

// isCurrentLocked reports whether generation still owns the fetch state.
func (s *ParameterStore) isCurrentLocked(generation uint64) bool {
	return s.lifecycle == storeMounted && s.generation == generation && s.fetch != fetchIdle
}

func (s *ParameterStore) completeFetch(generation uint64, params []ParameterInfo) {
	s.mu.Lock()
	if !s.isCurrentLocked(generation) {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale fetch result", "generation", generation)
		return
	}
	s.finishFetchLocked()
	s.params = ParameterList(params)
	s.phase = PhaseReady
	s.err = nil
	s.bump()
	s.mu.Unlock()

	s.metrics.IncrementCounter(MetricFetchesTotal, map[string]string{"result": "loaded"}, 1)
	s.logger.Info("Parameters loaded", "count", len(params), "generation", generation)
	s.publish()
}

func (s *ParameterStore) failFetch(generation uint64, attempts int, cause error) {
	s.mu.Lock()
	if !s.isCurrentLocked(generation) {
		s.mu.Unlock()
		return
	}
	s.finishFetchLocked()
	s.phase = PhaseError
	s.err = NewFetchExhaustedError(attempts, cause)
	s.bump()
	s.mu.Unlock()

	s.metrics.IncrementCounter(MetricFetchesTotal, map[string]string{"result": "failed"}, 1)
	s.logger.Error("Giving up loading parameters", "attempts", attempts, "error", cause)
	s.publish()
}

func (s *ParameterStore) abandonFetch(generation uint64, cause error) {
	s.mu.Lock()
	if !s.isCurrentLocked(generation) {
		s.mu.Unlock()
		return
	}
	s.abandonFetchLocked()
	s.mu.Unlock()

	s.metrics.IncrementCounter(MetricFetchesTotal, map[string]string{"result": "abandoned"}, 1)
	s.logger.Debug("Abandoning fetch, transport disconnected", "error", cause)
	s.publish()
}

// abandonFetchLocked drops the running fetch without surfacing an error and
// waits for the next connection.
func (s *ParameterStore) abandonFetchLocked() {
	s.cancelFetch()
	s.generation++
	s.fetch = fetchIdle
	if s.params == nil && s.phase != PhaseLoading {
		s.phase = PhaseLoading
		s.err = nil
		s.bump()
	}
}

func (s *ParameterStore) enterBackoff(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCurrentLocked(generation) {
		return false
	}
	s.fetch = fetchBackoff
	return true
}

func (s *ParameterStore) resumeFetch(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCurrentLocked(generation) {
		return false
	}
	s.fetch = fetchFetching
	return true
}

func (s *ParameterStore) finishFetchLocked() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	s.fetch = fetchIdle
}

// cancelFetch cancels the context of the running fetch, if any.
func (s *ParameterStore) cancelFetch() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
}
