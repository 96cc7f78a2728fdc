// metrics.go: metrics collection for the message bus and parameter store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metric names recorded by the bus and the store.
const (
	MetricRequestsTotal      = "wavecraft_bus_requests_total"
	MetricRequestSeconds     = "wavecraft_bus_request_seconds"
	MetricNotificationsTotal = "wavecraft_bus_notifications_total"
	MetricDroppedFramesTotal = "wavecraft_bus_dropped_frames_total"
	MetricPendingRequests    = "wavecraft_bus_pending_requests"
	MetricFetchesTotal       = "wavecraft_store_fetches_total"
	MetricWritesTotal        = "wavecraft_store_writes_total"
)

// MetricsCollector receives counters, gauges and histogram samples.
//
// Implementations must be safe for concurrent use. A Prometheus or StatsD
// bridge only needs these three methods:
//
//	collector.IncrementCounter(MetricRequestsTotal,
//	    map[string]string{"method": "getAllParameters", "status": "ok"}, 1)
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string, value int64)
	SetGauge(name string, labels map[string]string, value float64)
	RecordHistogram(name string, labels map[string]string, value float64)
}

// HistogramSummary aggregates histogram samples.
type HistogramSummary struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// DefaultMetricsCollector keeps metrics in memory, keyed by name and sorted labels.
type DefaultMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string]HistogramSummary
}

// NewDefaultMetricsCollector creates an empty in-memory collector.
func NewDefaultMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]HistogramSummary),
	}
}

func (c *DefaultMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key] += value
}

func (c *DefaultMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key] = value
}

func (c *DefaultMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	h, exists := c.histograms[key]
	if !exists || value < h.Min {
		h.Min = value
	}
	if !exists || value > h.Max {
		h.Max = value
	}
	h.Count++
	h.Sum += value
	c.histograms[key] = h
}

// Counter returns the counter value for name and labels.
func (c *DefaultMetricsCollector) Counter(name string, labels map[string]string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[metricKey(name, labels)]
}

// Gauge returns the gauge value for name and labels.
func (c *DefaultMetricsCollector) Gauge(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[metricKey(name, labels)]
}

// Histogram returns the summary for name and labels.
func (c *DefaultMetricsCollector) Histogram(name string, labels map[string]string) HistogramSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histograms[metricKey(name, labels)]
}

// GetMetrics returns a flat copy of every metric keyed as name{k=v,...}.
func (c *DefaultMetricsCollector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]interface{}, len(c.counters)+len(c.gauges)+len(c.histograms))
	for k, v := range c.counters {
		result[k] = v
	}
	for k, v := range c.gauges {
		result[k] = v
	}
	for k, v := range c.histograms {
		result[k] = v
	}
	return result
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ","))
}

// noOpMetrics discards everything.
type noOpMetrics struct{}

func (noOpMetrics) IncrementCounter(string, map[string]string, int64) {}
func (noOpMetrics) SetGauge(string, map[string]string, float64)       {}
func (noOpMetrics) RecordHistogram(string, map[string]string, float64) {}

func metricsOrNoOp(m MetricsCollector) MetricsCollector {
	if m == nil {
		return noOpMetrics{}
	}
	return m
}

// requestStatus classifies a request outcome for the status label.
func requestStatus(err error) string {
	var rpcErr *RPCError
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "timeout"
	case IsDisconnected(err):
		return "disconnected"
	case HasErrorCode(err, ErrCodeBusClosed):
		return "closed"
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case stderrors.As(err, &rpcErr):
		return "engine_error"
	default:
		return "error"
	}
}
