// Package metrics exposes prometheus instrumentation for the orchestration
// layer. Embedders construct a Collector on their own Registerer and hand it
// to analysis.New; passing nil disables instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records orchestration-layer metrics. All methods are safe on a
// nil receiver so instrumentation can be left unwired.
type Collector struct {
	requestsTotal *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	flightJoins prometheus.Counter

	remoteCallsTotal   *prometheus.CounterVec
	remoteCallDuration prometheus.Histogram
	retriesTotal       prometheus.Counter
	queueTimeoutsTotal prometheus.Counter
	queueWaitDuration  prometheus.Histogram

	logger *zap.Logger
}

// NewCollector registers the orchestration metrics on reg under namespace.
// Pass prometheus.DefaultRegisterer for process-wide metrics or a fresh
// registry for test isolation.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Analysis requests by outcome",
		},
		[]string{"outcome"},
	)

	c.cacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Response cache hits",
	})
	c.cacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Response cache misses",
	})
	c.flightJoins = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inflight_joins_total",
		Help:      "Callers that joined an in-flight call instead of starting one",
	})

	c.remoteCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote inference attempts by provider and status",
		},
		[]string{"provider", "status"},
	)
	c.remoteCallDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_call_duration_seconds",
		Help:      "Remote inference call duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})
	c.retriesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Transient-failure retries performed by the invoker",
	})
	c.queueTimeoutsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_timeouts_total",
		Help:      "Tasks rejected because admission timed out",
	})
	c.queueWaitDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_wait_duration_seconds",
		Help:      "Time tasks spent waiting for dispatcher admission",
		Buckets:   prometheus.DefBuckets,
	})

	return c
}

// RecordRequest counts one top-level request by outcome
// (ok, cache_hit, invalid, error).
func (c *Collector) RecordRequest(outcome string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit counts a response-cache hit.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss counts a response-cache miss.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordFlightJoin counts a caller that attached to an in-flight call.
func (c *Collector) RecordFlightJoin() {
	if c == nil {
		return
	}
	c.flightJoins.Inc()
}

// RecordRemoteCall counts one remote attempt and its latency.
func (c *Collector) RecordRemoteCall(provider, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.remoteCallsTotal.WithLabelValues(provider, status).Inc()
	c.remoteCallDuration.Observe(duration.Seconds())
}

// RecordRetry counts one backoff retry.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}

// RecordQueueTimeout counts one admission rejection.
func (c *Collector) RecordQueueTimeout() {
	if c == nil {
		return
	}
	c.queueTimeoutsTotal.Inc()
}

// RecordQueueWait observes how long a task queued before admission.
func (c *Collector) RecordQueueWait(duration time.Duration) {
	if c == nil {
		return
	}
	c.queueWaitDuration.Observe(duration.Seconds())
}
