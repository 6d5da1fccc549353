// Package metrics registers the Prometheus collectors shared by the cache,
// driver, and facade layers. Observability is not named in the spec's
// Non-goals (those exclude cross-bag transactions, ordering, search,
// replication, and soft-delete recovery), so unlike those excluded
// features, metrics are wired rather than skipped.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheHits/CacheMisses are labeled by the cache instance name (name,
// document, contract).
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docrepo",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Number of cache lookups that found a value.",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docrepo",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Number of cache lookups that found nothing.",
	}, []string{"cache"})

	DriverOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docrepo",
		Subsystem: "driver",
		Name:      "operations_total",
		Help:      "Storage driver operations, by namespace, method, and outcome.",
	}, []string{"namespace", "method", "outcome"})

	DriverLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docrepo",
		Subsystem: "driver",
		Name:      "operation_duration_seconds",
		Help:      "Storage driver operation latency, by namespace and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"namespace", "method"})

	BagDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "docrepo",
		Subsystem: "bag",
		Name:      "available_messages",
		Help:      "Last-observed count of available messages in a bag.",
	}, []string{"bag"})

	BorrowRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docrepo",
		Subsystem: "bag",
		Name:      "borrow_retries_total",
		Help:      "Lost races in the borrow-message loop, by bag.",
	}, []string{"bag"})
)
