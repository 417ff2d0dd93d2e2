// SPDX-License-Identifier: AGPL-3.0-only

package asyncio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds metrics tracked by a Reader.
type Metrics struct {
	readsSubmitted    prometheus.Counter
	readsCompleted    prometheus.Counter
	readsFailed       prometheus.Counter
	readsEOF          prometheus.Counter
	readsShort        prometheus.Counter
	submitRetries     prometheus.Counter
	queueDepth        prometheus.Gauge
	completionLatency prometheus.Histogram
}

// NewMetrics makes new asyncio Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		readsSubmitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_asyncio_reads_submitted_total",
			Help: "Total number of reads submitted to the ring.",
		}),
		readsCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_asyncio_reads_completed_total",
			Help: "Total number of reads that completed with a full result.",
		}),
		readsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_asyncio_reads_failed_total",
			Help: "Total number of reads that completed with a negative result.",
		}),
		readsEOF: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_asyncio_reads_eof_total",
			Help: "Total number of reads that completed with a zero result.",
		}),
		readsShort: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_asyncio_reads_short_total",
			Help: "Total number of partial completions that required resubmission.",
		}),
		submitRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_asyncio_submit_retries_total",
			Help: "Total number of ring submissions retried after a transient error or a full submission queue.",
		}),
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pagecache_asyncio_pending_requests",
			Help: "Current number of requests queued or in flight on the ring.",
		}),
		completionLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "pagecache_asyncio_completion_latency_seconds",
			Help:    "Time between a read being enqueued and its completion being delivered.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
