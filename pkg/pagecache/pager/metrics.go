// SPDX-License-Identifier: AGPL-3.0-only

package pager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds metrics tracked by a Pager.
type Metrics struct {
	sizeUsed            prometheus.Gauge
	blockLoads          prometheus.Counter
	blockLoadFailures   prometheus.Counter
	evictions           prometheus.Counter
	evictedBytes        prometheus.Counter
	outOfMemory         prometheus.Counter
	disjointReads       prometheus.Counter
	generationRotations prometheus.Counter
}

// NewMetrics makes new pager Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		sizeUsed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pagecache_pager_size_used_bytes",
			Help: "Bytes currently charged against this pager's memory limits.",
		}),
		blockLoads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_pager_block_loads_total",
			Help: "Total number of block loads this pager initiated.",
		}),
		blockLoadFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_pager_block_load_failures_total",
			Help: "Total number of block loads that completed with an error.",
		}),
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_pager_evictions_total",
			Help: "Total number of blocks evicted.",
		}),
		evictedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_pager_evicted_bytes_total",
			Help: "Total bytes freed by eviction.",
		}),
		outOfMemory: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_pager_out_of_memory_total",
			Help: "Total number of admissions refused after eviction could not bring size_used under the hard limit.",
		}),
		disjointReads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_pager_disjoint_reads_total",
			Help: "Total number of reads served through the disjoint-read path.",
		}),
		generationRotations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pagecache_pager_generation_rotations_total",
			Help: "Total number of access-generation rotations.",
		}),
	}
}
