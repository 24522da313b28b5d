package memcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagehub_memory_cache_lookups_total",
		Help: "Total number of memory cache lookups.",
	}, []string{"status" /* hit | miss */})
	evictionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagehub_memory_cache_evictions_total",
		Help: "Total number of images evicted from the memory cache.",
	}, []string{"reason" /* capacity | pressure */})
)
