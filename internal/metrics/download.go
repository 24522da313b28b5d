// Package metrics exports Prometheus collectors for the download pipeline.
// Memory cache collectors live next to the LRU in internal/memcache.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/any-hub/imagehub/internal/download"
)

var (
	downloadEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagehub_download_events_total",
		Help: "Total number of download lifecycle events.",
	}, []string{"kind" /* started | received_response | stopped | finished */})
	downloadFailuresMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagehub_download_failures_total",
		Help: "Total number of downloads that stopped with an error.",
	}, []string{"reason" /* status | transport | cancelled */})
	downloadBytesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imagehub_download_bytes_total",
		Help: "Total number of bytes received by finished downloads.",
	})
	downloadDurationMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "imagehub_download_duration_seconds",
		Help:    "Duration of finished downloads.",
		Buckets: prometheus.DefBuckets,
	})
)

// DownloadObserver 把下载生命周期事件累加到 Prometheus 指标。
type DownloadObserver struct{}

var _ download.Observer = DownloadObserver{}

// NewDownloadObserver 返回共享默认注册表的观察者。
func NewDownloadObserver() DownloadObserver {
	return DownloadObserver{}
}

func (DownloadObserver) OnEvent(e download.Event) {
	downloadEventsMetric.WithLabelValues(e.Kind.String()).Inc()

	switch e.Kind {
	case download.EventStopped:
		if e.Err != nil {
			downloadFailuresMetric.WithLabelValues(failureReason(e.Err)).Inc()
		}
	case download.EventFinished:
		if e.State != download.StateSucceeded {
			return
		}
		downloadBytesMetric.Add(float64(e.Bytes))
		downloadDurationMetric.Observe(e.Duration.Seconds())
	}
}

func failureReason(err error) string {
	var fetchErr *download.FetchError
	switch {
	case errors.Is(err, download.ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &fetchErr) && fetchErr.StatusCode != 0:
		return "status"
	default:
		return "transport"
	}
}
