package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	RequestSeconds   *prometheus.HistogramVec
	CacheHits        prometheus.Counter
	RowsProcessed    *prometheus.CounterVec
	Checkpoints      *prometheus.CounterVec
	QuotaRemaining   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ProviderRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geobatch_provider_requests_total",
			Help: "Total number of requests sent to the geocoding provider, by outcome.",
		}, []string{"provider", "outcome"}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geobatch_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "geobatch_cache_hits_total",
			Help: "Total number of candidate lookups answered from the in-process cache.",
		}),
		RowsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geobatch_rows_processed_total",
			Help: "Total number of rows classified in this run, by final status.",
		}, []string{"status"}),
		Checkpoints: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geobatch_checkpoints_total",
			Help: "Total number of snapshot flushes, by result.",
		}, []string{"result"}),
		QuotaRemaining: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "geobatch_quota_remaining",
			Help: "Requests left in today's budget for this run.",
		}),
	}
}
