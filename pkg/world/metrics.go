package world

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the service's Prometheus collectors
type Metrics struct {
	requests   *prometheus.HistogramVec
	rateLimits *prometheus.CounterVec
	commits    *prometheus.CounterVec
	syncs      *prometheus.CounterVec
	blobBytes  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg; a nil reg
// leaves them unregistered
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "worlds",
			Name:      "request_duration_seconds",
			Help:      "Duration of world operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		rateLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worlds",
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit consumptions by resource type and outcome",
		}, []string{"resource", "outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worlds",
			Name:      "commits_total",
			Help:      "Blob commits by outcome",
		}, []string{"outcome"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worlds",
			Name:      "index_syncs_total",
			Help:      "Search index synchronizations by outcome",
		}, []string{"outcome"}),
		blobBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "worlds",
			Name:      "blob_size_bytes",
			Help:      "Size of committed blobs",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.rateLimits, m.commits, m.syncs, m.blobBytes)
	}
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) observeRequest(op string, start time.Time, err error) {
	m.requests.WithLabelValues(op, status(err)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeRateLimit(resource string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.rateLimits.WithLabelValues(resource, outcome).Inc()
}

func (m *Metrics) observeCommit(size int, err error) {
	m.commits.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.blobBytes.Observe(float64(size))
	}
}

func (m *Metrics) observeSync(err error) {
	m.syncs.WithLabelValues(status(err)).Inc()
}
