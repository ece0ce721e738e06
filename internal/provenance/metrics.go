package provenance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers reconstruction latency and cache effectiveness.
// A nil *Metrics records nothing.
type Metrics struct {
	Duration    prometheus.Histogram
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Warnings    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmatrace_provenance_duration_seconds",
			Help:    "Duration of provenance reconstruction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmatrace_provenance_cache_hits_total",
			Help: "Provenance lookups served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmatrace_provenance_cache_misses_total",
			Help: "Provenance lookups that required reconstruction",
		}),
		Warnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmatrace_provenance_data_quality_warnings_total",
			Help: "Data quality warnings raised during reconstruction",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observe(start time.Time) {
	if m == nil {
		return
	}
	m.Duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) cacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) cacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *Metrics) warning(kind string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(kind).Inc()
}
