package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the worker's prometheus collectors.
type Metrics struct {
	CyclesTotal      prometheus.Counter
	CycleDuration    prometheus.Histogram
	Items            *prometheus.CounterVec // label: result = new|cached|too_old|unavailable
	AnalysisFailures prometheus.Counter
	CommentsNew      prometheus.Counter
	EmbeddedTotal    prometheus.Counter
}

// NewMetrics registers the worker collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hnpulse_cycles_total",
			Help: "Completed ingestion cycles.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hnpulse_cycle_duration_seconds",
			Help:    "Wall-clock duration of ingestion cycles.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Items: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hnpulse_items_total",
			Help: "Candidate stories seen per classification.",
		}, []string{"result"}),
		AnalysisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "hnpulse_analysis_failures_total",
			Help: "Analysis attempts abandoned after retry exhaustion or invalid output.",
		}),
		CommentsNew: factory.NewCounter(prometheus.CounterOpts{
			Name: "hnpulse_comments_new_total",
			Help: "Newly stored comments.",
		}),
		EmbeddedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hnpulse_embedded_total",
			Help: "Items fully analyzed and embedded.",
		}),
	}
}
