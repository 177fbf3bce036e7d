// Package metrics holds the Prometheus collectors shared across docrank.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline metrics.
var (
	InstructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrank",
			Name:      "instructions_total",
			Help:      "Instructions processed, by outcome",
		},
		[]string{"status"}, // completed / partial / failed / invalid
	)

	SectionsRankedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docrank",
			Name:      "sections_ranked_total",
			Help:      "Sections emitted in ranked output",
		},
	)

	DocumentsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrank",
			Name:      "documents_skipped_total",
			Help:      "Referenced documents that contributed no sections",
		},
		[]string{"reason"}, // missing / parse / segmentation
	)
)

// Embedding metrics.
var (
	EncodeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrank",
			Name:      "encode_requests_total",
			Help:      "Total number of encode calls",
		},
		[]string{"provider", "status"},
	)

	EncodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docrank",
			Name:      "encode_duration_seconds",
			Help:      "Encode call duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"provider"},
	)

	EncodeCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrank",
			Name:      "encode_cache_total",
			Help:      "Encode cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			InstructionsTotal,
			SectionsRankedTotal,
			DocumentsSkippedTotal,
			EncodeRequestsTotal,
			EncodeDuration,
			EncodeCacheTotal,
		)
	})
}
