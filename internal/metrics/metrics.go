package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_fetch_total",
			Help: "Total number of catalog fetches by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfsync_fetch_duration_seconds",
			Help:    "Histogram of catalog fetch durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"source", "outcome"},
	)
	mutationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_mutation_total",
			Help: "Total number of completed mutation writes by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	mutationSuperseded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_mutation_superseded_total",
			Help: "Mutations cancelled because a newer request replaced them.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(fetchTotal)
	prometheus.MustRegister(fetchDuration)
	prometheus.MustRegister(mutationTotal)
	prometheus.MustRegister(mutationSuperseded)
}

// RecordFetch records one completed catalog fetch.
func RecordFetch(source, outcome string, duration time.Duration) {
	fetchTotal.WithLabelValues(source, outcome).Inc()
	fetchDuration.WithLabelValues(source, outcome).Observe(duration.Seconds())
}

// RecordMutation records one mutation write that reached the backend.
func RecordMutation(source, outcome string) {
	mutationTotal.WithLabelValues(source, outcome).Inc()
}

// RecordMutationSuperseded records a mutation cancelled by a newer request.
func RecordMutationSuperseded(source string) {
	mutationSuperseded.WithLabelValues(source).Inc()
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
