package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hermes_dispatch_attempts_total", Help: "delivery attempts by endpoint, scheme and result"},
		[]string{"endpoint", "scheme", "result"},
	)

	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hermes_dispatch_results_total", Help: "dispatch results by endpoint and classification"},
		[]string{"endpoint", "classification"},
	)

	attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hermes_dispatch_attempt_seconds",
			Help:    "delivery attempt latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"scheme"},
	)
)

func init() {
	prometheus.MustRegister(
		attemptsTotal,
		resultsTotal,
		attemptDuration,
	)
}
