package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "response_time",
			Help:    "http response time.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	totalHttpRequestsToUri = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_to_uri", Help: "http requests to uri"},
		[]string{"code", "uri", "method"},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hermes_inflight_dispatches", Help: "dispatches holding a concurrency permit"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hermes_rejected_requests_total", Help: "requests refused before dispatch, by reason"},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequestsToUri,
		totalHttpRequests,
		inFlight,
		rejectedTotal,
	)
}

// SetInFlight records the limiter's current holder count.
func SetInFlight(n int) { inFlight.Set(float64(n)) }

// Rejected counts a request refused with reason (not_found, overloaded,
// rate_limited, draining).
func Rejected(reason string) { rejectedTotal.WithLabelValues(reason).Inc() }
