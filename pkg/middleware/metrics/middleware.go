package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Collect records the request counters and latency histogram.
func Collect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		startTime := time.Now()

		defer func() {
			// the route pattern is only known once the router has run
			uri, ok := uriLabel(r)
			if !ok {
				return
			}
			code := strconv.Itoa(ww.Status())

			totalHttpRequestsToUri.WithLabelValues(code, uri, r.Method).Inc()
			totalHttpRequests.WithLabelValues(code, r.Method).Inc()
			responseTime.Observe(time.Since(startTime).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}
