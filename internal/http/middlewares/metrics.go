package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/mandato/internal/metrics"
)

// WithMetrics instrumenta requests con Prometheus. La ruta se etiqueta con el
// patrón de chi (/v1/authorizations/{id}), nunca con el path crudo.
func WithMetrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			done := metrics.HTTPStarted(r.Method)
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				done()
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), time.Since(start))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
