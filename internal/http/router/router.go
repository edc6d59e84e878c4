// Package router arma el árbol de rutas chi de la API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	adminctrl "github.com/dropDatabas3/mandato/internal/http/controllers/admin"
	authzctrl "github.com/dropDatabas3/mandato/internal/http/controllers/authz"
	healthctrl "github.com/dropDatabas3/mandato/internal/http/controllers/health"
	webhookctrl "github.com/dropDatabas3/mandato/internal/http/controllers/webhooks"
	"github.com/dropDatabas3/mandato/internal/http/errors"
	mw "github.com/dropDatabas3/mandato/internal/http/middlewares"
	"github.com/dropDatabas3/mandato/internal/rate"
)

// Deps dependencias del router. Los controllers nil no registran rutas.
type Deps struct {
	Authorizations *authzctrl.Controller
	Webhooks       *webhookctrl.Controller
	Truststore     *adminctrl.TruststoreController
	Health         *healthctrl.Controller

	Metrics http.Handler // /metrics; nil = no se expone

	// InboundLimiter limita POST /v1/webhooks/acp por IP.
	InboundLimiter rate.Limiter
	InboundLimit   int
}

// New construye el handler raíz.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithMetrics(),
	)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, req, errors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, req, errors.ErrMethodNotAllowed)
	})

	// Infra: sin logging (muy frecuentes) ni tenant
	if deps.Health != nil {
		r.Get("/readyz", deps.Health.Readyz)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.WithLogging())

		// Webhook entrante del PSP: autenticado por firma, no por tenant
		if deps.Webhooks != nil {
			r.With(mw.WithRateLimit(mw.RateLimitConfig{
				Limiter: deps.InboundLimiter,
				Limit:   deps.InboundLimit,
			})).Post("/webhooks/acp", deps.Webhooks.InboundACP)
		}

		r.Group(func(r chi.Router) {
			r.Use(mw.WithTenant())

			if c := deps.Authorizations; c != nil {
				r.Route("/authorizations", func(r chi.Router) {
					r.Post("/", c.Create)
					r.Get("/", c.Search)
					r.Get("/{id}", c.Get)
					r.Post("/{id}/verify", c.Verify)
					r.Post("/{id}/revoke", c.Revoke)
					r.Get("/{id}/audit", c.Audit)
				})
			}
			if c := deps.Webhooks; c != nil {
				r.Post("/webhooks/subscriptions", c.Subscribe)
				r.Get("/webhooks/subscriptions/{id}/deliveries", c.Deliveries)
				r.Post("/webhooks/deliveries/retry", c.Retry)
			}
		})

		if deps.Truststore != nil {
			r.Post("/truststore/invalidate", deps.Truststore.Invalidate)
		}
	})
	return r
}
