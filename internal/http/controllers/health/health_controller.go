// Package health contiene el controller para health checks.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/mandato/internal/http/dto"
	"github.com/dropDatabas3/mandato/internal/http/helpers"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
)

// Pinger un componente que se puede chequear (store, cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

type Controller struct {
	version    string
	components map[string]Pinger
	timeout    time.Duration
}

// NewController components: nombre -> Pinger. Nil se ignora.
func NewController(version string, components map[string]Pinger) *Controller {
	c := &Controller{version: version, components: map[string]Pinger{}, timeout: 2 * time.Second}
	for name, p := range components {
		if p != nil {
			c.components[name] = p
		}
	}
	return c
}

// Readyz GET /readyz
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ready", Version: c.version, Components: map[string]string{}}
	for name, p := range c.components {
		if err := p.Ping(ctx); err != nil {
			resp.Components[name] = "down"
			resp.Status = "unavailable"
			logger.From(ctx).Warn("readiness check failed", logger.Component(name), logger.Err(err))
			continue
		}
		resp.Components[name] = "up"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	if c.version != "" {
		w.Header().Set("X-Service-Version", c.version)
	}
	helpers.WriteJSON(w, status, resp)
}
