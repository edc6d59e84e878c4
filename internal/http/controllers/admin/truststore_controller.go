// Package admin operaciones administrativas (cache del truststore).
package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/mandato/internal/http/dto"
	"github.com/dropDatabas3/mandato/internal/http/errors"
	"github.com/dropDatabas3/mandato/internal/http/helpers"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
)

// Invalidator lo implementa *truststore.CachedResolver.
type Invalidator interface {
	Invalidate(ctx context.Context, issuer string) error
	InvalidateAll(ctx context.Context) error
}

type TruststoreController struct {
	keys Invalidator
}

func NewTruststoreController(keys Invalidator) *TruststoreController {
	return &TruststoreController{keys: keys}
}

// Invalidate POST /v1/truststore/invalidate {"issuer": "..."}; sin issuer invalida todo.
func (c *TruststoreController) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req dto.InvalidateRequest
	if r.ContentLength != 0 && r.Header.Get("Content-Type") != "" {
		if !helpers.ReadJSON(w, r, &req) {
			return
		}
	}
	issuer := strings.TrimSpace(req.Issuer)

	var err error
	if issuer == "" {
		err = c.keys.InvalidateAll(r.Context())
	} else {
		err = c.keys.Invalidate(r.Context(), issuer)
	}
	if err != nil {
		errors.WriteError(w, r, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	logger.From(r.Context()).Info("truststore invalidated", logger.Issuer(issuer))
	w.WriteHeader(http.StatusNoContent)
}
