package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/mandato/internal/http/errors"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
	"github.com/dropDatabas3/mandato/internal/validation"
)

// HeaderTenantID identifica al tenant en la API pública.
const HeaderTenantID = "X-Tenant-ID"

// WithTenant exige X-Tenant-ID y lo inyecta en el contexto (y en el logger).
func WithTenant() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
			if tenantID == "" {
				errors.WriteError(w, r, errors.ErrTenantRequired)
				return
			}
			if !validation.ValidTenantID(tenantID) {
				errors.WriteError(w, r, errors.ErrTenantRequired.WithDetail("X-Tenant-ID inválido"))
				return
			}
			ctx := setTenantID(r.Context(), tenantID)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.TenantID(tenantID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
