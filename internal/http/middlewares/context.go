package middlewares

import "context"

type ctxKey string

const (
	ctxTenantKey    ctxKey = "tenant_id"
	ctxRequestIDKey ctxKey = "request_id"
)

func setTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxTenantKey, tenantID)
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetTenantID tenant del request ("" si la ruta no pasa por WithTenant).
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxTenantKey).(string); ok {
		return v
	}
	return ""
}

// GetRequestID request ID del contexto.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}
