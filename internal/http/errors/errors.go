// Package errors define los errores HTTP de la API y su mapeo desde las capas de dominio.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/mandato/internal/authz"
	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
	"github.com/dropDatabas3/mandato/internal/webhook"
)

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// FromError traduce errores de dominio a AppError.
// Lo desconocido es un 500 que conserva la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	switch {
	case authz.IsValidation(err), webhook.IsValidation(err):
		return ErrValidation.WithDetail(err.Error()).WithCause(err)
	case webhook.IsSignatureInvalid(err):
		return ErrSignatureInvalid.WithCause(err)
	case repository.IsNotFound(err):
		return ErrNotFound.WithCause(err)
	case authz.IsConflict(err), repository.IsConflict(err):
		return ErrConflict.WithDetail(err.Error()).WithCause(err)
	case authz.IsInfrastructure(err), webhook.IsInfrastructure(err):
		return ErrServiceUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// WriteError escribe la respuesta JSON. Los 5xx se loguean con la causa.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)
	if appErr.HTTPStatus >= 500 && r != nil {
		logger.From(r.Context()).Error("request failed",
			logger.Status(appErr.HTTPStatus), logger.Err(appErr.Err))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Detail:    appErr.Detail,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
