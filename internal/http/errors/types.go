package errors

import (
	"fmt"
	"net/http"
)

// AppError es la respuesta de error estándar de la API.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa, sólo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail devuelve una copia con detalle; los errores base son compartidos.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithCause devuelve una copia con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

func def(status int, code, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: code, Message: msg}
}

// Request / transporte.
var (
	ErrBadRequest        = def(http.StatusBadRequest, "BAD_REQUEST", "Solicitud inválida.")
	ErrInvalidJSON       = def(http.StatusBadRequest, "INVALID_JSON", "El body no es un JSON válido.")
	ErrInvalidParameter  = def(http.StatusBadRequest, "INVALID_PARAMETER", "Parámetro de ruta o query inválido.")
	ErrTenantRequired    = def(http.StatusBadRequest, "TENANT_REQUIRED", "Falta el header X-Tenant-ID.")
	ErrBodyTooLarge      = def(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "El body excede 1 MiB.")
	ErrRouteNotFound     = def(http.StatusNotFound, "ROUTE_NOT_FOUND", "La ruta no existe.")
	ErrMethodNotAllowed  = def(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método no permitido.")
	ErrRateLimitExceeded = def(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Demasiadas solicitudes; reintentar luego.")
)

// Dominio.
var (
	ErrValidation       = def(http.StatusBadRequest, "VALIDATION_FAILED", "La autorización o el evento no pasan la validación de entrada.")
	ErrSignatureInvalid = def(http.StatusUnauthorized, "SIGNATURE_INVALID", "Firma HMAC del webhook inválida.")
	ErrNotFound         = def(http.StatusNotFound, "NOT_FOUND", "Autorización, suscripción o token inexistente para este tenant.")
	ErrConflict         = def(http.StatusConflict, "CONFLICT", "Conflicto con el estado actual de la autorización.")
)

// Servidor.
var (
	ErrInternalServerError = def(http.StatusInternalServerError, "INTERNAL_ERROR", "Error interno.")
	ErrServiceUnavailable  = def(http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", "Store o truststore no disponibles; reintentar.")
)
