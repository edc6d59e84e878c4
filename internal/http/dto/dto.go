// Package dto contiene los request/response JSON de la API v1.
package dto

import (
	"encoding/json"
	"time"

	"github.com/dropDatabas3/mandato/internal/authz"
	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/verify"
)

// ─── Authorizations ───

// CreateAuthorizationRequest POST /v1/authorizations
type CreateAuthorizationRequest struct {
	Protocol string          `json:"protocol"`
	Payload  json.RawMessage `json:"payload"`
}

// RevokeRequest POST /v1/authorizations/{id}/revoke
type RevokeRequest struct {
	Reason string `json:"reason"`
}

// VerificationResponse autorización + resultado de la verificación.
type VerificationResponse struct {
	Authorization authz.View    `json:"authorization"`
	Verification  verify.Result `json:"verification"`
}

// SearchResponse GET /v1/authorizations
type SearchResponse struct {
	Items  []authz.View `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// AuditEvent entrada del audit trail.
type AuditEvent struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Source             string         `json:"source"`
	FromStatus         string         `json:"from_status,omitempty"`
	ToStatus           string         `json:"to_status,omitempty"`
	VerificationStatus string         `json:"verification_status,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// AuditTrailResponse GET /v1/authorizations/{id}/audit
type AuditTrailResponse struct {
	AuthorizationID string       `json:"authorization_id"`
	Events          []AuditEvent `json:"events"`
}

func AuditEventOf(e *repository.AuditEvent) AuditEvent {
	return AuditEvent{
		ID:                 e.ID,
		Type:               e.Type,
		Source:             e.Source,
		FromStatus:         string(e.FromStatus),
		ToStatus:           string(e.ToStatus),
		VerificationStatus: string(e.VerificationStatus),
		Reason:             e.Reason,
		Details:            e.Details,
		CreatedAt:          e.CreatedAt,
	}
}

// ─── Webhooks ───

// SubscribeRequest POST /v1/webhooks/subscriptions
type SubscribeRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// SubscriptionResponse incluye el secreto sólo en el alta.
type SubscriptionResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryAttempt fila del historial de entregas.
type DeliveryAttempt struct {
	ID            string     `json:"id"`
	DeliveryID    string     `json:"delivery_id"`
	EventType     string     `json:"event_type"`
	AttemptNumber int        `json:"attempt_number"`
	Status        string     `json:"status"`
	ResponseCode  int        `json:"response_code,omitempty"`
	Error         string     `json:"error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `json:"created_at"`
}

func DeliveryAttemptOf(a *repository.DeliveryAttempt) DeliveryAttempt {
	return DeliveryAttempt{
		ID:            a.ID,
		DeliveryID:    a.DeliveryID,
		EventType:     a.EventType,
		AttemptNumber: a.AttemptNumber,
		Status:        string(a.Status),
		ResponseCode:  a.ResponseCode,
		Error:         a.Error,
		NextRetryAt:   a.NextRetryAt,
		DurationMs:    a.DurationMs,
		CreatedAt:     a.CreatedAt,
	}
}

// DeliveryHistoryResponse GET /v1/webhooks/subscriptions/{id}/deliveries
type DeliveryHistoryResponse struct {
	SubscriptionID string            `json:"subscription_id"`
	Attempts       []DeliveryAttempt `json:"attempts"`
}

// RetryRequest POST /v1/webhooks/deliveries/retry. SubscriptionID vacío = todo el tenant.
type RetryRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// RetryResponse cantidad de entregas re-encoladas.
type RetryResponse struct {
	Requeued int `json:"requeued"`
}

// ─── Admin / health ───

// InvalidateRequest POST /v1/truststore/invalidate. Issuer vacío = todos.
type InvalidateRequest struct {
	Issuer string `json:"issuer"`
}

// HealthResponse GET /readyz
type HealthResponse struct {
	Status     string            `json:"status"` // ready|unavailable
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
}
