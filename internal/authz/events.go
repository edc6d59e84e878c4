package authz

import (
	"context"
	"time"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

// Eventos de webhook saliente. Sólo se emiten cuando cambia el status.
const (
	EventAuthorizationVerified    = "authorization.verified"
	EventAuthorizationExpired     = "authorization.expired"
	EventAuthorizationInvalidated = "authorization.invalidated"
	EventAuthorizationRevoked     = "authorization.revoked"
)

// EventTypeFor evento saliente correspondiente al nuevo status ("" si no hay).
func EventTypeFor(s types.Status) string {
	switch s {
	case types.StatusValid:
		return EventAuthorizationVerified
	case types.StatusExpired:
		return EventAuthorizationExpired
	case types.StatusInvalid:
		return EventAuthorizationInvalidated
	case types.StatusRevoked:
		return EventAuthorizationRevoked
	}
	return ""
}

// Enqueuer recibe eventos para entrega asíncrona (el WebhookDispatcher).
// EnqueueTx persiste las entregas en la tx del cambio de estado y nunca espera
// la entrega; Wake se llama después del commit.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx repository.Store, tenantID, eventType string, authorization any) error
	Wake()
}

// Observer recibe métricas de verificación.
type Observer interface {
	VerificationCompleted(protocol types.Protocol, status types.VerificationStatus, took time.Duration)
	StatusChanged(protocol types.Protocol, from, to types.Status)
}

type nopObserver struct{}

func (nopObserver) VerificationCompleted(types.Protocol, types.VerificationStatus, time.Duration) {}
func (nopObserver) StatusChanged(types.Protocol, types.Status, types.Status)                      {}

// View es la representación pública (JSON) de una autorización: la usan la
// API HTTP y el payload de los webhooks salientes.
type View struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenant_id"`
	Protocol           types.Protocol `json:"protocol"`
	Issuer             string         `json:"issuer,omitempty"`
	Subject            string         `json:"subject,omitempty"`
	ExternalRef        string         `json:"external_ref,omitempty"`
	Scope              map[string]any `json:"scope,omitempty"`
	AmountLimit        string         `json:"amount_limit,omitempty"`
	Currency           string         `json:"currency,omitempty"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
	Status             types.Status   `json:"status"`
	VerificationStatus string         `json:"verification_status,omitempty"`
	VerificationReason string         `json:"verification_reason,omitempty"`
	VerifiedAt         *time.Time     `json:"verified_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ViewOf construye la View de una autorización.
func ViewOf(a *repository.Authorization) View {
	v := View{
		ID:                 a.ID,
		TenantID:           a.TenantID,
		Protocol:           a.Protocol,
		Issuer:             a.Issuer,
		Subject:            a.Subject,
		ExternalRef:        a.ExternalRef,
		Scope:              a.Scope,
		Currency:           a.Currency,
		ExpiresAt:          a.ExpiresAt,
		Status:             a.Status,
		VerificationStatus: string(a.VerificationStatus),
		VerificationReason: a.VerificationReason,
		VerifiedAt:         a.VerifiedAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if a.AmountLimit != nil {
		v.AmountLimit = a.AmountLimit.StringFixed(2)
	}
	return v
}
