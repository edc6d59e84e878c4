package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/mandato/internal/domain/types"
)

// Tipos de audit event.
const (
	AuditAuthorizationCreated  = "authorization.created"
	AuditAuthorizationVerified = "authorization.verified"
	AuditAuthorizationRevoked  = "authorization.revoked"
	AuditTokenUsed             = "token.used"
)

// Fuentes de un audit event.
const (
	AuditSourceAPI        = "api"
	AuditSourceVerifier   = "verifier"
	AuditSourceACPWebhook = "acp_webhook"
	AuditSourceSystem     = "system"
)

// AuditEvent es un registro append-only. Nunca se muta ni se borra.
type AuditEvent struct {
	ID                 string
	TenantID           string
	AuthorizationID    string
	Type               string
	Source             string
	FromStatus         types.Status
	ToStatus           types.Status
	VerificationStatus types.VerificationStatus
	Reason             string
	Details            map[string]any
	CreatedAt          time.Time
}

// AuditRepository define el sink de auditoría.
type AuditRepository interface {
	Append(ctx context.Context, e *AuditEvent) error
	// ListByAuthorization devuelve los eventos en orden cronológico.
	ListByAuthorization(ctx context.Context, tenantID, authorizationID string) ([]*AuditEvent, error)
}
