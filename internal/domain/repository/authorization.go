package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropDatabas3/mandato/internal/domain/types"
)

// Authorization es la entidad central: un mandato AP2 o un token delegado ACP.
type Authorization struct {
	ID       string
	TenantID string
	Protocol types.Protocol // inmutable

	Issuer      string // DID (AP2) o PSP (ACP)
	Subject     string // DID (AP2) o merchant (ACP)
	ExternalRef string // token_id (ACP), jti (AP2) si existe

	Scope       map[string]any
	AmountLimit *decimal.Decimal
	Currency    string
	ExpiresAt   *time.Time

	Status             types.Status
	VerificationStatus types.VerificationStatus
	VerificationReason string
	VerifiedAt         *time.Time

	// Payload es la credencial/token tal como llegó. Inmutable.
	Payload json.RawMessage

	// Version es el guard de concurrencia optimista por fila.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone devuelve una copia profunda (los stores en memoria no comparten punteros).
func (a *Authorization) Clone() *Authorization {
	if a == nil {
		return nil
	}
	c := *a
	if a.Scope != nil {
		c.Scope = make(map[string]any, len(a.Scope))
		for k, v := range a.Scope {
			c.Scope[k] = v
		}
	}
	if a.AmountLimit != nil {
		v := *a.AmountLimit
		c.AmountLimit = &v
	}
	if a.ExpiresAt != nil {
		v := *a.ExpiresAt
		c.ExpiresAt = &v
	}
	if a.VerifiedAt != nil {
		v := *a.VerifiedAt
		c.VerifiedAt = &v
	}
	if a.Payload != nil {
		c.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return &c
}

// SearchFilter filtros de búsqueda (siempre scoped a TenantID).
type SearchFilter struct {
	TenantID    string
	Protocol    types.Protocol
	Status      types.Status
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// SearchResult página de resultados.
type SearchResult struct {
	Items []*Authorization
	Total int
}

// AuthorizationRepository define operaciones sobre autorizaciones.
type AuthorizationRepository interface {
	// Create persiste una nueva autorización (Version = 1).
	Create(ctx context.Context, a *Authorization) error

	// Get busca por ID dentro del tenant. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, tenantID, id string) (*Authorization, error)

	// GetByExternalRef busca por referencia externa (token_id ACP) en todos los tenants.
	GetByExternalRef(ctx context.Context, protocol types.Protocol, ref string) (*Authorization, error)

	// Update escribe los campos mutables (status, verification_*, updated_at)
	// sólo si la versión almacenada es expectedVersion. En éxito a.Version queda
	// en expectedVersion+1. Retorna ErrPreconditionFailed si hubo otra escritura.
	Update(ctx context.Context, a *Authorization, expectedVersion int64) error

	// Search lista autorizaciones paginadas, ordenadas por created_at desc.
	Search(ctx context.Context, f SearchFilter) (*SearchResult, error)
}
