// Package verify implementa la verificación por protocolo de las autorizaciones.
//
// Cada protocolo es un Verifier; Registry es la tabla de despacho por tag.
// Los resultados de verificación (válidos o no) son valores: un Result con
// status + reason. Sólo las fallas de infraestructura (truststore caído, etc.)
// se devuelven como error.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropDatabas3/mandato/internal/domain/types"
)

var (
	// ErrUnsupportedProtocol no hay verifier registrado para el tag.
	ErrUnsupportedProtocol = errors.New("verify: unsupported protocol")
	// ErrInvalidPayload el envelope del payload no es decodificable (error de request, no de protocolo).
	ErrInvalidPayload = errors.New("verify: invalid payload")
)

// Result es el contrato único de salida de todos los verifiers.
type Result struct {
	Status  types.VerificationStatus `json:"status"`
	Reason  string                   `json:"reason"`
	Details map[string]any           `json:"details,omitempty"`
}

// Valid indica si el resultado es VALID.
func (r Result) Valid() bool { return r.Status == types.VerificationValid }

func result(status types.VerificationStatus, details map[string]any, format string, args ...any) Result {
	return Result{Status: status, Reason: fmt.Sprintf(format, args...), Details: details}
}

// Descriptor son los campos descriptivos extraídos del payload sin verificarlo.
// Best-effort: un payload con credencial malformada produce un Descriptor vacío.
type Descriptor struct {
	Issuer      string
	Subject     string
	ExternalRef string
	Scope       map[string]any
	AmountLimit *decimal.Decimal
	Currency    string
	ExpiresAt   *time.Time
}

// Verifier verifica payloads de un protocolo.
type Verifier interface {
	// Describe valida el envelope (ErrInvalidPayload) y extrae campos descriptivos.
	Describe(payload json.RawMessage) (Descriptor, error)
	// Verify nunca retorna error por una verificación fallida; sí por infraestructura.
	Verify(ctx context.Context, tenantID string, payload json.RawMessage) (Result, error)
}

// Registry despacha por protocolo.
type Registry struct {
	verifiers map[types.Protocol]Verifier
}

// NewRegistry crea el registry con los verifiers dados.
func NewRegistry(verifiers map[types.Protocol]Verifier) *Registry {
	m := make(map[types.Protocol]Verifier, len(verifiers))
	for p, v := range verifiers {
		m[p] = v
	}
	return &Registry{verifiers: m}
}

func (r *Registry) lookup(p types.Protocol) (Verifier, error) {
	v, ok := r.verifiers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, p)
	}
	return v, nil
}

// Describe despacha Describe por protocolo.
func (r *Registry) Describe(p types.Protocol, payload json.RawMessage) (Descriptor, error) {
	v, err := r.lookup(p)
	if err != nil {
		return Descriptor{}, err
	}
	return v.Describe(payload)
}

// Verify despacha Verify por protocolo.
func (r *Registry) Verify(ctx context.Context, p types.Protocol, tenantID string, payload json.RawMessage) (Result, error) {
	v, err := r.lookup(p)
	if err != nil {
		return Result{}, err
	}
	return v.Verify(ctx, tenantID, payload)
}

// Clock fuente de tiempo inyectable.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
