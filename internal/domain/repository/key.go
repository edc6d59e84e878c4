package repository

import (
	"context"
	"time"
)

// TrustedKey es una clave pública de un emisor confiable (truststore AP2).
// La gestión (alta/rotación) es externa; aquí sólo se consume.
type TrustedKey struct {
	Issuer    string // DID del emisor
	KID       string
	Algorithm string // "EdDSA", "ES256", "RS256", ...
	JWK       JWK
	Status    KeyStatus
	CreatedAt time.Time
}

// KeyStatus indica el estado de una clave.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
	KeyStatusRevoked KeyStatus = "revoked"
)

// Usable indica si la clave puede verificar firmas (active o retired).
func (s KeyStatus) Usable() bool {
	return s == KeyStatusActive || s == KeyStatusRetired || s == ""
}

// JWK representa una clave pública en formato JWK.
type JWK struct {
	KID string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKS representa un conjunto de claves públicas.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// TrustedKeyRepository fuente de verdad del truststore.
type TrustedKeyRepository interface {
	// ListByIssuer devuelve todas las claves del emisor (cualquier status).
	ListByIssuer(ctx context.Context, issuer string) ([]*TrustedKey, error)

	// Upsert inserta o reemplaza (issuer, kid). Usado por seeds y tests.
	Upsert(ctx context.Context, k *TrustedKey) error
}
