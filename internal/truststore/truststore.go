// Package truststore resuelve las claves públicas de los emisores AP2.
//
// CachedResolver es un componente inyectado (no un singleton global):
//
//	ResolveKey ─► L1 go-cache (TTL = refresh interval)
//	                │ miss
//	                ▼
//	           singleflight por emisor
//	                │
//	                ▼
//	           L2 cache.Client (memory | redis, JSON del key-set)
//	                │ miss
//	                ▼
//	           TrustedKeyRepository (fuente de verdad)
//
// Invalidate(issuer) / InvalidateAll() son los únicos puntos de escritura
// además del refresco por TTL; la verificación sólo lee.
package truststore

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

// ErrKeyNotFound el emisor no tiene una clave utilizable con ese kid.
var ErrKeyNotFound = errors.New("truststore: key not found")

// IsKeyNotFound helper.
func IsKeyNotFound(err error) bool { return errors.Is(err, ErrKeyNotFound) }

// Key es una clave pública lista para verificar firmas.
type Key struct {
	Issuer    string
	KID       string
	Algorithm string
	Public    crypto.PublicKey
}

// Resolver provee claves de firma por (emisor, kid).
// Cualquier error distinto de ErrKeyNotFound es de infraestructura.
type Resolver interface {
	ResolveKey(ctx context.Context, issuer, keyID string) (*Key, error)
}

// keySet son las claves parseadas de un emisor, más nuevas primero.
type keySet struct {
	keys []*Key
	// active marca qué keys siguen activas (kid vacío elige la primera activa).
	active []bool
}

func (s *keySet) pick(keyID string) (*Key, bool) {
	for i, k := range s.keys {
		if keyID == "" {
			if s.active[i] {
				return k, true
			}
			continue
		}
		if k.KID == keyID {
			return k, true
		}
	}
	return nil, false
}

// buildKeySet parsea las JWK; las inválidas o revocadas se omiten.
func buildKeySet(stored []*repository.TrustedKey, skip func(k *repository.TrustedKey, err error)) *keySet {
	set := &keySet{}
	for _, tk := range stored {
		if !tk.Status.Usable() {
			continue
		}
		pub, err := PublicKeyFromJWK(tk.JWK)
		if err != nil {
			if skip != nil {
				skip(tk, err)
			}
			continue
		}
		alg := tk.Algorithm
		if alg == "" {
			alg = DefaultAlgorithm(tk.JWK)
		}
		kid := tk.KID
		if kid == "" {
			kid = tk.JWK.KID
		}
		set.keys = append(set.keys, &Key{Issuer: tk.Issuer, KID: kid, Algorithm: alg, Public: pub})
		set.active = append(set.active, tk.Status == repository.KeyStatusActive || tk.Status == "")
	}
	return set
}

// StaticResolver resuelve contra un mapa fijo. Útil en tests.
type StaticResolver map[string][]*Key

func (s StaticResolver) ResolveKey(_ context.Context, issuer, keyID string) (*Key, error) {
	for _, k := range s[issuer] {
		if keyID == "" || k.KID == keyID {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: issuer=%s kid=%s", ErrKeyNotFound, issuer, keyID)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
