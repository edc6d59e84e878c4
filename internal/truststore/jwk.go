package truststore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

// ErrUnsupportedKey la JWK no es de un tipo/curva soportado.
var ErrUnsupportedKey = errors.New("truststore: unsupported key")

func b64url(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// PublicKeyFromJWK convierte una JWK pública a crypto.PublicKey.
// Soporta OKP/Ed25519, EC P-256/P-384 y RSA.
func PublicKeyFromJWK(j repository.JWK) (crypto.PublicKey, error) {
	switch j.Kty {
	case "OKP":
		if j.Crv != "Ed25519" {
			return nil, fmt.Errorf("%w: OKP curve %q", ErrUnsupportedKey, j.Crv)
		}
		x, err := b64url(j.X)
		if err != nil || len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: bad Ed25519 x", ErrUnsupportedKey)
		}
		return ed25519.PublicKey(x), nil

	case "EC":
		var curve elliptic.Curve
		switch j.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		default:
			return nil, fmt.Errorf("%w: EC curve %q", ErrUnsupportedKey, j.Crv)
		}
		x, errX := b64url(j.X)
		y, errY := b64url(j.Y)
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("%w: bad EC coordinates", ErrUnsupportedKey)
		}
		pub := &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
		if !curve.IsOnCurve(pub.X, pub.Y) {
			return nil, fmt.Errorf("%w: point not on curve", ErrUnsupportedKey)
		}
		return pub, nil

	case "RSA":
		n, errN := b64url(j.N)
		e, errE := b64url(j.E)
		if errN != nil || errE != nil || len(n) == 0 || len(e) == 0 {
			return nil, fmt.Errorf("%w: bad RSA modulus/exponent", ErrUnsupportedKey)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
	}
	return nil, fmt.Errorf("%w: kty %q", ErrUnsupportedKey, j.Kty)
}

// DefaultAlgorithm alg JWS por defecto para una JWK sin "alg".
func DefaultAlgorithm(j repository.JWK) string {
	if j.Alg != "" {
		return j.Alg
	}
	switch j.Kty {
	case "OKP":
		return "EdDSA"
	case "EC":
		if j.Crv == "P-384" {
			return "ES384"
		}
		return "ES256"
	case "RSA":
		return "RS256"
	}
	return ""
}

// JWKFromPublicKey serializa una clave pública como JWK (seeds y tests).
func JWKFromPublicKey(kid, alg string, pub crypto.PublicKey) (repository.JWK, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return repository.JWK{KID: kid, Kty: "OKP", Crv: "Ed25519", Alg: alg, Use: "sig",
			X: base64.RawURLEncoding.EncodeToString(k)}, nil
	case *ecdsa.PublicKey:
		size := (k.Curve.Params().BitSize + 7) / 8
		return repository.JWK{KID: kid, Kty: "EC", Crv: k.Curve.Params().Name, Alg: alg, Use: "sig",
			X: base64.RawURLEncoding.EncodeToString(k.X.FillBytes(make([]byte, size))),
			Y: base64.RawURLEncoding.EncodeToString(k.Y.FillBytes(make([]byte, size)))}, nil
	case *rsa.PublicKey:
		return repository.JWK{KID: kid, Kty: "RSA", Alg: alg, Use: "sig",
			N: base64.RawURLEncoding.EncodeToString(k.N.Bytes()),
			E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.E)).Bytes())}, nil
	}
	return repository.JWK{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}
