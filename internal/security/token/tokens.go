package tokens

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateSecret retorna prefix + token opaco de nBytes (ej: "whsec_...").
// El prefijo permite reconocer el tipo de secreto en logs y configs.
func GenerateSecret(prefix string, nBytes int) (string, error) {
	t, err := GenerateOpaqueToken(nBytes)
	if err != nil {
		return "", err
	}
	return prefix + t, nil
}
