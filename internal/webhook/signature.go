package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Headers de los webhooks salientes.
const (
	HeaderSignature = "X-Mandato-Signature"
	HeaderEvent     = "X-Mandato-Event"
	HeaderDelivery  = "X-Mandato-Delivery"
	HeaderTimestamp = "X-Mandato-Timestamp"
	HeaderAttempt   = "X-Mandato-Attempt"

	// HeaderACPSignature header de los webhooks entrantes del PSP.
	HeaderACPSignature = "X-ACP-Signature"

	signaturePrefix = "sha256="
)

func mac(secret string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write(body)
	return m.Sum(nil)
}

// Sign firma los bytes exactos del body: "sha256=<hex>".
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac(secret, body))
}

// VerifySignature compara en tiempo constante. El prefijo "sha256=" es opcional.
func VerifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(header), signaturePrefix) {
		header = header[len(signaturePrefix):]
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, mac(secret, body))
}
