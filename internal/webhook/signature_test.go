package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature_RoundTrip(t *testing.T) {
	body := []byte(`{"event_id":"evt_1","event_type":"token.used"}`)
	sig := Sign("whsec_test", body)

	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, VerifySignature("whsec_test", body, sig))
	assert.True(t, VerifySignature("whsec_test", body, strings.TrimPrefix(sig, "sha256=")), "prefix is optional")
	assert.True(t, VerifySignature("whsec_test", body, "SHA256="+strings.TrimPrefix(sig, "sha256=")))
}

func TestSignature_Rejects(t *testing.T) {
	body := []byte(`{"event_id":"evt_1","event_type":"token.used"}`)
	sig := Sign("whsec_test", body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, VerifySignature("whsec_test", mutated, sig), "byte %d", i)
	}
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("whsec_test", body, ""))
	assert.False(t, VerifySignature("whsec_test", body, "sha256=zz"))
	assert.False(t, VerifySignature("", body, Sign("", body)))
}
