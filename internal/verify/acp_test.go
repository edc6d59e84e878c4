package verify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mandato/internal/domain/types"
)

func acpToken(mut func(m map[string]any)) json.RawMessage {
	m := map[string]any{
		"token_id":    "tok_123",
		"psp_id":      "psp_stripe",
		"merchant_id": "merchant-acme",
		"max_amount":  "5000.00",
		"currency":    "USD",
		"expires_at":  fixedNow.AddDate(1, 0, 0).Format(time.RFC3339),
		"constraints": map[string]any{"merchant": "merchant-acme"},
	}
	if mut != nil {
		mut(m)
	}
	b, _ := json.Marshal(m)
	return b
}

func TestACP_Checks(t *testing.T) {
	v := NewACPVerifier([]string{"psp_stripe", "psp_adyen"}, func() time.Time { return fixedNow })

	cases := []struct {
		name   string
		mut    func(m map[string]any)
		status types.VerificationStatus
	}{
		{"valid", nil, types.VerificationValid},
		{"numeric amount", func(m map[string]any) { m["max_amount"] = 5000.5 }, types.VerificationValid},
		{"no constraints", func(m map[string]any) { delete(m, "constraints") }, types.VerificationValid},
		{"missing merchant_id", func(m map[string]any) { delete(m, "merchant_id") }, types.VerificationInvalidFormat},
		{"bad currency", func(m map[string]any) { m["currency"] = "dollars" }, types.VerificationInvalidFormat},
		{"bad expiry", func(m map[string]any) { m["expires_at"] = "tomorrow" }, types.VerificationInvalidFormat},
		{"expired", func(m map[string]any) { m["expires_at"] = fixedNow.Add(-time.Second).Format(time.RFC3339) }, types.VerificationExpired},
		{"expires now", func(m map[string]any) { m["expires_at"] = fixedNow.Format(time.RFC3339) }, types.VerificationExpired},
		{"zero amount", func(m map[string]any) { m["max_amount"] = "0" }, types.VerificationAmountInvalid},
		{"negative amount", func(m map[string]any) { m["max_amount"] = "-1.00" }, types.VerificationAmountInvalid},
		{"non decimal", func(m map[string]any) { m["max_amount"] = "lots" }, types.VerificationAmountInvalid},
		{"merchant mismatch", func(m map[string]any) {
			m["constraints"] = map[string]any{"merchant": "merchant-evil"}
		}, types.VerificationConstraintViolation},
		{"psp not allowed", func(m map[string]any) { m["psp_id"] = "psp_unknown" }, types.VerificationPSPNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := v.Verify(context.Background(), "t1", acpToken(tc.mut))
			require.NoError(t, err)
			assert.Equal(t, tc.status, res.Status, res.Reason)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestACP_FirstFailingCheckWins(t *testing.T) {
	v := NewACPVerifier([]string{"psp_stripe"}, func() time.Time { return fixedNow })
	// vencido + monto inválido + merchant distinto: gana el vencimiento (b)
	res, err := v.Verify(context.Background(), "t1", acpToken(func(m map[string]any) {
		m["expires_at"] = fixedNow.Add(-time.Hour).Format(time.RFC3339)
		m["max_amount"] = "0"
		m["constraints"] = map[string]any{"merchant": "x"}
	}))
	require.NoError(t, err)
	assert.Equal(t, types.VerificationExpired, res.Status)
}

func TestACP_EmptyAllowListAcceptsAnyPSP(t *testing.T) {
	v := NewACPVerifier(nil, func() time.Time { return fixedNow })
	res, err := v.Verify(context.Background(), "t1", acpToken(func(m map[string]any) { m["psp_id"] = "psp_anything" }))
	require.NoError(t, err)
	assert.Equal(t, types.VerificationValid, res.Status)
}

func TestACP_Describe(t *testing.T) {
	v := NewACPVerifier(nil, nil)
	d, err := v.Describe(acpToken(nil))
	require.NoError(t, err)
	assert.Equal(t, "psp_stripe", d.Issuer)
	assert.Equal(t, "merchant-acme", d.Subject)
	assert.Equal(t, "tok_123", d.ExternalRef)
	assert.Equal(t, "5000", d.AmountLimit.String())
	assert.Equal(t, "USD", d.Currency)

	_, err = v.Describe(json.RawMessage(`"just a string"`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRegistry_Dispatch(t *testing.T) {
	reg := NewRegistry(map[types.Protocol]Verifier{
		types.ProtocolACP: NewACPVerifier(nil, func() time.Time { return fixedNow }),
	})

	res, err := reg.Verify(context.Background(), types.ProtocolACP, "t1", acpToken(nil))
	require.NoError(t, err)
	assert.True(t, res.Valid())

	_, err = reg.Verify(context.Background(), types.ProtocolAP2, "t1", json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)

	_, err = reg.Describe(types.Protocol("SEPA"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
}
