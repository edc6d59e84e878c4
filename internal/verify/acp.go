package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropDatabas3/mandato/internal/domain/types"
)

// flexString acepta "5000.00" o 5000.00 en el JSON.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ACPToken es un token delegado emitido por un PSP.
type ACPToken struct {
	TokenID     string         `json:"token_id"`
	PSPID       string         `json:"psp_id"`
	MerchantID  string         `json:"merchant_id"`
	MaxAmount   flexString     `json:"max_amount"`
	Currency    string         `json:"currency"`
	ExpiresAt   flexString     `json:"expires_at"` // RFC3339 o unix seconds
	Constraints map[string]any `json:"constraints,omitempty"`
}

// DecodeACP decodifica el token; sólo falla si no es un objeto JSON.
func DecodeACP(payload json.RawMessage) (ACPToken, error) {
	var t ACPToken
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return t, fmt.Errorf("%w: ACP token must be a JSON object", ErrInvalidPayload)
	}
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return t, nil
}

func parseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

func isISO4217(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ACPVerifier valida tokens ACP por reglas de negocio (no hay firma que verificar).
type ACPVerifier struct {
	allowed map[string]struct{} // vacío = cualquier PSP
	clock   Clock
}

var _ Verifier = (*ACPVerifier)(nil)

// NewACPVerifier crea el verifier con el allow-list de PSPs.
func NewACPVerifier(allowedPSPs []string, clock Clock) *ACPVerifier {
	allowed := make(map[string]struct{}, len(allowedPSPs))
	for _, p := range allowedPSPs {
		if p = strings.TrimSpace(p); p != "" {
			allowed[p] = struct{}{}
		}
	}
	return &ACPVerifier{allowed: allowed, clock: clock}
}

func (v *ACPVerifier) Describe(payload json.RawMessage) (Descriptor, error) {
	t, err := DecodeACP(payload)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		Issuer:      t.PSPID,
		Subject:     t.MerchantID,
		ExternalRef: t.TokenID,
		Scope:       t.Constraints,
		Currency:    strings.ToUpper(t.Currency),
	}
	if amt, err := decimal.NewFromString(string(t.MaxAmount)); err == nil {
		d.AmountLimit = &amt
	}
	if exp, ok := parseExpiry(string(t.ExpiresAt)); ok {
		d.ExpiresAt = &exp
	}
	return d, nil
}

func (v *ACPVerifier) Verify(_ context.Context, _ string, payload json.RawMessage) (Result, error) {
	t, err := DecodeACP(payload)
	if err != nil {
		return result(types.VerificationInvalidFormat, nil, "malformed token: %v", err), nil
	}
	details := map[string]any{
		"token_id":    t.TokenID,
		"psp_id":      t.PSPID,
		"merchant_id": t.MerchantID,
		"max_amount":  string(t.MaxAmount),
		"currency":    t.Currency,
		"expires_at":  string(t.ExpiresAt),
	}

	// (a) schema
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"token_id", t.TokenID},
		{"psp_id", t.PSPID},
		{"merchant_id", t.MerchantID},
		{"max_amount", string(t.MaxAmount)},
		{"currency", t.Currency},
		{"expires_at", string(t.ExpiresAt)},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return result(types.VerificationInvalidFormat, details, "missing required fields: %s", strings.Join(missing, ", ")), nil
	}
	if !isISO4217(t.Currency) {
		return result(types.VerificationInvalidFormat, details, "currency %q is not an ISO-4217 code", t.Currency), nil
	}
	exp, ok := parseExpiry(string(t.ExpiresAt))
	if !ok {
		return result(types.VerificationInvalidFormat, details, "expires_at %q is not a valid timestamp", t.ExpiresAt), nil
	}
	details["expires_at"] = exp.Format(time.RFC3339)

	// (b) expiración estricta
	if !exp.After(v.clock.now()) {
		return result(types.VerificationExpired, details, "token expired at %s", exp.Format(time.RFC3339)), nil
	}

	// (c) monto
	amt, err := decimal.NewFromString(string(t.MaxAmount))
	if err != nil {
		return result(types.VerificationAmountInvalid, details, "max_amount %q is not a decimal", t.MaxAmount), nil
	}
	if !amt.IsPositive() {
		return result(types.VerificationAmountInvalid, details, "max_amount must be positive, got %s", amt), nil
	}

	// (d) constraints.merchant
	if raw, ok := t.Constraints["merchant"]; ok {
		m, isStr := raw.(string)
		if !isStr || m != t.MerchantID {
			return result(types.VerificationConstraintViolation, details,
				"constraints.merchant: expected %s, got %v", t.MerchantID, raw), nil
		}
	}

	// (e) allow-list de PSPs
	if len(v.allowed) > 0 {
		if _, ok := v.allowed[t.PSPID]; !ok {
			return result(types.VerificationPSPNotAllowed, details, "psp %s is not in the allow-list", t.PSPID), nil
		}
	}

	return result(types.VerificationValid, details, "all verification checks passed"), nil
}
