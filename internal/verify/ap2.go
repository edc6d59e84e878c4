package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/dropDatabas3/mandato/internal/domain/types"
	"github.com/dropDatabas3/mandato/internal/truststore"
)

// AP2Input es el envelope de un mandato AP2: la credencial compacta (JWS)
// y una expectativa opcional declarada por el llamador.
type AP2Input struct {
	Credential string       `json:"credential"`
	Expect     *Expectation `json:"expect,omitempty"`
}

// Expectation restringe el scope/monto aceptable para esta verificación.
type Expectation struct {
	Scope    map[string]any `json:"scope,omitempty"`
	Amount   string         `json:"amount,omitempty"`
	Currency string         `json:"currency,omitempty"`
}

// DecodeAP2 acepta un JSON string (credencial sola) o un objeto AP2Input.
func DecodeAP2(payload json.RawMessage) (AP2Input, error) {
	var in AP2Input
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return in, fmt.Errorf("%w: empty AP2 payload", ErrInvalidPayload)
	}
	if trimmed[0] == '"' {
		if err := json.Unmarshal(payload, &in.Credential); err != nil {
			return in, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	} else if err := json.Unmarshal(payload, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(in.Credential) == "" {
		return in, fmt.Errorf("%w: credential is required", ErrInvalidPayload)
	}
	return in, nil
}

// AP2Verifier verifica credenciales AP2 contra el truststore.
type AP2Verifier struct {
	keys  truststore.Resolver
	clock Clock
}

var _ Verifier = (*AP2Verifier)(nil)

// NewAP2Verifier crea el verifier. clock nil = time.Now.
func NewAP2Verifier(keys truststore.Resolver, clock Clock) *AP2Verifier {
	return &AP2Verifier{keys: keys, clock: clock}
}

// Describe extrae issuer/subject/scope/monto/exp sin verificar la firma.
func (v *AP2Verifier) Describe(payload json.RawMessage) (Descriptor, error) {
	in, err := DecodeAP2(payload)
	if err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	claims := jwtv5.MapClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(in.Credential, claims); err != nil {
		return d, nil // la verificación lo reportará como INVALID_FORMAT
	}
	d.Issuer, _ = claims["iss"].(string)
	d.Subject, _ = claims["sub"].(string)
	d.ExternalRef, _ = claims["jti"].(string)
	d.Scope = scopeOf(claims)
	d.AmountLimit, d.Currency = limitsOf(claims, d.Scope)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		d.ExpiresAt = &t
	}
	return d, nil
}

// Verify ejecuta los chequeos en orden y corta en el primero que falla.
func (v *AP2Verifier) Verify(ctx context.Context, _ string, payload json.RawMessage) (Result, error) {
	in, err := DecodeAP2(payload)
	if err != nil {
		return result(types.VerificationInvalidFormat, nil, "malformed credential envelope: %v", err), nil
	}

	// 1. estructura header.payload.signature
	claims := jwtv5.MapClaims{}
	unverified, _, err := jwtv5.NewParser().ParseUnverified(in.Credential, claims)
	if err != nil {
		return result(types.VerificationInvalidFormat, nil, "malformed credential: %v", err), nil
	}

	// 2. emisor + kid → clave
	issuer, _ := claims["iss"].(string)
	kid, _ := unverified.Header["kid"].(string)
	details := map[string]any{"issuer": issuer, "kid": kid, "alg": unverified.Method.Alg()}
	if issuer == "" {
		return result(types.VerificationIssuerUnknown, details, "credential has no issuer; signing key cannot be resolved"), nil
	}
	key, err := v.keys.ResolveKey(ctx, issuer, kid)
	if err != nil {
		if truststore.IsKeyNotFound(err) {
			return result(types.VerificationIssuerUnknown, details, "no trusted key for issuer %s (kid %q)", issuer, kid), nil
		}
		return Result{}, fmt.Errorf("ap2: resolve key: %w", err)
	}
	details["kid"] = key.KID

	// 3. firma, con el alg de la clave (nunca el que declara el token)
	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{key.Algorithm}),
		jwtv5.WithoutClaimsValidation(),
	)
	if _, err := parser.Parse(in.Credential, func(*jwtv5.Token) (any, error) { return key.Public, nil }); err != nil {
		return result(types.VerificationSigInvalid, details, "signature verification failed: %v", sigCause(err)), nil
	}

	// 4. claims requeridos
	scope := scopeOf(claims)
	var missing []string
	sub, _ := claims["sub"].(string)
	if sub == "" {
		missing = append(missing, "sub")
	}
	iat, errIat := claims.GetIssuedAt()
	if errIat != nil || iat == nil {
		missing = append(missing, "iat")
	}
	exp, errExp := claims.GetExpirationTime()
	if errExp != nil || exp == nil {
		missing = append(missing, "exp")
	}
	if scope == nil {
		missing = append(missing, "scope")
	}
	if len(missing) > 0 {
		return result(types.VerificationMissingRequiredField, details, "missing required claims: %s", strings.Join(missing, ", ")), nil
	}

	amount, currency := limitsOf(claims, scope)
	details["subject"] = sub
	details["iat"] = iat.Time.UTC().Format(time.RFC3339)
	details["exp"] = exp.Time.UTC().Format(time.RFC3339)
	details["scope"] = scope
	if amount != nil {
		details["amount_limit"] = amount.String()
	}
	if currency != "" {
		details["currency"] = currency
	}

	// 5. expiración
	if !v.clock.now().Before(exp.Time) {
		return result(types.VerificationExpired, details, "credential expired at %s", exp.Time.UTC().Format(time.RFC3339)), nil
	}

	// 6. expectativa del llamador
	if in.Expect != nil {
		if reason, ok := checkExpectation(in.Expect, scope, amount, currency); !ok {
			return result(types.VerificationScopeInvalid, details, "%s", reason), nil
		}
	}

	// 7.
	return result(types.VerificationValid, details, "all verification checks passed"), nil
}

func sigCause(err error) string {
	switch {
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
		return "signature does not match"
	case errors.Is(err, jwtv5.ErrTokenUnverifiable):
		return "algorithm not accepted for the issuer key"
	}
	return err.Error()
}

// scopeOf lee "scope" del payload o de vc.credentialSubject.scope.
// Un scope string ("a b c") se normaliza a {"a":true,...}.
func scopeOf(claims jwtv5.MapClaims) map[string]any {
	if s := asScope(claims["scope"]); s != nil {
		return s
	}
	if vc, ok := claims["vc"].(map[string]any); ok {
		if cs, ok := vc["credentialSubject"].(map[string]any); ok {
			return asScope(cs["scope"])
		}
	}
	return nil
}

func asScope(v any) map[string]any {
	switch s := v.(type) {
	case map[string]any:
		return s
	case string:
		if strings.TrimSpace(s) == "" {
			return nil
		}
		out := map[string]any{}
		for _, f := range strings.Fields(s) {
			out[f] = true
		}
		return out
	}
	return nil
}

// limitsOf busca amount_limit/max_amount y currency en scope o claims.
func limitsOf(claims jwtv5.MapClaims, scope map[string]any) (*decimal.Decimal, string) {
	var amount *decimal.Decimal
	for _, src := range []map[string]any{scope, claims} {
		if src == nil {
			continue
		}
		for _, k := range []string{"amount_limit", "max_amount"} {
			if d, ok := toDecimal(src[k]); ok && amount == nil {
				amount = &d
			}
		}
	}
	currency, _ := scope["currency"].(string)
	if currency == "" {
		currency, _ = claims["currency"].(string)
	}
	return amount, strings.ToUpper(currency)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func checkExpectation(e *Expectation, scope map[string]any, limit *decimal.Decimal, currency string) (string, bool) {
	keys := make([]string, 0, len(e.Scope))
	for k := range e.Scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := scope[k]
		if !ok {
			return fmt.Sprintf("scope.%s: expected %v, got none", k, e.Scope[k]), false
		}
		if fmt.Sprint(got) != fmt.Sprint(e.Scope[k]) {
			return fmt.Sprintf("scope.%s: expected %v, got %v", k, e.Scope[k], got), false
		}
	}
	if e.Amount != "" {
		want, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return fmt.Sprintf("amount: expected a decimal, got %q", e.Amount), false
		}
		if limit == nil {
			return fmt.Sprintf("amount: expected a limit of at least %s, got none", want), false
		}
		if want.GreaterThan(*limit) {
			return fmt.Sprintf("amount: expected at most %s, got %s", limit, want), false
		}
	}
	if e.Currency != "" && !strings.EqualFold(e.Currency, currency) {
		return fmt.Sprintf("currency: expected %s, got %s", strings.ToUpper(e.Currency), currency), false
	}
	return "", true
}
