package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mandato/internal/authz"
	"github.com/dropDatabas3/mandato/internal/domain/types"
	"github.com/dropDatabas3/mandato/internal/http/controllers/admin"
	authzctrl "github.com/dropDatabas3/mandato/internal/http/controllers/authz"
	"github.com/dropDatabas3/mandato/internal/http/controllers/health"
	webhookctrl "github.com/dropDatabas3/mandato/internal/http/controllers/webhooks"
	"github.com/dropDatabas3/mandato/internal/metrics"
	"github.com/dropDatabas3/mandato/internal/rate"
	"github.com/dropDatabas3/mandato/internal/store/memory"
	"github.com/dropDatabas3/mandato/internal/truststore"
	"github.com/dropDatabas3/mandato/internal/verify"
	"github.com/dropDatabas3/mandato/internal/webhook"
)

const pspSecret = "whsec_psp"

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fakeInvalidator struct {
	issuers []string
	all     int
}

func (f *fakeInvalidator) Invalidate(_ context.Context, issuer string) error {
	f.issuers = append(f.issuers, issuer)
	return nil
}

func (f *fakeInvalidator) InvalidateAll(context.Context) error {
	f.all++
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type api struct {
	h     http.Handler
	store *memory.Store
	keys  *fakeInvalidator
}

func newAPI(t *testing.T, db health.Pinger) *api {
	t.Helper()
	clock := func() time.Time { return now }
	st := memory.New()
	reg := verify.NewRegistry(map[types.Protocol]verify.Verifier{
		types.ProtocolAP2: verify.NewAP2Verifier(truststore.StaticResolver{}, clock),
		types.ProtocolACP: verify.NewACPVerifier([]string{"psp_stripe"}, clock),
	})
	d := webhook.NewDispatcher(st, webhook.Config{}, webhook.Options{Clock: clock})
	svc := authz.NewService(st, reg, d, authz.Options{Clock: clock})
	in := webhook.NewIngestor(st, svc, pspSecret, webhook.Options{Clock: clock})
	keys := &fakeInvalidator{}

	promReg := prometheus.NewRegistry()
	mh, err := metrics.Register(metrics.Config{Registry: promReg, Gatherer: promReg})
	require.NoError(t, err)

	h := New(Deps{
		Authorizations: authzctrl.NewController(svc),
		Webhooks:       webhookctrl.NewController(d, in),
		Truststore:     admin.NewTruststoreController(keys),
		Health:         health.NewController("test", map[string]health.Pinger{"store": db}),
		Metrics:        mh,
		InboundLimiter: rate.NewMemoryLimiter(100, time.Minute),
		InboundLimit:   100,
	})
	return &api{h: h, store: st, keys: keys}
}

func (a *api) do(t *testing.T, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	w := httptest.NewRecorder()
	a.h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func acpToken(tokenID, amount string) map[string]any {
	return map[string]any{
		"protocol": "ACP",
		"payload": map[string]any{
			"token_id":    tokenID,
			"psp_id":      "psp_stripe",
			"merchant_id": "merchant-acme",
			"max_amount":  amount,
			"currency":    "USD",
			"expires_at":  now.AddDate(0, 1, 0).Format(time.RFC3339),
		},
	}
}

func (a *api) create(t *testing.T, tokenID, amount string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/authorizations", "t1", acpToken(tokenID, amount))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	auth := decode(t, w)["authorization"].(map[string]any)
	return auth["id"].(string)
}

func TestAuthorizations_Lifecycle(t *testing.T) {
	a := newAPI(t, pinger{})

	w := a.do(t, http.MethodPost, "/v1/authorizations", "t1", acpToken("tok_1", "250"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	auth := body["authorization"].(map[string]any)
	id := auth["id"].(string)
	assert.Equal(t, "VALID", auth["status"])
	assert.Equal(t, "250.00", auth["amount_limit"])
	assert.Equal(t, "VALID", body["verification"].(map[string]any)["status"])
	assert.Equal(t, "/v1/authorizations/"+id, w.Header().Get("Location"))

	w = a.do(t, http.MethodGet, "/v1/authorizations/"+id, "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["id"])

	// otro tenant no la ve
	w = a.do(t, http.MethodGet, "/v1/authorizations/"+id, "t2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPost, "/v1/authorizations/"+id+"/verify", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "VALID", decode(t, w)["authorization"].(map[string]any)["status"])

	w = a.do(t, http.MethodPost, "/v1/authorizations/"+id+"/revoke", "t1", map[string]any{"reason": "user request"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "REVOKED", decode(t, w)["status"])

	w = a.do(t, http.MethodPost, "/v1/authorizations/"+id+"/verify", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "REVOKED", decode(t, w)["authorization"].(map[string]any)["status"])

	w = a.do(t, http.MethodGet, "/v1/authorizations/"+id+"/audit", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)["events"].([]any)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "authorization.created", events[0].(map[string]any)["type"])
	last := events[len(events)-1].(map[string]any)
	assert.Equal(t, "authorization.revoked", last["type"])
	assert.Equal(t, "user request", last["reason"])
}

func TestAuthorizations_Errors(t *testing.T) {
	a := newAPI(t, pinger{})
	a.create(t, "tok_dup", "10")

	cases := []struct {
		name   string
		method string
		path   string
		tenant string
		body   any
		status int
	}{
		{"missing tenant", http.MethodGet, "/v1/authorizations", "", nil, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/v1/authorizations", "t1", []byte(`{"protocol":`), http.StatusBadRequest},
		{"unknown protocol", http.MethodPost, "/v1/authorizations", "t1", map[string]any{"protocol": "XYZ", "payload": map[string]any{}}, http.StatusBadRequest},
		{"duplicate token", http.MethodPost, "/v1/authorizations", "t1", acpToken("tok_dup", "10"), http.StatusConflict},
		{"unknown id", http.MethodGet, "/v1/authorizations/nope", "t1", nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/v1/authorizations?limit=abc", "t1", nil, http.StatusBadRequest},
		{"bad date", http.MethodGet, "/v1/authorizations?created_from=yesterday", "t1", nil, http.StatusBadRequest},
		{"bad status", http.MethodGet, "/v1/authorizations?status=WHATEVER", "t1", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/v1/nothing", "t1", nil, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/v1/authorizations/x", "t1", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, tc.method, tc.path, tc.tenant, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["code"])
		})
	}
}

func TestAuthorizations_Search(t *testing.T) {
	a := newAPI(t, pinger{})
	a.create(t, "tok_a", "10")
	a.create(t, "tok_b", "500")
	a.create(t, "tok_c", "1000")

	w := a.do(t, http.MethodGet, "/v1/authorizations?protocol=acp&min_amount=100&limit=1", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["limit"])
	assert.Len(t, body["items"], 1)

	w = a.do(t, http.MethodGet, "/v1/authorizations?status=VALID", "t2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.EqualValues(t, 0, body["total"])
	assert.EqualValues(t, authz.DefaultSearchLimit, body["limit"])
}

func TestWebhooks_SubscriptionsAndRetry(t *testing.T) {
	a := newAPI(t, pinger{})

	w := a.do(t, http.MethodPost, "/v1/webhooks/subscriptions", "t1", map[string]any{
		"url": "https://merchant.example/hooks", "events": []string{"authorization.revoked"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decode(t, w)
	assert.Regexp(t, `^whsec_`, sub["secret"])
	subID := sub["id"].(string)

	w = a.do(t, http.MethodPost, "/v1/webhooks/subscriptions", "t1", map[string]any{"url": "nope", "events": []string{"*"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/v1/webhooks/subscriptions/"+subID+"/deliveries", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["attempts"])

	w = a.do(t, http.MethodGet, "/v1/webhooks/subscriptions/"+subID+"/deliveries", "t2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPost, "/v1/webhooks/deliveries/retry", "t1", map[string]any{"subscription_id": subID})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["requeued"])

	w = a.do(t, http.MethodPost, "/v1/webhooks/deliveries/retry", "t1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestWebhooks_InboundACP(t *testing.T) {
	a := newAPI(t, pinger{})
	id := a.create(t, "tok_psp", "99")

	ev, _ := json.Marshal(map[string]any{
		"event_id": "evt_1", "event_type": "token.revoked", "timestamp": now.Format(time.RFC3339),
		"data": map[string]any{"token_id": "tok_psp"},
	})
	post := func(body []byte, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/acp", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(webhook.HeaderACPSignature, sig)
		w := httptest.NewRecorder()
		a.h.ServeHTTP(w, req)
		return w
	}

	w := post(ev, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(ev, webhook.Sign(pspSecret, ev))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, webhook.IngestProcessed, decode(t, w)["status"])

	w = post(ev, webhook.Sign(pspSecret, ev))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, webhook.IngestAlreadyProcessed, decode(t, w)["status"])

	w = a.do(t, http.MethodGet, "/v1/authorizations/"+id, "t1", nil)
	assert.Equal(t, "REVOKED", decode(t, w)["status"])

	unknown, _ := json.Marshal(map[string]any{
		"event_id": "evt_2", "event_type": "token.used", "timestamp": now.Unix(),
		"data": map[string]any{"token_id": "tok_missing"},
	})
	w = post(unknown, webhook.Sign(pspSecret, unknown))
	assert.Equal(t, http.StatusNotFound, w.Code)

	bad := []byte(`{"event_id":"evt_3","event_type":"token.exploded","timestamp":1,"data":{"token_id":"tok_psp"}}`)
	w = post(bad, webhook.Sign(pspSecret, bad))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTruststore_Invalidate(t *testing.T) {
	a := newAPI(t, pinger{})

	w := a.do(t, http.MethodPost, "/v1/truststore/invalidate", "", map[string]any{"issuer": "did:web:bank.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(t, http.MethodPost, "/v1/truststore/invalidate", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, []string{"did:web:bank.example"}, a.keys.issuers)
	assert.Equal(t, 1, a.keys.all)
}

func TestReadyzAndMetrics(t *testing.T) {
	a := newAPI(t, pinger{})
	w := a.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", decode(t, w)["components"].(map[string]any)["store"])

	a.do(t, http.MethodGet, "/v1/authorizations", "t1", nil)
	w = a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/v1/authorizations`)

	down := newAPI(t, pinger{err: errors.New("connection refused")})
	w = down.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decode(t, w)["status"])
}
