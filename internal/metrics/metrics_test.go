package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

func TestRegister_ExposesDomainMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := Register(Config{Registry: reg, Gatherer: reg})
	require.NoError(t, err)

	var rec Recorder
	rec.VerificationCompleted(types.ProtocolACP, types.VerificationValid, 3*time.Millisecond)
	rec.StatusChanged(types.ProtocolACP, types.StatusActive, types.StatusValid)
	rec.DeliveryAttempted("authorization.verified", repository.DeliverySucceeded, 20*time.Millisecond)
	rec.InboundProcessed("", "signature_invalid")
	done := HTTPStarted("GET")
	ObserveHTTP("GET", "/readyz", "200", time.Millisecond)
	done()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)

	assert.Contains(t, string(body), `mandato_verifications_total{protocol="ACP",status="VALID"} 1`)
	assert.Contains(t, string(body), `mandato_status_transitions_total{from="ACTIVE",protocol="ACP",to="VALID"} 1`)
	assert.Contains(t, string(body), `mandato_webhook_delivery_attempts_total{event_type="authorization.verified",status="SUCCEEDED"} 1`)
	assert.Contains(t, string(body), `mandato_inbound_events_total{event_type="unknown",result="signature_invalid"} 1`)
	assert.Contains(t, string(body), `http_requests_total{method="GET",route="/readyz",status="200"} 1`)
}

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := Register(Config{Registry: reg})
	require.NoError(t, err)
	_, err = Register(Config{Registry: reg})
	require.NoError(t, err)
}
