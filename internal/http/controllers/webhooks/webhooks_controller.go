// Package webhooks contiene los controllers de suscripciones salientes y del
// webhook entrante del PSP.
package webhooks

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/http/dto"
	"github.com/dropDatabas3/mandato/internal/http/errors"
	"github.com/dropDatabas3/mandato/internal/http/helpers"
	mw "github.com/dropDatabas3/mandato/internal/http/middlewares"
	"github.com/dropDatabas3/mandato/internal/webhook"
)

// Dispatcher lo que el controller usa del dispatcher saliente.
type Dispatcher interface {
	Subscribe(ctx context.Context, in webhook.SubscribeInput) (*webhook.Subscribed, error)
	History(ctx context.Context, tenantID, subscriptionID string, limit int) ([]*repository.DeliveryAttempt, error)
	RetryFailed(ctx context.Context, tenantID, subscriptionID string) (int, error)
}

// Ingestor procesa el webhook entrante.
type Ingestor interface {
	Ingest(ctx context.Context, body []byte, signature string) (*webhook.IngestResult, error)
}

type Controller struct {
	dispatcher Dispatcher
	ingestor   Ingestor
}

func NewController(d Dispatcher, in Ingestor) *Controller {
	return &Controller{dispatcher: d, ingestor: in}
}

// Subscribe POST /v1/webhooks/subscriptions
func (c *Controller) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req dto.SubscribeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	out, err := c.dispatcher.Subscribe(r.Context(), webhook.SubscribeInput{
		TenantID: mw.GetTenantID(r.Context()),
		URL:      req.URL,
		Events:   req.Events,
	})
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	s := out.Subscription
	helpers.WriteJSON(w, http.StatusCreated, dto.SubscriptionResponse{
		ID:        s.ID,
		URL:       s.URL,
		Events:    s.Events,
		Secret:    out.Secret,
		IsActive:  s.IsActive,
		CreatedAt: s.CreatedAt,
	})
}

// Deliveries GET /v1/webhooks/subscriptions/{id}/deliveries?limit=
func (c *Controller) Deliveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errors.WriteError(w, r, errors.ErrInvalidParameter.WithDetail("limit debe ser un entero >= 0"))
			return
		}
		limit = n
	}
	subID := chi.URLParam(r, "id")
	attempts, err := c.dispatcher.History(r.Context(), mw.GetTenantID(r.Context()), subID, limit)
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	resp := dto.DeliveryHistoryResponse{SubscriptionID: subID, Attempts: make([]dto.DeliveryAttempt, 0, len(attempts))}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, dto.DeliveryAttemptOf(a))
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Retry POST /v1/webhooks/deliveries/retry
func (c *Controller) Retry(w http.ResponseWriter, r *http.Request) {
	var req dto.RetryRequest
	if r.ContentLength != 0 && r.Header.Get("Content-Type") != "" {
		if !helpers.ReadJSON(w, r, &req) {
			return
		}
	}
	n, err := c.dispatcher.RetryFailed(r.Context(), mw.GetTenantID(r.Context()), req.SubscriptionID)
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusAccepted, dto.RetryResponse{Requeued: n})
}

// InboundACP POST /v1/webhooks/acp. Sin tenant: el token identifica la autorización.
func (c *Controller) InboundACP(w http.ResponseWriter, r *http.Request) {
	body, ok := helpers.ReadBody(w, r)
	if !ok {
		return
	}
	res, err := c.ingestor.Ingest(r.Context(), body, r.Header.Get(webhook.HeaderACPSignature))
	if err != nil {
		errors.WriteError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res)
}
