package webhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
	tokens "github.com/dropDatabas3/mandato/internal/security/token"
	"github.com/dropDatabas3/mandato/internal/validation"
)

// Eventos a los que se puede suscribir un tenant.
var knownEvents = map[string]bool{
	"*":                         true,
	"authorization.verified":    true,
	"authorization.expired":     true,
	"authorization.invalidated": true,
	"authorization.revoked":     true,
}

// SubscribeInput alta de un endpoint.
type SubscribeInput struct {
	TenantID string
	URL      string
	Events   []string
}

// Subscribed incluye el secreto en claro. Sólo se devuelve en el alta.
type Subscribed struct {
	Subscription *repository.Subscription
	Secret       string
}

// Subscribe registra una suscripción con un secreto generado (whsec_...).
func (d *Dispatcher) Subscribe(ctx context.Context, in SubscribeInput) (*Subscribed, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrValidation)
	}
	target, ok := validation.WebhookURL(in.URL)
	if !ok {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrValidation)
	}
	if len(in.Events) == 0 {
		return nil, fmt.Errorf("%w: events is required", ErrValidation)
	}
	events := make([]string, 0, len(in.Events))
	seen := make(map[string]bool, len(in.Events))
	for _, e := range in.Events {
		e = strings.TrimSpace(e)
		if !knownEvents[e] {
			return nil, fmt.Errorf("%w: unknown event %q", ErrValidation, e)
		}
		if !seen[e] {
			seen[e] = true
			events = append(events, e)
		}
	}

	secret, err := tokens.GenerateSecret("whsec_", 32)
	if err != nil {
		return nil, fmt.Errorf("webhook: generate secret: %w", err)
	}
	sub := &repository.Subscription{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		URL:       target,
		Events:    events,
		Secret:    secret,
		IsActive:  true,
		CreatedAt: d.clock(),
	}
	if err := d.store.Webhooks().CreateSubscription(ctx, sub); err != nil {
		return nil, wrapStore("create subscription", err)
	}

	d.log.Info("webhook subscription created",
		logger.TenantID(sub.TenantID), logger.SubscriptionID(sub.ID), logger.Any("events", events))
	return &Subscribed{Subscription: sub, Secret: secret}, nil
}
