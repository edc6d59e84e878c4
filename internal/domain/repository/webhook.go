package repository

import (
	"context"
	"time"
)

// Subscription es un endpoint de webhook saliente de un tenant.
type Subscription struct {
	ID        string
	TenantID  string
	URL       string
	Events    []string // tipos de evento; "*" = todos
	Secret    string   // en claro en memoria; el adapter pg lo cifra en reposo
	IsActive  bool
	CreatedAt time.Time
}

// Matches indica si la suscripción está interesada en eventType.
func (s *Subscription) Matches(eventType string) bool {
	for _, e := range s.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus estado de una entrega (y de cada intento).
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryRetrying  DeliveryStatus = "RETRYING"
	DeliverySucceeded DeliveryStatus = "SUCCEEDED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// IsTerminal indica que el dispatcher ya no volverá a tomar la entrega.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySucceeded || s == DeliveryFailed
}

// Delivery es el registro durable, indexado por tiempo, de un evento a
// entregar a una suscripción. Sobrevive reinicios: el dispatcher re-escanea
// los registros vencidos (NextAttemptAt <= now).
type Delivery struct {
	ID               string
	TenantID         string
	SubscriptionID   string
	EventType        string
	Payload          []byte // bytes exactos que se firman y envían
	Status           DeliveryStatus
	Attempts         int // acumulado, nunca se resetea
	AttemptBase      int // Attempts al momento del último requeue manual
	NextAttemptAt    time.Time
	LastResponseCode int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeliveryAttempt es una fila por intento. Sólo el dispatcher la crea.
type DeliveryAttempt struct {
	ID             string
	DeliveryID     string
	TenantID       string
	SubscriptionID string
	EventType      string
	AttemptNumber  int
	Status         DeliveryStatus // SUCCEEDED | FAILED
	ResponseCode   int
	Error          string
	NextRetryAt    *time.Time
	DurationMs     int64
	CreatedAt      time.Time
}

// WebhookRepository define operaciones sobre suscripciones y la cola de entregas.
type WebhookRepository interface {
	// ─── Suscripciones ───

	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, tenantID, id string) (*Subscription, error)
	ListActiveSubscriptions(ctx context.Context, tenantID string) ([]*Subscription, error)

	// ─── Cola de entregas ───

	// CreateDeliveries encola entregas nuevas (status PENDING).
	CreateDeliveries(ctx context.Context, ds []*Delivery) error

	// ClaimDue toma hasta limit entregas no terminales con NextAttemptAt <= now
	// y las "arrienda" moviendo NextAttemptAt a leaseUntil, de modo que otro
	// worker (u otro proceso) no las tome mientras están en vuelo. Si el
	// proceso muere, el lease vence y la entrega se reintenta.
	// Las entregas de skipSubscriptions (destinos ocupados) no se tocan.
	ClaimDue(ctx context.Context, now time.Time, limit int, leaseUntil time.Time, skipSubscriptions []string) ([]*Delivery, error)

	// RecordAttempt persiste atómicamente el intento y el nuevo estado de la entrega.
	RecordAttempt(ctx context.Context, d *Delivery, a *DeliveryAttempt) error

	GetDelivery(ctx context.Context, tenantID, id string) (*Delivery, error)

	// ListAttempts historial de intentos de una suscripción, más reciente primero.
	ListAttempts(ctx context.Context, tenantID, subscriptionID string, limit int) ([]*DeliveryAttempt, error)

	// RequeueFailed vuelve a PENDING las entregas FAILED (subscriptionID vacío = todo el tenant).
	// Attempts sigue contando; AttemptBase pasa a Attempts para abrir una nueva ronda.
	// Retorna cuántas se re-encolaron.
	RequeueFailed(ctx context.Context, tenantID, subscriptionID string, now time.Time) (int, error)
}
