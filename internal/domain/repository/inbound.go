package repository

import (
	"context"
	"encoding/json"
	"time"
)

// Tipos de evento entrante ACP.
const (
	InboundTokenUsed    = "token.used"
	InboundTokenRevoked = "token.revoked"
)

// InboundEvent es un evento del emisor (PSP). EventID es la clave natural de idempotencia.
type InboundEvent struct {
	EventID         string
	EventType       string
	Timestamp       time.Time
	Data            json.RawMessage
	AuthorizationID string
	ProcessedAt     time.Time
}

// InboundEventRepository registra eventos procesados.
type InboundEventRepository interface {
	// MarkProcessed inserta el evento si no existe (unique event_id).
	// Retorna false si ya estaba registrado. Debe llamarse dentro de Store.InTx
	// junto con el efecto del evento para que check-and-apply sea atómico.
	MarkProcessed(ctx context.Context, e *InboundEvent) (bool, error)

	Get(ctx context.Context, eventID string) (*InboundEvent, error)
}
