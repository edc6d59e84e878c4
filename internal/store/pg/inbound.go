package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type inboundRepo struct{ q querier }

// MarkProcessed se apoya en el unique de event_id: dos tx concurrentes con el
// mismo evento serializan en el índice y sólo una inserta.
func (r *inboundRepo) MarkProcessed(ctx context.Context, e *repository.InboundEvent) (bool, error) {
	const q = `
		INSERT INTO inbound_events (event_id, event_type, event_timestamp, data, authorization_id, processed_at)
		VALUES ($1,$2,$3,$4::jsonb,$5,$6)
		ON CONFLICT (event_id) DO NOTHING`
	data := string(e.Data)
	if data == "" {
		data = "null"
	}
	tag, err := r.q.Exec(ctx, q, e.EventID, e.EventType, e.Timestamp, data, nullIfEmpty(e.AuthorizationID), e.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("pg: insert inbound event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *inboundRepo) Get(ctx context.Context, eventID string) (*repository.InboundEvent, error) {
	const q = `
		SELECT event_id, event_type, event_timestamp, data, authorization_id, processed_at
		FROM inbound_events WHERE event_id = $1`
	var (
		e      repository.InboundEvent
		data   []byte
		authID *string
	)
	err := r.q.QueryRow(ctx, q, eventID).Scan(&e.EventID, &e.EventType, &e.Timestamp, &data, &authID, &e.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get inbound event: %w", err)
	}
	e.Data = data
	e.AuthorizationID = deref(authID)
	return &e, nil
}
