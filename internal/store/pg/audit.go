package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

type auditRepo struct{ q querier }

func (r *auditRepo) Append(ctx context.Context, e *repository.AuditEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("pg: marshal audit details: %w", err)
	}
	const q = `
		INSERT INTO audit_events (id, tenant_id, authorization_id, type, source, from_status,
			to_status, verification_status, reason, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11)`
	_, err = r.q.Exec(ctx, q,
		e.ID, e.TenantID, e.AuthorizationID, e.Type, e.Source, string(e.FromStatus),
		string(e.ToStatus), string(e.VerificationStatus), e.Reason, string(details), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: insert audit event: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByAuthorization(ctx context.Context, tenantID, authorizationID string) ([]*repository.AuditEvent, error) {
	const q = `
		SELECT id, tenant_id, authorization_id, type, source, from_status, to_status,
		       verification_status, reason, details, created_at
		FROM audit_events
		WHERE tenant_id = $1 AND authorization_id = $2
		ORDER BY created_at ASC, seq ASC`
	rows, err := r.q.Query(ctx, q, tenantID, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("pg: list audit events: %w", err)
	}
	defer rows.Close()

	var out []*repository.AuditEvent
	for rows.Next() {
		var (
			e                 repository.AuditEvent
			from, to, vstatus string
			details           []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AuthorizationID, &e.Type, &e.Source, &from, &to,
			&vstatus, &e.Reason, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus = types.Status(from)
		e.ToStatus = types.Status(to)
		e.VerificationStatus = types.VerificationStatus(vstatus)
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("pg: decode audit details: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
