package pg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type webhookRepo struct{ s *Store }

// ─── Suscripciones ───

func (r *webhookRepo) sealSecret(plain string) (string, error) {
	if r.s.box == nil {
		return plain, nil
	}
	return r.s.box.Encrypt(plain)
}

func (r *webhookRepo) openSecret(stored string) (string, error) {
	if r.s.box == nil {
		return stored, nil
	}
	return r.s.box.Decrypt(stored)
}

func (r *webhookRepo) CreateSubscription(ctx context.Context, sub *repository.Subscription) error {
	enc, err := r.sealSecret(sub.Secret)
	if err != nil {
		return fmt.Errorf("pg: seal subscription secret: %w", err)
	}
	const q = `
		INSERT INTO webhook_subscriptions (id, tenant_id, url, events, secret_enc, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.s.q.Exec(ctx, q, sub.ID, sub.TenantID, sub.URL, sub.Events, enc, sub.IsActive, sub.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("pg: insert subscription: %w", err)
	}
	return nil
}

const subColumns = `id, tenant_id, url, events, secret_enc, is_active, created_at`

func (r *webhookRepo) scanSub(row pgx.Row) (*repository.Subscription, error) {
	var (
		sub repository.Subscription
		enc string
	)
	if err := row.Scan(&sub.ID, &sub.TenantID, &sub.URL, &sub.Events, &enc, &sub.IsActive, &sub.CreatedAt); err != nil {
		return nil, err
	}
	plain, err := r.openSecret(enc)
	if err != nil {
		return nil, fmt.Errorf("pg: open subscription secret %s: %w", sub.ID, err)
	}
	sub.Secret = plain
	return &sub, nil
}

func (r *webhookRepo) GetSubscription(ctx context.Context, tenantID, id string) (*repository.Subscription, error) {
	row := r.s.q.QueryRow(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	sub, err := r.scanSub(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return sub, err
}

func (r *webhookRepo) ListActiveSubscriptions(ctx context.Context, tenantID string) ([]*repository.Subscription, error) {
	rows, err := r.s.q.Query(ctx, `SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE tenant_id = $1 AND is_active ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("pg: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*repository.Subscription
	for rows.Next() {
		sub, err := r.scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ─── Cola de entregas ───

const deliveryColumns = `id, tenant_id, subscription_id, event_type, payload, status, attempts,
	attempt_base, next_attempt_at, last_response_code, last_error, created_at, updated_at`

func scanDelivery(row pgx.Row) (*repository.Delivery, error) {
	var (
		d      repository.Delivery
		status string
	)
	if err := row.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.Payload, &status, &d.Attempts,
		&d.AttemptBase, &d.NextAttemptAt, &d.LastResponseCode, &d.LastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = repository.DeliveryStatus(status)
	return &d, nil
}

func (r *webhookRepo) CreateDeliveries(ctx context.Context, ds []*repository.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range ds {
		batch.Queue(`
			INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, payload, status,
				attempts, attempt_base, next_attempt_at, last_response_code, last_error, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			d.ID, d.TenantID, d.SubscriptionID, d.EventType, d.Payload, string(d.Status),
			d.Attempts, d.AttemptBase, d.NextAttemptAt, d.LastResponseCode, d.LastError, d.CreatedAt, d.UpdatedAt)
	}

	// Un batch fuera de tx corre en una transacción implícita: todo o nada.
	br := r.s.q.SendBatch(ctx, batch)
	defer br.Close()
	for range ds {
		if _, err := br.Exec(); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrConflict
			}
			return fmt.Errorf("pg: insert delivery: %w", err)
		}
	}
	return br.Close()
}

// ClaimDue usa FOR UPDATE SKIP LOCKED: varios procesos pueden escanear la
// cola en paralelo sin tomar la misma fila.
func (r *webhookRepo) ClaimDue(ctx context.Context, now time.Time, limit int, leaseUntil time.Time, skipSubscriptions []string) ([]*repository.Delivery, error) {
	// un array NULL haría que <> ALL descarte todas las filas
	if skipSubscriptions == nil {
		skipSubscriptions = []string{}
	}
	q := `
		UPDATE webhook_deliveries SET next_attempt_at = $3
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status IN ('PENDING', 'RETRYING') AND next_attempt_at <= $1
			  AND subscription_id <> ALL($4::text[])
			ORDER BY next_attempt_at, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns
	rows, err := r.s.q.Query(ctx, q, now, limit, leaseUntil, skipSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("pg: claim deliveries: %w", err)
	}
	defer rows.Close()

	var out []*repository.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING no garantiza orden
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *webhookRepo) RecordAttempt(ctx context.Context, d *repository.Delivery, a *repository.DeliveryAttempt) error {
	return r.s.InTx(ctx, func(tx repository.Store) error {
		q := tx.(*Store).q
		tag, err := q.Exec(ctx, `
			UPDATE webhook_deliveries
			SET status = $2, attempts = $3, next_attempt_at = $4, last_response_code = $5,
			    last_error = $6, updated_at = $7
			WHERE id = $1`,
			d.ID, string(d.Status), d.Attempts, d.NextAttemptAt, d.LastResponseCode, d.LastError, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("pg: update delivery: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		_, err = q.Exec(ctx, `
			INSERT INTO webhook_delivery_attempts (id, delivery_id, tenant_id, subscription_id, event_type,
				attempt_number, status, response_code, error, next_retry_at, duration_ms, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			a.ID, a.DeliveryID, a.TenantID, a.SubscriptionID, a.EventType,
			a.AttemptNumber, string(a.Status), a.ResponseCode, a.Error, a.NextRetryAt, a.DurationMs, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("pg: insert delivery attempt: %w", err)
		}
		return nil
	})
}

func (r *webhookRepo) GetDelivery(ctx context.Context, tenantID, id string) (*repository.Delivery, error) {
	row := r.s.q.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return d, err
}

func (r *webhookRepo) ListAttempts(ctx context.Context, tenantID, subscriptionID string, limit int) ([]*repository.DeliveryAttempt, error) {
	q := `
		SELECT id, delivery_id, tenant_id, subscription_id, event_type, attempt_number, status,
		       response_code, error, next_retry_at, duration_ms, created_at
		FROM webhook_delivery_attempts
		WHERE tenant_id = $1 AND subscription_id = $2
		ORDER BY created_at DESC, attempt_number DESC`
	args := []any{tenantID, subscriptionID}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []*repository.DeliveryAttempt
	for rows.Next() {
		var (
			a      repository.DeliveryAttempt
			status string
		)
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.TenantID, &a.SubscriptionID, &a.EventType, &a.AttemptNumber,
			&status, &a.ResponseCode, &a.Error, &a.NextRetryAt, &a.DurationMs, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = repository.DeliveryStatus(status)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *webhookRepo) RequeueFailed(ctx context.Context, tenantID, subscriptionID string, now time.Time) (int, error) {
	tag, err := r.s.q.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'PENDING', attempt_base = attempts, next_attempt_at = $3, last_error = '', updated_at = $3
		WHERE tenant_id = $1 AND status = 'FAILED' AND ($2 = '' OR subscription_id = $2)`,
		tenantID, subscriptionID, now)
	if err != nil {
		return 0, fmt.Errorf("pg: requeue failed deliveries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
