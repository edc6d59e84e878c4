package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

type authRepo struct{ q querier }

const authColumns = `id, tenant_id, protocol, issuer, subject, external_ref, scope,
	amount_limit::text, currency, expires_at, status, verification_status,
	verification_reason, verified_at, payload, version, created_at, updated_at`

func (r *authRepo) Create(ctx context.Context, a *repository.Authorization) error {
	scope, err := json.Marshal(a.Scope)
	if err != nil {
		return fmt.Errorf("pg: marshal scope: %w", err)
	}
	var amount *string
	if a.AmountLimit != nil {
		v := a.AmountLimit.String()
		amount = &v
	}

	const q = `
		INSERT INTO authorizations (id, tenant_id, protocol, issuer, subject, external_ref, scope,
			amount_limit, currency, expires_at, status, verification_status, verification_reason,
			verified_at, payload, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8::numeric,$9,$10,$11,$12,$13,$14,$15::jsonb,1,$16,$17)`
	_, err = r.q.Exec(ctx, q,
		a.ID, a.TenantID, string(a.Protocol), a.Issuer, a.Subject, nullIfEmpty(a.ExternalRef), string(scope),
		amount, a.Currency, a.ExpiresAt, string(a.Status), string(a.VerificationStatus), a.VerificationReason,
		a.VerifiedAt, string(a.Payload), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("pg: insert authorization: %w", err)
	}
	a.Version = 1
	return nil
}

func (r *authRepo) Get(ctx context.Context, tenantID, id string) (*repository.Authorization, error) {
	row := r.q.QueryRow(ctx, `SELECT `+authColumns+` FROM authorizations WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	a, err := scanAuthorization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return a, err
}

func (r *authRepo) GetByExternalRef(ctx context.Context, protocol types.Protocol, ref string) (*repository.Authorization, error) {
	row := r.q.QueryRow(ctx, `SELECT `+authColumns+` FROM authorizations WHERE protocol = $1 AND external_ref = $2`, string(protocol), ref)
	a, err := scanAuthorization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return a, err
}

func (r *authRepo) Update(ctx context.Context, a *repository.Authorization, expectedVersion int64) error {
	const q = `
		UPDATE authorizations
		SET status = $4, verification_status = $5, verification_reason = $6,
		    verified_at = $7, updated_at = $8, version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $3`
	tag, err := r.q.Exec(ctx, q,
		a.TenantID, a.ID, expectedVersion,
		string(a.Status), string(a.VerificationStatus), a.VerificationReason, a.VerifiedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: update authorization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// distinguir "no existe" de "otra escritura ganó"
		var exists bool
		if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authorizations WHERE tenant_id = $1 AND id = $2)`, a.TenantID, a.ID).Scan(&exists); err != nil {
			return fmt.Errorf("pg: check authorization: %w", err)
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrPreconditionFailed
	}
	a.Version = expectedVersion + 1
	return nil
}

func (r *authRepo) Search(ctx context.Context, f repository.SearchFilter) (*repository.SearchResult, error) {
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Protocol != "" {
		add("protocol = $%d", string(f.Protocol))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.MinAmount != nil {
		add("amount_limit >= $%d::numeric", f.MinAmount.String())
	}
	if f.MaxAmount != nil {
		add("amount_limit <= $%d::numeric", f.MaxAmount.String())
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at <= $%d", *f.CreatedTo)
	}
	cond := strings.Join(where, " AND ")

	res := &repository.SearchResult{}
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM authorizations WHERE `+cond, args...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("pg: count authorizations: %w", err)
	}

	q := `SELECT ` + authColumns + ` FROM authorizations WHERE ` + cond + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: search authorizations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		res.Items = append(res.Items, a)
	}
	return res, rows.Err()
}

func scanAuthorization(row pgx.Row) (*repository.Authorization, error) {
	var (
		a                         repository.Authorization
		protocol, status, vstatus string
		externalRef, amount       *string
		scope, payload            []byte
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &protocol, &a.Issuer, &a.Subject, &externalRef, &scope,
		&amount, &a.Currency, &a.ExpiresAt, &status, &vstatus,
		&a.VerificationReason, &a.VerifiedAt, &payload, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Protocol = types.Protocol(protocol)
	a.Status = types.Status(status)
	a.VerificationStatus = types.VerificationStatus(vstatus)
	a.ExternalRef = deref(externalRef)
	a.Payload = payload
	if len(scope) > 0 && string(scope) != "null" {
		if err := json.Unmarshal(scope, &a.Scope); err != nil {
			return nil, fmt.Errorf("pg: decode scope: %w", err)
		}
	}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, fmt.Errorf("pg: decode amount_limit: %w", err)
		}
		a.AmountLimit = &d
	}
	return &a, nil
}
