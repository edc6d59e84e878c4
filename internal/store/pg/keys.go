package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
)

type keyRepo struct{ q querier }

func (r *keyRepo) ListByIssuer(ctx context.Context, issuer string) ([]*repository.TrustedKey, error) {
	const q = `
		SELECT issuer, kid, algorithm, jwk, status, created_at
		FROM trusted_issuer_keys WHERE issuer = $1
		ORDER BY created_at DESC`
	rows, err := r.q.Query(ctx, q, issuer)
	if err != nil {
		return nil, fmt.Errorf("pg: list trusted keys: %w", err)
	}
	defer rows.Close()

	var out []*repository.TrustedKey
	for rows.Next() {
		var (
			k      repository.TrustedKey
			raw    []byte
			status string
		)
		if err := rows.Scan(&k.Issuer, &k.KID, &k.Algorithm, &raw, &status, &k.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &k.JWK); err != nil {
			return nil, fmt.Errorf("pg: decode jwk %s/%s: %w", k.Issuer, k.KID, err)
		}
		k.Status = repository.KeyStatus(status)
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (r *keyRepo) Upsert(ctx context.Context, k *repository.TrustedKey) error {
	raw, err := json.Marshal(k.JWK)
	if err != nil {
		return fmt.Errorf("pg: marshal jwk: %w", err)
	}
	status := string(k.Status)
	if status == "" {
		status = string(repository.KeyStatusActive)
	}
	const q = `
		INSERT INTO trusted_issuer_keys (issuer, kid, algorithm, jwk, status, created_at)
		VALUES ($1,$2,$3,$4::jsonb,$5,$6)
		ON CONFLICT (issuer, kid) DO UPDATE
		SET algorithm = EXCLUDED.algorithm, jwk = EXCLUDED.jwk, status = EXCLUDED.status`
	if _, err := r.q.Exec(ctx, q, k.Issuer, k.KID, k.Algorithm, string(raw), status, k.CreatedAt); err != nil {
		return fmt.Errorf("pg: upsert trusted key: %w", err)
	}
	return nil
}
