// Package pg implementa repository.Store sobre PostgreSQL (pgxpool).
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/security/secretbox"
)

// Config parámetros de conexión.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// querier es lo común entre *pgxpool.Pool y pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implementa repository.Store. Dentro de InTx, q es la pgx.Tx.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	box  *secretbox.Box
	inTx bool
}

var _ repository.Store = (*Store)(nil)

// New abre el pool y verifica la conexión.
// box cifra los secretos de suscripción en reposo; nil = se guardan en claro (sólo dev).
func New(ctx context.Context, cfg Config, box *secretbox.Box) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}

	return NewFromPool(pool, box), nil
}

// NewFromPool envuelve un pool existente (tests de integración, migrate).
func NewFromPool(pool *pgxpool.Pool, box *secretbox.Box) *Store {
	return &Store{pool: pool, q: pool, box: box}
}

// Pool expone el pool interno (migraciones).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Authorizations() repository.AuthorizationRepository { return &authRepo{q: s.q} }
func (s *Store) Audit() repository.AuditRepository                  { return &auditRepo{q: s.q} }
func (s *Store) Webhooks() repository.WebhookRepository             { return &webhookRepo{s: s} }
func (s *Store) InboundEvents() repository.InboundEventRepository   { return &inboundRepo{q: s.q} }
func (s *Store) TrustedKeys() repository.TrustedKeyRepository       { return &keyRepo{q: s.q} }

// InTx abre una transacción; anidadas se aplanan en la externa.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{pool: s.pool, q: tx, box: s.box, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool (idempotente). Dentro de una tx no hace nada.
func (s *Store) Close() error {
	if s != nil && s.pool != nil && !s.inTx {
		s.pool.Close()
	}
	return nil
}

// ─── helpers ───

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}

// nullIfEmpty retorna nil si el string está vacío.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
