// Package store construye el repository.Store según el driver configurado.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/observability/logger"
	"github.com/dropDatabas3/mandato/internal/security/secretbox"
	"github.com/dropDatabas3/mandato/internal/store/memory"
	"github.com/dropDatabas3/mandato/internal/store/pg"
	migrations "github.com/dropDatabas3/mandato/migrations/postgres"
)

// Config de la capa de persistencia.
type Config struct {
	Driver       string // postgres | memory
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	// Migrate aplica migraciones pendientes al abrir (sólo postgres).
	Migrate bool
}

// Open abre el store. box puede ser nil (secrets en claro, sólo dev).
func Open(ctx context.Context, cfg Config, box *secretbox.Box) (repository.Store, error) {
	log := logger.Named("store")

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory", "":
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil

	case "postgres", "pg":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: %w: postgres DSN required", repository.ErrInvalidInput)
		}
		st, err := pg.New(ctx, pg.Config{DSN: cfg.DSN, MaxOpenConns: cfg.MaxOpenConns, MaxIdleConns: cfg.MaxIdleConns}, box)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			res, err := Migrate(ctx, st)
			if err != nil {
				st.Close()
				return nil, err
			}
			log.Info("migrations applied", logger.Count(len(res.Applied)), logger.Duration(res.Duration))
		}
		return st, nil

	default:
		return nil, fmt.Errorf("store: %w: unknown driver %q", repository.ErrInvalidInput, cfg.Driver)
	}
}

// Migrate corre las migraciones embebidas sobre el pool del store.
func Migrate(ctx context.Context, st *pg.Store) (*MigrationResult, error) {
	return NewMigrator(migrations.CoreFS, migrations.CoreDir).Run(ctx, st.Pool())
}
