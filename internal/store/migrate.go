package store

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Las migraciones SQL se embeben en el binario (migrations/postgres).
// Formato de archivo: {version}_{name}.sql (ej: 0001_init.sql)

// Migrator aplica migraciones SQL a PostgreSQL.
type Migrator struct {
	migrationsFS  fs.FS
	migrationsDir string
}

// NewMigrator crea un nuevo Migrator.
func NewMigrator(migrationsFS fs.FS, migrationsDir string) *Migrator {
	return &Migrator{
		migrationsFS:  migrationsFS,
		migrationsDir: migrationsDir,
	}
}

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Failed   *int
	Duration time.Duration
}

// Executor abstrae *pgxpool.Pool / *pgx.Conn.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// ParseMigrations lee y parsea las migraciones del FS, ordenadas por versión.
func (m *Migrator) ParseMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(m.migrationsFS, m.migrationsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := migrationFilePattern.FindStringSubmatch(path.Base(p))
		if matches == nil {
			return nil // Ignorar archivos que no coinciden
		}
		version, _ := strconv.Atoi(matches[1])

		content, err := fs.ReadFile(m.migrationsFS, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: matches[2], SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", migrations[i].Version)
		}
	}
	return migrations, nil
}

// Run aplica las migraciones pendientes, cada una en su propia transacción.
func (m *Migrator) Run(ctx context.Context, exec Executor) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{}
	done := func(err error) (*MigrationResult, error) {
		result.Duration = time.Since(start)
		return result, err
	}

	if err := m.ensureMigrationsTable(ctx, exec); err != nil {
		return done(fmt.Errorf("creating migrations table: %w", err))
	}
	applied, err := m.appliedVersions(ctx, exec)
	if err != nil {
		return done(fmt.Errorf("getting applied migrations: %w", err))
	}
	migrations, err := m.ParseMigrations()
	if err != nil {
		return done(fmt.Errorf("parsing migrations: %w", err))
	}

	for _, mig := range migrations {
		if applied[mig.Version] {
			result.Skipped = append(result.Skipped, mig.Version)
			continue
		}
		if err := m.apply(ctx, exec, mig); err != nil {
			v := mig.Version
			result.Failed = &v
			return done(fmt.Errorf("applying migration %d_%s: %w", mig.Version, mig.Name, err))
		}
		result.Applied = append(result.Applied, mig.Version)
	}
	return done(nil)
}

// HasPending verifica si hay migraciones pendientes.
func (m *Migrator) HasPending(ctx context.Context, exec Executor) (bool, error) {
	if err := m.ensureMigrationsTable(ctx, exec); err != nil {
		return false, err
	}
	applied, err := m.appliedVersions(ctx, exec)
	if err != nil {
		return false, err
	}
	migrations, err := m.ParseMigrations()
	if err != nil {
		return false, err
	}
	for _, mig := range migrations {
		if !applied[mig.Version] {
			return true, nil
		}
	}
	return false, nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context, exec Executor) error {
	_, err := exec.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context, exec Executor) (map[int]bool, error) {
	rows, err := exec.Query(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, exec Executor, mig Migration) error {
	tx, err := exec.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return err
	}
	// otro proceso pudo aplicarla en paralelo: el PK lo detecta y hacemos rollback
	tag, err := tx.Exec(ctx,
		`INSERT INTO _migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
		mig.Version, mig.Name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	return tx.Commit(ctx)
}
