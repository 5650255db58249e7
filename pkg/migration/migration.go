package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// ErrDirty - предыдущая миграция упала посередине, нужен ручной force.
var ErrDirty = errors.New("database schema is dirty")

// Config описывает встроенный набор миграций.
type Config struct {
	MigrationsFS   fs.FS
	MigrationsPath string
	// MigrationsTable по умолчанию schema_migrations.
	MigrationsTable string
	LockTimeout     time.Duration
}

// Migrator применяет SQL-миграции из fs.FS к пулу pgx.
type Migrator struct {
	cfg    Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewMigrator(cfg Config, pool *pgxpool.Pool, logger *zap.Logger) *Migrator {
	if cfg.MigrationsTable == "" {
		cfg.MigrationsTable = "schema_migrations"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	return &Migrator{cfg: cfg, pool: pool, logger: logger.Named("Migrator")}
}

// Up доводит схему до последней версии. Грязная схема - ErrDirty.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mg *migrate.Migrate) error {
		if _, dirty, err := mg.Version(); err == nil && dirty {
			return ErrDirty
		}
		return mg.Up()
	})
}

// Down откатывает все миграции.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mg *migrate.Migrate) error { return mg.Down() })
}

func (m *Migrator) run(ctx context.Context, op string, fn func(*migrate.Migrate) error) error {
	if err := m.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database is not reachable: %w", err)
	}

	driver, err := postgres.WithInstance(stdlib.OpenDBFromPool(m.pool), &postgres.Config{
		MigrationsTable:       m.cfg.MigrationsTable,
		MigrationsTableQuoted: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(m.cfg.MigrationsFS, m.cfg.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to open migrations %q: %w", m.cfg.MigrationsPath, err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer mg.Close()
	mg.LockTimeout = m.cfg.LockTimeout
	mg.Log = zapMigrateLogger{m.logger}

	start := time.Now()
	if err := fn(mg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", op, err)
	}

	version, dirty, err := mg.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		m.logger.Info("Schema has no applied migrations", zap.String("op", op))
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	default:
		m.logger.Info("Schema migrated",
			zap.String("op", op),
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
			zap.Duration("took", time.Since(start)),
		)
	}
	return nil
}

// zapMigrateLogger реализует migrate.Logger.
type zapMigrateLogger struct{ l *zap.Logger }

func (z zapMigrateLogger) Printf(format string, v ...any) {
	z.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (z zapMigrateLogger) Verbose() bool { return z.l.Core().Enabled(zap.DebugLevel) }
