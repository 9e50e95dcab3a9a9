package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pool is an alias for pgxpool.Pool
type Pool = pgxpool.Pool

//go:embed schema.sql
var schema string

// migrationLockID is the advisory lock key held while the schema is applied,
// so replicas starting together do not race on CREATE TABLE
const migrationLockID = 7_317_001

// NewPool creates the PostgreSQL pool. The database is pinged, and the schema
// applied when autoMigrate is set, when the application starts.
func NewPool(lc fx.Lifecycle, logger *zap.Logger, databaseURL string, autoMigrate bool) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to parse database URL: %w", err)
	}

	logger = logger.With(zap.String("database", describeTarget(config.ConnConfig)))
	logger.Info("initializing database connection pool", zap.Int32("max_conns", config.MaxConns))

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to create connection pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				logger.Error("database ping failed", zap.Error(err))
				return fmt.Errorf("[DATABASE CONNECTION FAILED] cannot reach database, check DATABASE_URL and that Postgres is running: %w", err)
			}
			logger.Info("database connection established")

			if !autoMigrate {
				return nil
			}
			if err := Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info("database schema applied")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("database connection closed")
			return nil
		},
	})

	return pool, nil
}

// Migrate applies the embedded schema in one transaction. Every statement is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
	}
	return nil
}

// describeTarget renders user@host:port/database without the password
func describeTarget(c *pgx.ConnConfig) string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}
