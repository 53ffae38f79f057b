// Package db implements the Postgres-backed persistence layer: the rule
// collection and the cumulative run statistics, stored as JSONB snapshots.
package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kochj23/mailsummary/config"
	"github.com/kochj23/mailsummary/logger"
)

// MigrationsFS embeds the SQL schema migrations; they are applied with the
// `mailsummary-admin migrate` command, not at daemon startup.
//
//go:embed migrations
var MigrationsFS embed.FS

type Database struct {
	Pool *pgxpool.Pool
}

// queryTracer logs every SQL statement at debug level when database query
// logging is enabled.
type queryTracer struct{}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	logger.Debug("SQL query", "sql", data.SQL, "args", data.Args)
	return ctx
}

func (t *queryTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {}

// NewDatabase opens a connection pool from configuration and verifies it
// with a ping.
func NewDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*Database, error) {
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	sslMode := "disable"
	if cfg.TLSMode {
		sslMode = "require"
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Name, sslMode)

	logger.Info("Connecting to database",
		"host", cfg.Host, "port", port, "name", cfg.Name, "sslmode", sslMode)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if cfg.LogQueries {
		poolConfig.ConnConfig.Tracer = &queryTracer{}
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}
