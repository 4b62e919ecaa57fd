package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/fluxgraph/engine/internal/config"
	"github.com/fluxgraph/engine/internal/infrastructure/storage/models"
)

// NewDB opens a Bun/Postgres connection pool per cfg and registers every
// model this package persists. Set BUNDEBUG in the environment to log
// queries (see bundebug.FromEnv).
func NewDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.URL),
		pgdriver.WithTimeout(30*time.Second),
		pgdriver.WithDialTimeout(10*time.Second),
		pgdriver.WithReadTimeout(10*time.Second),
		pgdriver.WithWriteTimeout(10*time.Second),
	)

	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.MaxConnections)
	sqldb.SetMaxIdleConns(cfg.MinConnections)
	sqldb.SetConnMaxLifetime(cfg.MaxConnLifetime)
	sqldb.SetConnMaxIdleTime(cfg.MaxIdleTime)

	db := bun.NewDB(sqldb, pgdialect.New())
	db.WithQueryHook(bundebug.NewQueryHook(bundebug.FromEnv("BUNDEBUG")))
	registerModels(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("database connection established",
		slog.Int("max_open_conns", cfg.MaxConnections),
		slog.Int("max_idle_conns", cfg.MinConnections),
	)
	return db, nil
}

func registerModels(db *bun.DB) {
	db.RegisterModel(
		(*models.WorkflowModel)(nil),
		(*models.RevisionModel)(nil),
		(*models.RunModel)(nil),
		(*models.NodeExecutionModel)(nil),
		(*models.EventModel)(nil),
		(*models.TriggerModel)(nil),
	)
}

// Close closes the database connection.
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// Ping verifies the connection is alive.
func Ping(ctx context.Context, db *bun.DB) error {
	return db.PingContext(ctx)
}

// DBPinger adapts a *bun.DB to queue.Pinger, letting a HealthProbe watch
// the database the same way it watches Redis.
type DBPinger struct {
	DB *bun.DB
}

func (p DBPinger) Health(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func Stats(db *bun.DB) sql.DBStats {
	return db.DB.Stats()
}

// WithTransaction executes fn within a read-committed transaction.
func WithTransaction(ctx context.Context, db *bun.DB, fn func(tx bun.Tx) error) error {
	return db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		return fn(tx)
	})
}
