package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/meridian-exchange/exchange_service/internal/infrastructure/config"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// DB wraps sqlx.DB with a circuit breaker and bounded-transaction helper.
type DB struct {
	*sqlx.DB
	breaker   *gobreaker.CircuitBreaker
	txTimeout time.Duration
	logger    *logger.Logger
}

// Connect opens the Postgres pool and verifies connectivity.
func Connect(cfg config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "database",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Database circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	txTimeout := time.Duration(cfg.TxTimeout) * time.Second
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}

	return &DB{DB: db, breaker: breaker, txTimeout: txTimeout, logger: log}, nil
}

// Migrate applies pending migrations from the given directory.
func (d *DB) Migrate(migrationsPath string) error {
	driver, err := postgres.WithInstance(d.DB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck pings the database through the circuit breaker.
func (d *DB) HealthCheck(ctx context.Context) error {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction bounded by the configured
// timeout. The transaction is rolled back on error or panic and committed
// otherwise.
func (d *DB) WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, d.txTimeout)
	defer cancel()

	tx, err := d.BeginTxx(txCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
