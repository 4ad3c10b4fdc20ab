package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

const slowQueryThreshold = 100 * time.Millisecond

// DB represents the database connection
type DB struct {
	logger *zap.Logger
	db     *sql.DB
	driver string
}

// Config represents database configuration
type Config struct {
	Driver          string        `yaml:"driver" json:"driver"`
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// New creates a new database connection and initializes the schema
func New(logger *zap.Logger, config Config) (*DB, error) {
	switch config.Driver {
	case "postgres", "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	// Normalize SQLite driver name
	driver := config.Driver
	if driver == "sqlite" {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{
		logger: logger,
		db:     db,
		driver: driver,
	}

	if err := d.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database connected",
		zap.String("driver", driver),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)

	return d, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (d *DB) Ping(ctx context.Context) error {
	if d.db == nil {
		return errors.New("database not initialized")
	}
	return d.db.PingContext(ctx)
}

// Driver returns the normalized driver name
func (d *DB) Driver() string {
	return d.driver
}

// Begin starts a new transaction
func (d *DB) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &Transaction{
		tx:     tx,
		db:     d,
		logger: d.logger,
	}, nil
}

// Execute executes a query without returning results
func (d *DB) Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := d.db.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if duration > slowQueryThreshold {
		d.logger.Warn("Slow query",
			zap.String("query", query),
			zap.Duration("duration", duration),
		)
	}

	return result, err
}

// Query executes a query and returns rows
func (d *DB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	duration := time.Since(start)

	if duration > slowQueryThreshold {
		d.logger.Warn("Slow query",
			zap.String("query", query),
			zap.Duration("duration", duration),
		)
	}

	return rows, err
}

// QueryRow executes a query and returns a single row
func (d *DB) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// GetStats returns database statistics
func (d *DB) GetStats() sql.DBStats {
	if d.db == nil {
		return sql.DBStats{}
	}
	return d.db.Stats()
}

// Transaction represents a database transaction
type Transaction struct {
	tx     *sql.Tx
	db     *DB
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	return t.tx.Rollback()
}

// Execute executes a query within the transaction
func (t *Transaction) Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := t.tx.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if duration > slowQueryThreshold {
		t.logger.Warn("Slow query in transaction",
			zap.String("query", query),
			zap.Duration("duration", duration),
		)
	}

	return result, err
}

// Query executes a query within the transaction
func (t *Transaction) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRow executes a query within the transaction and returns a single row
func (t *Transaction) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// rebind converts `?` placeholders to the postgres `$n` form when needed
func (d *DB) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}

	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = strconv.AppendInt(out, int64(n), 10)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
