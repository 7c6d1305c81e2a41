package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and minor SQL differences.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DB wraps a sql.DB with its dialect so the repositories can share one set
// of SQL strings across postgres and sqlite.
type DB struct {
	*sql.DB
	dialect Dialect
	pool    *pgxpool.Pool // nil for sqlite
}

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Open creates a pgx pool and wraps it into database/sql.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "dsn", cfg.DSN)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "curate"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	return &DB{
		DB:      stdlib.OpenDBFromPool(pool),
		dialect: DialectPostgres,
		pool:    pool,
	}, nil
}

// OpenSQLite opens a local sqlite database. An empty path uses an on-disk
// default; ":memory:" is accepted for tests.
func OpenSQLite(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "./curate.db"
	}
	logger.Info("opening sqlite database", "path", path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases coherent and sidesteps
	// sqlite writer contention.
	db.SetMaxOpenConns(1)
	return &DB{DB: db, dialect: DialectSQLite}, nil
}

// Close closes the sql handle and, for postgres, the underlying pool.
func (d *DB) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := d.DB.Close(); err != nil {
		logger.Warn("closing database handle", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// HealthCheck pings the database with a bounded timeout.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.PingContext(ctx)
}

// rebind converts `?` placeholders to `$N` for the postgres dialect.
func (d *DB) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
