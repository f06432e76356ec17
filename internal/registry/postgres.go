package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 30 * time.Minute
	defaultPingTimeout  = 5 * time.Second
)

// NewPostgres creates a pgx/stdlib backed *sql.DB pool and validates the
// connection.
func NewPostgres(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("registry: empty DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)
	db.SetConnMaxIdleTime(defaultConnIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Postgres looks devices up in the charge_points table.
type Postgres struct {
	db *sql.DB
}

// NewPostgresRegistry wraps an existing pool.
func NewPostgresRegistry(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Exists reports whether the device id is registered.
func (r *Postgres) Exists(ctx context.Context, deviceID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM charge_points WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
