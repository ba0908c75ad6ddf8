package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeovahfialho/cctool/internal/config"
)

type DB struct {
	pool *pgxpool.Pool
}

func NewDB(cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.DatabaseMaxConns
	poolConfig.MinConns = cfg.DatabaseMinConns
	poolConfig.MaxConnLifetime = cfg.DatabaseMaxConnLife
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id               BIGSERIAL PRIMARY KEY,
    portfolio_id     TEXT NOT NULL,
    parent_id        BIGINT REFERENCES positions (id) ON DELETE SET NULL,
    symbol           TEXT NOT NULL,
    exchange         TEXT NOT NULL DEFAULT '',
    quote            TEXT NOT NULL DEFAULT 'BTC',
    amount           NUMERIC NOT NULL,
    entry_price      NUMERIC NOT NULL,
    entry_ts         BIGINT NOT NULL,
    comment          TEXT NOT NULL DEFAULT '',
    sold             BOOLEAN NOT NULL DEFAULT FALSE,
    sold_description TEXT NOT NULL DEFAULT '',
    sold_amount      NUMERIC NOT NULL DEFAULT 0,
    sold_price       NUMERIC NOT NULL DEFAULT 0,
    sold_ts          BIGINT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS positions_portfolio_idx ON positions (portfolio_id, sold, id);

CREATE UNIQUE INDEX IF NOT EXISTS positions_open_comment_idx ON positions (portfolio_id, comment)
    WHERE comment <> '' AND NOT sold AND parent_id IS NULL;

CREATE TABLE IF NOT EXISTS trades (
    id          BIGSERIAL PRIMARY KEY,
    import_id   TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    direction   TEXT NOT NULL,
    amount      NUMERIC NOT NULL,
    price       NUMERIC NOT NULL,
    ts          BIGINT NOT NULL,
    comment     TEXT NOT NULL DEFAULT '',
    exchange    TEXT NOT NULL DEFAULT '',
    archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS trades_import_idx ON trades (import_id, ts);
`

// EnsureSchema creates the positions and trades tables when missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
