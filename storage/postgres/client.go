// Package postgres is the durable store for Payment, Event, and
// WebhookDelivery rows: connection pooling and query style built around
// three normalized tables rather than a single append-only ledger.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig reads DATABASE_URL from the environment, falling back to
// a local development DSN.
func DefaultConfig() *Config {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=postgres password=postgres dbname=crossbridge sslmode=disable"
	}
	return &Config{
		DSN:          dsn,
		MaxOpenConns: 50,
		MaxIdleConns: 10,
	}
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) DB() *sql.DB {
	return c.db
}

// EnsureSchema creates the Payment, Event, and WebhookDelivery tables if
// they do not already exist. There is no migration framework here by
// design (schema migration tooling is an external collaborator); this is
// an idempotent bootstrap, not a substitute for one in a multi-version
// deployment.
func (c *Client) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS payments (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	quote_id             TEXT UNIQUE,
	source_currency      TEXT NOT NULL DEFAULT 'USD',
	destination_currency TEXT NOT NULL,
	amount               NUMERIC(12,2) NOT NULL,
	payment_method       TEXT NOT NULL,
	fee_handling         TEXT NOT NULL,
	fee_onramp           NUMERIC(12,2) NOT NULL,
	fee_corridor         NUMERIC(12,2) NOT NULL,
	fee_platform         NUMERIC(12,2) NOT NULL,
	fee_network_gas      NUMERIC(12,2) NOT NULL,
	fee_total            NUMERIC(12,2) NOT NULL,
	usdc_sent            NUMERIC(12,2) NOT NULL,
	exchange_rate        DOUBLE PRECISION NOT NULL,
	destination_amount   DOUBLE PRECISION NOT NULL,
	quote_expires_at     TIMESTAMPTZ NOT NULL,
	status               TEXT NOT NULL,
	onramp_tx_id         TEXT,
	offramp_tx_id        TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at         TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments (status);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	payment_id TEXT NOT NULL REFERENCES payments (id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	metadata   JSONB,
	timestamp  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_payment_ts ON events (payment_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (event_type);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              TEXT PRIMARY KEY,
	payment_id      TEXT NOT NULL REFERENCES payments (id) ON DELETE CASCADE,
	event_type      TEXT NOT NULL,
	payload         BYTEA NOT NULL,
	signature       TEXT NOT NULL,
	status          TEXT NOT NULL,
	attempts        INT NOT NULL DEFAULT 0,
	max_attempts    INT NOT NULL DEFAULT 3,
	last_attempt_at TIMESTAMPTZ,
	next_retry_at   TIMESTAMPTZ,
	response_code   INT,
	response_body   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_webhook_payment ON webhook_deliveries (payment_id);
CREATE INDEX IF NOT EXISTS idx_webhook_status_retry ON webhook_deliveries (status, next_retry_at);
`
