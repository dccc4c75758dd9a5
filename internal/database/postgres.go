package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Postgres represents a PostgreSQL connection
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL connection
func NewPostgres(cfg Config) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// NewWithDB wraps an already opened handle
func NewWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB returns the underlying handle
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the tables used for audit packs and execution history
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS audit_packs (
			audit_id VARCHAR(64) PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(16) NOT NULL,
			manifest_hash CHAR(64) NOT NULL,
			confidence_score INTEGER NOT NULL,
			pack JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_packs_created ON audit_packs(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS execution_history (
			id SERIAL PRIMARY KEY,
			execution_id VARCHAR(64) NOT NULL UNIQUE,
			cluster_id VARCHAR(255) NOT NULL,
			plan_id VARCHAR(255) NOT NULL,
			target_node_id VARCHAR(255),
			dry_run BOOLEAN NOT NULL,
			success BOOLEAN NOT NULL,
			actions_executed INTEGER NOT NULL,
			actions_failed INTEGER NOT NULL,
			total_duration_ms BIGINT NOT NULL,
			audit_id VARCHAR(64),
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_history_cluster ON execution_history(cluster_id, started_at DESC)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}
