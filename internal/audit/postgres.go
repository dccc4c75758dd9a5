package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore keeps packs in the audit_packs table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database. The table is created by
// database.Postgres.CreateTables.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, pack AuditPack) error {
	body, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("marshal pack: %w", err)
	}
	query := `
		INSERT INTO audit_packs (audit_id, created_at, status, manifest_hash, confidence_score, pack)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (audit_id) DO UPDATE SET pack = EXCLUDED.pack, manifest_hash = EXCLUDED.manifest_hash`
	_, err = s.db.ExecContext(ctx, query,
		pack.AuditID, pack.CreatedAt, string(pack.Status), pack.ManifestHash, pack.Confidence.Score, body)
	if err != nil {
		return fmt.Errorf("insert audit pack: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (AuditPack, error) {
	row := s.db.QueryRowContext(ctx, `SELECT pack FROM audit_packs WHERE audit_id = $1`, id)
	return scanPack(row, id)
}

func (s *PostgresStore) Latest(ctx context.Context) (AuditPack, error) {
	row := s.db.QueryRowContext(ctx, `SELECT pack FROM audit_packs ORDER BY created_at DESC LIMIT 1`)
	return scanPack(row, LatestID)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]AuditPack, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT pack FROM audit_packs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit packs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var packs []AuditPack
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan audit pack: %w", err)
		}
		var pack AuditPack
		if err := json.Unmarshal(body, &pack); err != nil {
			return nil, fmt.Errorf("decode audit pack: %w", err)
		}
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}

func scanPack(row *sql.Row, id string) (AuditPack, error) {
	var body []byte
	err := row.Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return AuditPack{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return AuditPack{}, fmt.Errorf("query audit pack: %w", err)
	}
	var pack AuditPack
	if err := json.Unmarshal(body, &pack); err != nil {
		return AuditPack{}, fmt.Errorf("decode audit pack: %w", err)
	}
	return pack, nil
}
