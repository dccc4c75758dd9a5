package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/continuity/internal/ha"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, Database: "continuity", User: "ops", Password: "pw"}
	assert.Equal(t, "host=db port=5433 user=ops password=pw dbname=continuity sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}

func TestPostgres_CreateTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_packs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audit_packs_created").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS execution_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_execution_history_cluster").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewWithDB(db).CreateTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Connect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping database tests in short mode")
	}

	db, err := NewPostgres(GetTestConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		t.Skipf("no database available: %v", err)
	}
	assert.NoError(t, db.CreateTables(ctx))
}

func TestHistoryStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewHistoryStore(db)
	ctx := context.Background()
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result := ha.FailoverResult{
		ExecutionID:     "exec-1",
		PlanID:          "plan-1",
		TargetNodeID:    "node-b",
		Success:         true,
		ActionsExecuted: 4,
		TotalDurationMs: 9100,
		StartedAt:       started,
		CompletedAt:     started.Add(9100 * time.Millisecond),
	}

	mock.ExpectExec("INSERT INTO execution_history").
		WithArgs("exec-1", "prod-db", "plan-1", "node-b", false, true, 4, 0, int64(9100), "audit-1", result.StartedAt, result.CompletedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.RecordExecution(ctx, "prod-db", "audit-1", result))

	rows := sqlmock.NewRows([]string{"execution_id", "cluster_id", "plan_id", "target_node_id", "dry_run", "success",
		"actions_executed", "actions_failed", "total_duration_ms", "audit_id", "started_at", "completed_at"}).
		AddRow("exec-1", "prod-db", "plan-1", "node-b", false, true, 4, 0, 9100, nil, result.StartedAt, result.CompletedAt)
	mock.ExpectQuery("SELECT execution_id").WithArgs("prod-db", 50).WillReturnRows(rows)

	records, err := store.GetHistory(ctx, "prod-db", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "node-b", records[0].TargetNodeID)
	assert.Empty(t, records[0].AuditID)
	assert.Equal(t, int64(9100), records[0].TotalDurationMs)

	assert.NoError(t, mock.ExpectationsWereMet())
}
