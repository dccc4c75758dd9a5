package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()
	pack := samplePacks(t, 1)[0]
	body, err := json.Marshal(pack)
	require.NoError(t, err)

	t.Run("save", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_packs").
			WithArgs(pack.AuditID, pack.CreatedAt, "failed", pack.ManifestHash, pack.Confidence.Score, body).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.Save(ctx, pack))
	})

	t.Run("get", func(t *testing.T) {
		mock.ExpectQuery("SELECT pack FROM audit_packs WHERE audit_id").
			WithArgs(pack.AuditID).
			WillReturnRows(sqlmock.NewRows([]string{"pack"}).AddRow(body))
		got, err := store.Get(ctx, pack.AuditID)
		require.NoError(t, err)
		assert.Equal(t, pack.ManifestHash, got.ManifestHash)
		assert.NoError(t, VerifyManifestHash(got))
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT pack FROM audit_packs WHERE audit_id").
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"pack"}))
		_, err := store.Get(ctx, "nope")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("latest and list", func(t *testing.T) {
		mock.ExpectQuery("SELECT pack FROM audit_packs ORDER BY created_at DESC LIMIT 1").
			WillReturnRows(sqlmock.NewRows([]string{"pack"}).AddRow(body))
		latest, err := store.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, pack.AuditID, latest.AuditID)

		mock.ExpectQuery("SELECT pack FROM audit_packs ORDER BY created_at DESC LIMIT").
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"pack"}).AddRow(body).AddRow(body))
		list, err := store.List(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
