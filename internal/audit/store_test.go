package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/continuity/internal/ha"
)

func samplePacks(t *testing.T, n int) []AuditPack {
	t.Helper()
	clock := ha.NewManualClock(ha.SimulationEpoch)
	auditor := NewAuditor(DefaultConfidenceConfig(), WithClock(clock))
	packs := make([]AuditPack, 0, n)
	for i := 0; i < n; i++ {
		pack, err := auditor.GenerateAuditPack(nil, ha.FailoverResult{ExecutionID: "exec"}, ha.VerificationReport{})
		require.NoError(t, err)
		packs = append(packs, pack)
		clock.Advance(time.Minute)
	}
	return packs
}

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	packs := samplePacks(t, 3)
	for _, p := range packs {
		require.NoError(t, store.Save(ctx, p))
	}

	got, err := store.Get(ctx, packs[1].AuditID)
	require.NoError(t, err)
	assert.Equal(t, packs[1].ManifestHash, got.ManifestHash)
	assert.NoError(t, VerifyManifestHash(got))

	latest, err := Lookup(ctx, store, LatestID)
	require.NoError(t, err)
	assert.Equal(t, packs[2].AuditID, latest.AuditID)

	list, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, packs[2].AuditID, list[0].AuditID)
	assert.Equal(t, packs[1].AuditID, list[1].AuditID)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "audit"))
	require.NoError(t, err)
	exerciseStore(t, store)

	_, err = store.Get(context.Background(), "../etc/passwd")
	assert.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "audit"))
	require.NoError(t, err)
	assert.Len(t, entries, 4) // three packs and the latest pointer
}
