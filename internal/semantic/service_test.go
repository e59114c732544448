package semantic

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertThenQueryFindsClosestMatch(t *testing.T) {
	svc := NewService(newLocalModelDriver(), "")
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "ping", "ping a host to check reachability"))
	require.NoError(t, svc.Upsert(ctx, "deploy", "deploy a service to production"))

	results, err := svc.Query(ctx, "check if a host is reachable", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ping", results[0].Name)
}

func TestUpsertSkipsReembeddingWhenContentUnchanged(t *testing.T) {
	svc := NewService(newLocalModelDriver(), "")
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "ping", "ping a host"))
	svc.idx.vectors["ping"][0] = 999 // corrupt the stored vector directly

	require.NoError(t, svc.Upsert(ctx, "ping", "ping a host"))
	assert.Equal(t, float32(999), svc.idx.vectors["ping"][0], "unchanged content must not be re-embedded")
}

func TestRemoveDropsFromIndex(t *testing.T) {
	svc := NewService(newLocalModelDriver(), "")
	ctx := context.Background()
	require.NoError(t, svc.Upsert(ctx, "ping", "ping a host"))
	require.NoError(t, svc.Remove(ctx, "ping"))
	assert.Equal(t, 0, svc.Count())
}

func TestDisabledBackendQueuesUpsertsAndNeverErrors(t *testing.T) {
	svc := NewService(disabledDriver{}, "")
	ctx := context.Background()
	err := svc.Upsert(ctx, "ping", "ping a host")
	require.NoError(t, err)
	assert.Equal(t, 0, svc.Count())
	assert.Contains(t, svc.pending, "ping")
}

func TestSaveAndLoadCacheRoundTrips(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(newLocalModelDriver(), dir)
	ctx := context.Background()
	require.NoError(t, svc.Upsert(ctx, "ping", "ping a host"))
	require.NoError(t, svc.SaveCache())

	restored := NewService(newLocalModelDriver(), dir)
	restored.LoadCache()
	assert.Equal(t, 1, restored.Count())
}

func TestLoadCacheRejectsMismatchedModelIdentifier(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, saveCache(dir, "some_other_model:999", map[string]string{"ping": "x"}, map[string][]float32{"ping": {1, 2, 3}}))

	svc := NewService(newLocalModelDriver(), dir)
	svc.LoadCache()
	assert.Equal(t, 0, svc.Count(), "a cache built for a different model must force a full rebuild")

	_ = os.RemoveAll(dir)
}
