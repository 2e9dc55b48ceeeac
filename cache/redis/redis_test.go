package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/fluxcanvas/cache/redis"
)

// Runs against a real Redis; set REDIS_TEST_ENDPOINT (e.g. localhost:6379) to enable.
func setupCache(t *testing.T) (*redis.RedisCanvasCache, string) {
	t.Helper()
	endpoint := os.Getenv("REDIS_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("REDIS_TEST_ENDPOINT not set")
	}

	ctx := context.Background()
	canvasCache, err := redis.NewRedisCanvasCache(ctx, true, endpoint)
	require.NoError(t, err)

	canvasId := uuid.Must(uuid.NewV4()).String()
	t.Cleanup(func() { canvasCache.ClearPresence(context.Background(), canvasId) })
	return canvasCache, canvasId
}

func TestGetPresence_LeavesStaleRecordsInPlace(t *testing.T) {
	canvasCache, canvasId := setupCache(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, canvasCache.SetPresence(ctx, canvasId, "alice", now, []byte(`{"userId":"alice"}`)))
	require.NoError(t, canvasCache.SetPresence(ctx, canvasId, "bob", now.Add(-10500*time.Millisecond), []byte(`{"userId":"bob"}`)))

	records, err := canvasCache.GetPresence(ctx, canvasId, now.Add(-10*time.Second))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"userId":"alice"}`, string(records[0]))

	// bob's heartbeat lands right after alice's read
	require.NoError(t, canvasCache.SetPresence(ctx, canvasId, "bob", now, []byte(`{"userId":"bob","selectedLayerId":"l1"}`)))

	records, err = canvasCache.GetPresence(ctx, canvasId, now.Add(-10*time.Second))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	counts, err := canvasCache.ActiveCounts(ctx, []string{canvasId}, now.Add(-10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[canvasId])
}

func TestGetPresence_ReadDoesNotDeleteOtherUsers(t *testing.T) {
	canvasCache, canvasId := setupCache(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, canvasCache.SetPresence(ctx, canvasId, "bob", now.Add(-30*time.Second), []byte(`{"userId":"bob"}`)))

	records, err := canvasCache.GetPresence(ctx, canvasId, now.Add(-10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, records)

	// only bob's own writes remove his record
	records, err = canvasCache.GetPresence(ctx, canvasId, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"userId":"bob"}`, string(records[0]))

	require.NoError(t, canvasCache.RemovePresence(ctx, canvasId, "bob"))
	records, err = canvasCache.GetPresence(ctx, canvasId, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, records)
}
