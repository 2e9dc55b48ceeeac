package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/store"
)

var _ store.CanvasStore = (*SQLiteCanvasStore)(nil)

func newTestStore(t *testing.T) *SQLiteCanvasStore {
	t.Helper()
	s, err := NewSQLiteCanvasStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testCanvas(id string, access models.AccessType) models.Canvas {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Canvas{
		Id:               id,
		CreatorId:        "creator",
		CreatorUsername:  "Creator",
		AccessType:       access,
		TotalPages:       1,
		MaxCollaborators: 10,
		CreatedAt:        created,
		ExpiresAt:        created.Add(24 * time.Hour),
	}
}

func testLayer(id string) models.Layer {
	now := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	return models.Layer{
		Id:        id,
		Type:      models.LayerText,
		Position:  models.Position{X: 20, Y: 20},
		Size:      models.Size{Width: 100, Height: 100},
		Text:      "hello",
		FontSize:  14,
		CreatedBy: "creator",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func createCanvas(t *testing.T, s *SQLiteCanvasStore, c models.Canvas) {
	t.Helper()
	require.NoError(t, s.CreateCanvas(context.Background(), c))
}

func TestCreateAndGetCanvas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCanvas("c1", models.AccessPrivate)
	c.InviteCode = "ABCD2345"
	c.AllowedUsers = []string{"u1"}
	c.PendingRequests = []string{"u2"}
	createCanvas(t, s, c)

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "creator", got.CreatorId)
	assert.Equal(t, models.AccessPrivate, got.AccessType)
	assert.Equal(t, "ABCD2345", got.InviteCode)
	assert.Equal(t, []string{"u1"}, got.AllowedUsers)
	assert.Equal(t, []string{"u2"}, got.PendingRequests)
	assert.Empty(t, got.LikedBy)
	assert.NotNil(t, got.Layers)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, c.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, int64(0), got.LayersVersion)

	err = s.CreateCanvas(ctx, c)
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func TestGetCanvas_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCanvas(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrCanvasNotFound)
	assert.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestPutLayer_KeepsInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.PutLayer(ctx, "c1", testLayer(id)))
	}

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Layers, 3)
	assert.Equal(t, "zeta", got.Layers[0].Id)
	assert.Equal(t, "alpha", got.Layers[1].Id)
	assert.Equal(t, "mid", got.Layers[2].Id)
	assert.Equal(t, int64(3), got.LayersVersion)
}

func TestPutLayer_DuplicateAndMissingCanvas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))

	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("l1")))
	assert.ErrorIs(t, s.PutLayer(ctx, "c1", testLayer("l1")), store.ErrLayerExists)
	assert.ErrorIs(t, s.PutLayer(ctx, "nope", testLayer("l2")), store.ErrCanvasNotFound)
}

func TestConcurrentAdds_NoLostUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.PutLayer(ctx, "c1", testLayer(fmt.Sprintf("layer-%02d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got.Layers, writers)
	assert.Equal(t, int64(writers), got.LayersVersion)
}

func TestConcurrentAddAndDelete_BothSurvive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))
	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("old")))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.PutLayer(ctx, "c1", testLayer("new")))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, s.DeleteLayer(ctx, "c1", "old"))
	}()
	wg.Wait()

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Layers, 1)
	assert.Equal(t, "new", got.Layers[0].Id)
}

func TestUpdateLayer_CompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))
	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("l1")))

	moved := testLayer("l1")
	moved.Position = models.Position{X: 150, Y: 300}
	moved.Animation = &models.Animation{Type: models.AnimationBounce, Duration: 500, Loop: true}

	updated, err := s.UpdateLayer(ctx, "c1", moved, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	_, err = s.UpdateLayer(ctx, "c1", moved, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	layer, ok := got.FindLayer("l1")
	require.True(t, ok)
	assert.Equal(t, models.Position{X: 150, Y: 300}, layer.Position)
	require.NotNil(t, layer.Animation)
	assert.Equal(t, models.AnimationBounce, layer.Animation.Type)
	assert.True(t, layer.Animation.Loop)
}

func TestDeleteLayer_NeverResurrects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))
	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("l1")))

	require.NoError(t, s.DeleteLayer(ctx, "c1", "l1"))
	assert.ErrorIs(t, s.DeleteLayer(ctx, "c1", "l1"), store.ErrLayerNotFound)

	_, err := s.UpdateLayer(ctx, "c1", testLayer("l1"), 0)
	assert.ErrorIs(t, err, store.ErrLayerNotFound)

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got.Layers)
}

func TestReplaceLayers_VersionToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))
	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("a")))
	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("b")))

	snapshot, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)

	// A concurrent add lands between the read and the replace.
	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("c")))

	reordered := []models.Layer{snapshot.Layers[1], snapshot.Layers[0]}
	err = s.ReplaceLayers(ctx, "c1", reordered, snapshot.LayersVersion)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	fresh, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, fresh.Layers, 3)

	reordered = []models.Layer{fresh.Layers[2], fresh.Layers[0], fresh.Layers[1]}
	require.NoError(t, s.ReplaceLayers(ctx, "c1", reordered, fresh.LayersVersion))

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Layers, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got.Layers[0].Id, got.Layers[1].Id, got.Layers[2].Id})
	assert.Equal(t, fresh.LayersVersion+1, got.LayersVersion)

	assert.ErrorIs(t, s.ReplaceLayers(ctx, "nope", nil, 0), store.ErrCanvasNotFound)
}

func TestSetLike(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))

	require.NoError(t, s.SetLike(ctx, "c1", "u1", true))
	assert.ErrorIs(t, s.SetLike(ctx, "c1", "u1", true), store.ErrConditionFailed)
	require.NoError(t, s.SetLike(ctx, "c1", "u2", true))

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.LikeCount)
	assert.ElementsMatch(t, []string{"u1", "u2"}, got.LikedBy)

	require.NoError(t, s.SetLike(ctx, "c1", "u1", false))
	assert.ErrorIs(t, s.SetLike(ctx, "c1", "u1", false), store.ErrConditionFailed)
	assert.ErrorIs(t, s.SetLike(ctx, "nope", "u1", true), store.ErrCanvasNotFound)

	got, err = s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.LikeCount)
	assert.Equal(t, []string{"u2"}, got.LikedBy)
}

func TestMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPrivate))

	require.NoError(t, s.AddPendingRequest(ctx, "c1", "u1"))
	require.NoError(t, s.AddPendingRequest(ctx, "c1", "u1"))
	require.NoError(t, s.AddPendingRequest(ctx, "c1", "u2"))

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, got.PendingRequests)

	require.NoError(t, s.GrantMembership(ctx, "c1", "u1"))
	require.NoError(t, s.RemovePendingRequest(ctx, "c1", "u2"))

	got, err = s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got.AllowedUsers)
	assert.Empty(t, got.PendingRequests)

	assert.ErrorIs(t, s.GrantMembership(ctx, "nope", "u1"), store.ErrCanvasNotFound)
}

func TestCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))

	require.NoError(t, s.IncrementViewCount(ctx, "c1", 3))
	require.NoError(t, s.IncrementViewCount(ctx, "c1", 2))
	pages, err := s.AddPage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.NoError(t, s.SetExportedImageURL(ctx, "c1", "/blobs/c1.png"))

	got, err := s.GetCanvas(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.ViewCount)
	assert.Equal(t, 2, got.TotalPages)
	assert.Equal(t, "/blobs/c1.png", got.ExportedImageUrl)

	assert.ErrorIs(t, s.IncrementViewCount(ctx, "nope", 1), store.ErrCanvasNotFound)
	_, err = s.AddPage(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrCanvasNotFound)
}

func TestDiscoveryAndExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createCanvas(t, s, testCanvas("pub", models.AccessPublic))
	createCanvas(t, s, testCanvas("priv", models.AccessPrivate))
	later := testCanvas("later", models.AccessPublic)
	later.ExpiresAt = later.ExpiresAt.Add(48 * time.Hour)
	createCanvas(t, s, later)

	list, err := s.ListDiscoverable(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	now := time.Date(2025, 3, 2, 13, 0, 0, 0, time.UTC)
	ids, err := s.ListExpiryCandidates(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pub", "priv"}, ids)

	require.NoError(t, s.MarkExpired(ctx, "pub"))

	list, err = s.ListDiscoverable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "later", list[0].Id)

	ids, err = s.ListExpiryCandidates(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"priv"}, ids)

	assert.ErrorIs(t, s.MarkExpired(ctx, "nope"), store.ErrCanvasNotFound)
}

func TestDeleteCanvas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCanvas(t, s, testCanvas("c1", models.AccessPublic))
	require.NoError(t, s.PutLayer(ctx, "c1", testLayer("l1")))

	assert.ErrorIs(t, s.DeleteCanvas(ctx, "c1", "someone-else"), store.ErrConditionFailed)
	require.NoError(t, s.DeleteCanvas(ctx, "c1", "creator"))
	assert.ErrorIs(t, s.DeleteCanvas(ctx, "c1", "creator"), store.ErrCanvasNotFound)

	_, err := s.GetCanvas(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrCanvasNotFound)
	assert.ErrorIs(t, s.PutLayer(ctx, "c1", testLayer("l2")), store.ErrCanvasNotFound)

	require.NoError(t, s.DeleteCanvasLayers(ctx, "c1"))
}
