package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	blobmocks "github.com/zlnvch/fluxcanvas/blob/mocks"
	cachemocks "github.com/zlnvch/fluxcanvas/cache/mocks"
	"github.com/zlnvch/fluxcanvas/models"
	mqmocks "github.com/zlnvch/fluxcanvas/mq/mocks"
	notifymocks "github.com/zlnvch/fluxcanvas/notify/mocks"
	"github.com/zlnvch/fluxcanvas/service"
	"github.com/zlnvch/fluxcanvas/store/sqlite"
	"github.com/zlnvch/fluxcanvas/worker"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

var (
	creator  = models.User{Id: "creator", Username: "Creator"}
	member   = models.User{Id: "member", Username: "Member"}
	stranger = models.User{Id: "stranger", Username: "Stranger"}
)

// Helper to setup the service on an in-memory store with mocked collaborators.
// Publish is allowed by default; tests that care about events add their own expectations first.
func setupService(t *testing.T) (*service.Service, *sqlite.SQLiteCanvasStore, *cachemocks.MockCache, *mqmocks.MockMQ, *notifymocks.MockSink, *blobmocks.MockBlobStore) {
	t.Helper()

	canvasStore, err := sqlite.NewSQLiteCanvasStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { canvasStore.Close() })

	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)
	mockSink := new(notifymocks.MockSink)
	mockBlobs := new(blobmocks.MockBlobStore)

	// Real batcher; tests read its channel instead of running it
	viewBatcher := worker.NewViewBatcher(canvasStore, time.Second)

	svc := service.NewService(canvasStore, mockCache, mockMQ, mockSink, mockBlobs, viewBatcher, []byte("secret"))
	svc.Now = func() time.Time { return testNow }

	return svc, canvasStore, mockCache, mockMQ, mockSink, mockBlobs
}

func allowPublish(mockCache *cachemocks.MockCache) {
	mockCache.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	call.Run(func(args mock.Arguments) {
		once.Do(func() { close(done) })
	})
	return done
}

// seedCanvas stores a canvas directly, bypassing invite code generation.
func seedCanvas(t *testing.T, canvasStore *sqlite.SQLiteCanvasStore, id string, access models.AccessType, inviteCode string) models.Canvas {
	t.Helper()
	canvas := models.Canvas{
		Id:               id,
		CreatorId:        creator.Id,
		CreatorUsername:  creator.Username,
		AccessType:       access,
		InviteCode:       inviteCode,
		TotalPages:       2,
		MaxCollaborators: 3,
		CreatedAt:        testNow.Add(-time.Hour),
		ExpiresAt:        testNow.Add(23 * time.Hour),
	}
	require.NoError(t, canvasStore.CreateCanvas(context.Background(), canvas))
	return canvas
}

func imageLayer(page int) service.NewLayer {
	return service.NewLayer{
		Type:      models.LayerImage,
		Size:      models.Size{Width: 94, Height: 95},
		PageIndex: page,
		ImageUrl:  "/uploads/cat.png",
	}
}

// publishedEvents decodes every event published on channel.
func publishedEvents(t *testing.T, mockCache *cachemocks.MockCache, channel string) []service.CanvasEvent {
	t.Helper()
	var events []service.CanvasEvent
	for _, call := range mockCache.Calls {
		if call.Method != "Publish" || call.Arguments.String(1) != channel {
			continue
		}
		var event service.CanvasEvent
		require.NoError(t, json.Unmarshal(call.Arguments.Get(2).([]byte), &event))
		events = append(events, event)
	}
	return events
}
