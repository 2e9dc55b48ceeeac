package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/service"
)

func presenceRecord(t *testing.T, userId, username string, lastActive time.Time) []byte {
	t.Helper()
	data, err := json.Marshal(models.Presence{CanvasId: "c1", UserId: userId, Username: username, LastActive: lastActive})
	require.NoError(t, err)
	return data
}

func TestIsActive_Boundary(t *testing.T) {
	now := testNow
	assert.True(t, service.IsActive(models.Presence{LastActive: now.Add(-9000 * time.Millisecond)}, now))
	assert.False(t, service.IsActive(models.Presence{LastActive: now.Add(-11000 * time.Millisecond)}, now))
	assert.False(t, service.IsActive(models.Presence{LastActive: now.Add(-10000 * time.Millisecond)}, now))
	assert.True(t, service.IsActive(models.Presence{LastActive: now}, now))
}

func TestActiveCollaborators(t *testing.T) {
	svc, _, mockCache, _, _, _ := setupService(t)
	ctx := context.Background()

	records := [][]byte{
		presenceRecord(t, "u2", "zoe", testNow.Add(-2*time.Second)),
		presenceRecord(t, "u1", "amy", testNow.Add(-9*time.Second)),
		presenceRecord(t, "u3", "bob", testNow.Add(-11*time.Second)),
		[]byte("not json"),
	}
	mockCache.On("GetPresence", mock.Anything, "c1", testNow.Add(-10*time.Second)).Return(records, nil).Once()

	active, err := svc.ActiveCollaborators(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "amy", active[0].Username)
	assert.Equal(t, "zoe", active[1].Username)
	mockCache.AssertExpectations(t)
}

func TestJoin_WritesOwnRecordAndPublishes(t *testing.T) {
	svc, canvasStore, mockCache, _, _, _ := setupService(t)
	ctx := context.Background()
	seedCanvas(t, canvasStore, "c1", models.AccessPublic, "")

	var written models.Presence
	mockCache.On("SetPresence", mock.Anything, "c1", stranger.Id, testNow, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(4).([]byte), &written))
		}).Return(nil).Once()
	mockCache.On("GetPresence", mock.Anything, "c1", mock.Anything).
		Return([][]byte{presenceRecord(t, stranger.Id, stranger.Username, testNow)}, nil).Once()
	mockCache.On("Publish", mock.Anything, "canvas:c1", mock.Anything).Return(nil).Once()

	collaborators, err := svc.Join(ctx, stranger, "c1")
	require.NoError(t, err)
	require.Len(t, collaborators, 1)
	assert.Equal(t, stranger.Id, collaborators[0].UserId)
	assert.Equal(t, stranger.Username, written.Username)
	assert.Equal(t, testNow, written.LastActive)

	events := publishedEvents(t, mockCache, "canvas:c1")
	require.Len(t, events, 1)
	assert.Equal(t, service.EventPresenceUpdated, events[0].Type)
	mockCache.AssertExpectations(t)
}

func TestJoin_LockedCanvas(t *testing.T) {
	svc, canvasStore, mockCache, _, _, _ := setupService(t)
	seedCanvas(t, canvasStore, "c1", models.AccessPrivate, "FLUX2025")

	_, err := svc.Join(context.Background(), stranger, "c1")
	assert.ErrorIs(t, err, apperror.ErrPermissionDenied)
	mockCache.AssertNotCalled(t, "SetPresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHeartbeat_CarriesSelection(t *testing.T) {
	svc, _, mockCache, _, _, _ := setupService(t)
	ctx := context.Background()
	allowPublish(mockCache)

	var written models.Presence
	mockCache.On("SetPresence", mock.Anything, "c1", stranger.Id, testNow, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(4).([]byte), &written))
		}).Return(nil).Once()
	mockCache.On("GetPresence", mock.Anything, "c1", mock.Anything).Return([][]byte{}, nil)

	require.NoError(t, svc.Heartbeat(ctx, stranger, "c1", "layer-9"))
	assert.Equal(t, "layer-9", written.SelectedLayerId)
}

func TestLeave(t *testing.T) {
	svc, _, mockCache, _, _, _ := setupService(t)
	ctx := context.Background()
	allowPublish(mockCache)

	mockCache.On("RemovePresence", mock.Anything, "c1", stranger.Id).Return(nil).Once()
	mockCache.On("GetPresence", mock.Anything, "c1", mock.Anything).Return([][]byte{}, nil)

	require.NoError(t, svc.Leave(ctx, stranger, "c1"))
	mockCache.AssertExpectations(t)
}

func TestLeave_RetriesTransientFailure(t *testing.T) {
	svc, _, mockCache, _, _, _ := setupService(t)
	ctx := context.Background()
	allowPublish(mockCache)

	mockCache.On("RemovePresence", mock.Anything, "c1", stranger.Id).Return(errors.New("connection reset")).Once()
	mockCache.On("RemovePresence", mock.Anything, "c1", stranger.Id).Return(nil).Once()
	mockCache.On("GetPresence", mock.Anything, "c1", mock.Anything).Return([][]byte{}, nil)

	require.NoError(t, svc.Leave(ctx, stranger, "c1"))
	mockCache.AssertNumberOfCalls(t, "RemovePresence", 2)
}

func TestActiveCounts(t *testing.T) {
	svc, _, mockCache, _, _, _ := setupService(t)

	ids := []string{"c1", "c2"}
	mockCache.On("ActiveCounts", mock.Anything, ids, testNow.Add(-10*time.Second)).
		Return(map[string]int64{"c1": 2, "c2": 0}, nil).Once()

	counts, err := svc.ActiveCounts(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 2, "c2": 0}, counts)
}
