package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	cachemocks "github.com/zlnvch/fluxcanvas/cache/mocks"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/service"
)

func setupHub(t *testing.T) (*Hub, *cachemocks.MockCache) {
	t.Helper()
	mockCache := new(cachemocks.MockCache)
	hub := NewHub(mockCache)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, mockCache
}

// captureHandler records the pub/sub handler registered for channel.
func captureHandler(mockCache *cachemocks.MockCache, channel string) chan func([]byte) {
	handlers := make(chan func([]byte), 1)
	mockCache.On("Subscribe", mock.Anything, channel, mock.Anything).
		Run(func(args mock.Arguments) {
			handlers <- args.Get(2).(func([]byte))
		}).
		Return(nil).Once()
	return handlers
}

func openClient(t *testing.T, hub *Hub, userId string) *Client {
	t.Helper()
	client := NewClient(hub, nil, models.User{Id: userId, Username: userId}, nil, nil)
	hub.OpenCh <- client
	return client
}

func subscribe(hub *Hub, client *Client, canvasId string) error {
	result := make(chan error, 1)
	hub.SubscribeCh <- subscription{client: client, canvasId: canvasId, result: result}
	return <-result
}

func receive(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case msg := <-client.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHubFansOutToSubscribers(t *testing.T) {
	hub, mockCache := setupHub(t)
	handlers := captureHandler(mockCache, service.CanvasChannel("c1"))

	alice := openClient(t, hub, "alice")
	bob := openClient(t, hub, "bob")
	require.NoError(t, subscribe(hub, alice, "c1"))
	require.NoError(t, subscribe(hub, bob, "c1"))

	// one redis subscription per canvas
	mockCache.AssertNumberOfCalls(t, "Subscribe", 1)

	handler := <-handlers
	handler([]byte(`{"type":"layer_added"}`))

	assert.JSONEq(t, `{"type":"layer_added"}`, string(receive(t, alice)))
	assert.JSONEq(t, `{"type":"layer_added"}`, string(receive(t, bob)))
}

func TestHubRejectsUnknownClient(t *testing.T) {
	hub, _ := setupHub(t)

	client := NewClient(hub, nil, models.User{Id: "ghost"}, nil, nil)
	assert.ErrorIs(t, subscribe(hub, client, "c1"), errConnectionClosed)
}

func TestHubSubscribeFailure(t *testing.T) {
	hub, mockCache := setupHub(t)
	mockCache.On("Subscribe", mock.Anything, service.CanvasChannel("c1"), mock.Anything).Return(errors.New("redis down"))

	client := openClient(t, hub, "alice")
	assert.Error(t, subscribe(hub, client, "c1"))
}

func TestHubConnectionLimit(t *testing.T) {
	hub, _ := setupHub(t)

	var clients []*Client
	for range maxConnectionsPerUser + 1 {
		clients = append(clients, openClient(t, hub, "alice"))
	}

	rejected := clients[maxConnectionsPerUser]
	select {
	case <-rejected.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("extra connection was not closed")
	}
	assert.NoError(t, clients[0].ctx.Err())
}

func TestHubDropsSubscribersOfDeletedCanvas(t *testing.T) {
	hub, mockCache := setupHub(t)
	captureHandler(mockCache, service.CanvasChannel("c1"))
	captureHandler(mockCache, service.CanvasChannel("c1"))

	client := openClient(t, hub, "alice")
	require.NoError(t, subscribe(hub, client, "c1"))

	hub.CanvasDeletedCh <- "c1"

	// a fresh subscribe has to create a new redis subscription
	require.NoError(t, subscribe(hub, client, "c1"))
	mockCache.AssertNumberOfCalls(t, "Subscribe", 2)
}

func TestHubNotifiesSubscribersWhenDeletionArrivesFirst(t *testing.T) {
	hub, mockCache := setupHub(t)
	handlers := captureHandler(mockCache, service.CanvasChannel("c1"))

	alice := openClient(t, hub, "alice")
	bob := openClient(t, hub, "bob")
	require.NoError(t, subscribe(hub, alice, "c1"))
	require.NoError(t, subscribe(hub, bob, "c1"))
	handler := <-handlers

	hub.CanvasDeletedCh <- "c1"
	// the per-canvas event loses the race and finds no subscribers
	handler([]byte(`{"type":"canvas_deleted","canvasId":"c1"}`))

	for _, client := range []*Client{alice, bob} {
		assert.JSONEq(t, `{"type":"canvas_deleted","canvasId":"c1"}`, string(receive(t, client)))
	}

	assert.Empty(t, alice.Send)
	assert.Empty(t, bob.Send)
}

func TestHubDeletionOfUnwatchedCanvas(t *testing.T) {
	hub, mockCache := setupHub(t)
	captureHandler(mockCache, service.CanvasChannel("c1"))

	alice := openClient(t, hub, "alice")
	require.NoError(t, subscribe(hub, alice, "c1"))

	hub.CanvasDeletedCh <- "c2"
	require.NoError(t, subscribe(hub, alice, "c1"))

	assert.Empty(t, alice.Send)
	mockCache.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub, mockCache := setupHub(t)
	handlers := captureHandler(mockCache, service.CanvasChannel("c1"))

	alice := openClient(t, hub, "alice")
	bob := openClient(t, hub, "bob")
	require.NoError(t, subscribe(hub, alice, "c1"))
	require.NoError(t, subscribe(hub, bob, "c1"))
	handler := <-handlers

	hub.CloseCh <- alice
	handler([]byte(`{"type":"layer_deleted"}`))

	assert.JSONEq(t, `{"type":"layer_deleted"}`, string(receive(t, bob)))
	assert.Empty(t, alice.Send)
	assert.Error(t, alice.ctx.Err())
}

func TestInitSubscriptionsForwardsDeletions(t *testing.T) {
	mockCache := new(cachemocks.MockCache)
	handlers := captureHandler(mockCache, service.CanvasDeletedChannel)
	hub := NewHub(mockCache)

	require.NoError(t, hub.InitSubscriptions(context.Background()))
	handler := <-handlers

	// malformed payloads are dropped without blocking
	handler([]byte(`not json`))

	go handler([]byte(`{"canvasId":"c9"}`))
	select {
	case canvasId := <-hub.CanvasDeletedCh:
		assert.Equal(t, "c9", canvasId)
	case <-time.After(time.Second):
		t.Fatal("deletion was not forwarded")
	}
}
