package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/zlnvch/fluxcanvas/cache"
	"github.com/zlnvch/fluxcanvas/service"
)

var (
	errTooManySubscriptions = errors.New("too many subscriptions on this connection")
	errConnectionClosed     = errors.New("connection closed")
)

type subscription struct {
	client   *Client
	canvasId string
	result   chan error
}

type broadcast struct {
	canvasId string
	message  []byte
}

// Hub maintains the set of active clients and fans canvas events out to the
// clients subscribed to each canvas. All maps are owned by Run. OpenCh, CloseCh
// and CanvasDeletedCh are unbuffered so a send returns only once Run has taken
// the change, and later requests from the same goroutine observe it.
type Hub struct {
	canvasCache              cache.CanvasCache
	OpenCh                   chan *Client
	CloseCh                  chan *Client
	SubscribeCh              chan subscription
	UnsubscribeCh            chan subscription
	CanvasDeletedCh          chan string
	broadcastCh              chan broadcast
	userToClients            map[string]map[*Client]struct{}
	canvasToClients          map[string]map[*Client]struct{}
	canvasToSubscriberCancel map[string]context.CancelFunc
}

func NewHub(canvasCache cache.CanvasCache) *Hub {
	return &Hub{
		canvasCache:              canvasCache,
		OpenCh:                   make(chan *Client),
		CloseCh:                  make(chan *Client),
		SubscribeCh:              make(chan subscription, 1024),
		UnsubscribeCh:            make(chan subscription, 1024),
		CanvasDeletedCh:          make(chan string),
		broadcastCh:              make(chan broadcast, 4096),
		userToClients:            make(map[string]map[*Client]struct{}),
		canvasToClients:          make(map[string]map[*Client]struct{}),
		canvasToSubscriberCancel: make(map[string]context.CancelFunc),
	}
}

const (
	maxConnectionsPerUser         = 3
	maxSubscriptionsPerConnection = 50
)

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for canvasId, cancel := range h.canvasToSubscriberCancel {
				cancel()
				delete(h.canvasToSubscriberCancel, canvasId)
			}
			return

		case client := <-h.OpenCh:
			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
				client.Close()
				continue
			}
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}
			h.userToClients[client.user.Id][client] = struct{}{}

		case client := <-h.CloseCh:
			for canvasId := range client.subscribedCanvases {
				h.removeSubscriber(canvasId, client)
			}
			delete(h.userToClients[client.user.Id], client)
			if len(h.userToClients[client.user.Id]) == 0 {
				delete(h.userToClients, client.user.Id)
			}
			client.Close()

		case sub := <-h.SubscribeCh:
			sub.reply(h.subscribe(sub))

		case unsub := <-h.UnsubscribeCh:
			h.removeSubscriber(unsub.canvasId, unsub.client)
			unsub.reply(nil)

		case canvasId := <-h.CanvasDeletedCh:
			h.dropDeletedCanvas(canvasId)

		case b := <-h.broadcastCh:
			for client := range h.canvasToClients[b.canvasId] {
				client.send(b.message)
			}
		}
	}
}

func (sub subscription) reply(err error) {
	if sub.result != nil {
		sub.result <- err
	}
}

func (h *Hub) subscribe(sub subscription) error {
	if _, ok := h.userToClients[sub.client.user.Id][sub.client]; !ok {
		return errConnectionClosed
	}
	if _, ok := sub.client.subscribedCanvases[sub.canvasId]; ok {
		return nil
	}
	if len(sub.client.subscribedCanvases) >= maxSubscriptionsPerConnection {
		log.Printf("Connection by user %s reached max subscriptions (%d)", sub.client.user.Id, maxSubscriptionsPerConnection)
		return errTooManySubscriptions
	}

	if h.canvasToClients[sub.canvasId] == nil {
		log.Printf("Subscriber does not exist, creating for canvas: %s", sub.canvasId)

		ctx, cancel := context.WithCancel(context.Background())
		canvasId := sub.canvasId
		channel := service.CanvasChannel(canvasId)

		err := h.canvasCache.Subscribe(ctx, channel, func(messageBytes []byte) {
			h.broadcastCh <- broadcast{canvasId: canvasId, message: messageBytes}
		})
		if err != nil {
			cancel()
			log.Printf("Failed to create redis sub for channel %s: %v", channel, err)
			return err
		}

		h.canvasToClients[canvasId] = make(map[*Client]struct{})
		h.canvasToSubscriberCancel[canvasId] = cancel
	}
	h.canvasToClients[sub.canvasId][sub.client] = struct{}{}
	sub.client.subscribedCanvases[sub.canvasId] = struct{}{}
	return nil
}

// dropDeletedCanvas tells every subscriber the canvas is gone, then drops them.
// The per-canvas event may already have been delivered; clients treat a
// repeated canvas_deleted as a no-op.
func (h *Hub) dropDeletedCanvas(canvasId string) {
	clients := h.canvasToClients[canvasId]
	if len(clients) == 0 {
		return
	}

	deleted, err := json.Marshal(service.CanvasEvent{Type: service.EventCanvasDeleted, CanvasId: canvasId})
	if err != nil {
		log.Printf("Failed to encode deletion of canvas %s: %v", canvasId, err)
	}
	for client := range clients {
		if deleted != nil {
			client.send(deleted)
		}
		h.removeSubscriber(canvasId, client)
	}
}

func (h *Hub) removeSubscriber(canvasId string, client *Client) {
	delete(h.canvasToClients[canvasId], client)
	delete(client.subscribedCanvases, canvasId)
	if len(h.canvasToClients[canvasId]) == 0 {
		if cancel, ok := h.canvasToSubscriberCancel[canvasId]; ok {
			cancel()
			delete(h.canvasToSubscriberCancel, canvasId)
		}
		delete(h.canvasToClients, canvasId)
	}
}

// InitSubscriptions listens for canvas deletions so that subscribers of a
// deleted canvas are dropped on every instance.
func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.canvasCache.Subscribe(shutdownCtx, service.CanvasDeletedChannel, func(message []byte) {
		var deleted service.CanvasDeletedMessage
		if err := json.Unmarshal(message, &deleted); err != nil {
			log.Printf("Failed to unmarshal %s message: %v", service.CanvasDeletedChannel, err)
			return
		}
		h.CanvasDeletedCh <- deleted.CanvasId
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to %s: %v", service.CanvasDeletedChannel, err)
		return err
	}
	return nil
}
