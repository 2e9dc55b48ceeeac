package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zlnvch/fluxcanvas/cache"
	"github.com/zlnvch/fluxcanvas/mq"
	"github.com/zlnvch/fluxcanvas/store"
)

const deleteCanvasKind = "delete_canvas"

type DeleteCanvasMessage struct {
	CanvasId string `json:"canvasId"`
}

func (m DeleteCanvasMessage) QueueAttributes() map[string]string {
	return map[string]string{mq.AttrKind: deleteCanvasKind, mq.AttrCanvasId: m.CanvasId}
}

// CleanupConsumer removes the layer records and presence keys left behind by
// a deleted canvas. The canvas metadata is already gone when a message arrives.
type CleanupConsumer struct {
	cleanupQueue mq.MessageQueue
	canvasStore  store.CanvasStore
	canvasCache  cache.CanvasCache
}

func NewCleanupConsumer(cleanupQueue mq.MessageQueue, canvasStore store.CanvasStore, canvasCache cache.CanvasCache) *CleanupConsumer {
	return &CleanupConsumer{
		cleanupQueue: cleanupQueue,
		canvasStore:  canvasStore,
		canvasCache:  canvasCache,
	}
}

// Allow up to 5 minutes for the throttled batch deletion of a canvas's layers
const visibilityTimeout = 300

func (c *CleanupConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := c.cleanupQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("cleanupConsumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		c.handle(msg)
	}
}

// decode reads a cleanup message. Attributes win over the body when both are
// set; a message of another kind is not a cleanup request.
func decode(msg *mq.Message) (DeleteCanvasMessage, bool) {
	if kind, ok := msg.Attributes[mq.AttrKind]; ok && kind != deleteCanvasKind {
		return DeleteCanvasMessage{}, false
	}

	var deleteMsg DeleteCanvasMessage
	if err := mq.DecodeJSON(msg, &deleteMsg); err != nil {
		return DeleteCanvasMessage{}, false
	}
	if id := msg.Attributes[mq.AttrCanvasId]; id != "" {
		deleteMsg.CanvasId = id
	}
	return deleteMsg, deleteMsg.CanvasId != ""
}

func (c *CleanupConsumer) handle(msg *mq.Message) {
	deleteMsg, ok := decode(msg)
	if !ok {
		log.Printf("cleanupConsumer dropping malformed message %s", msg.Id)
		// a malformed message would be redelivered forever
		if err := c.cleanupQueue.Delete(context.Background(), msg); err != nil {
			log.Printf("cleanupConsumer delete error: %v", err)
		}
		return
	}

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	if err := c.canvasStore.DeleteCanvasLayers(ctx, deleteMsg.CanvasId); err != nil {
		log.Printf("Failed to delete layers of canvas %s: %v", deleteMsg.CanvasId, err)
		return
	}

	if err := c.canvasCache.ClearPresence(ctx, deleteMsg.CanvasId); err != nil {
		log.Printf("Failed to clear presence of canvas %s: %v", deleteMsg.CanvasId, err)
		return
	}

	if err := c.cleanupQueue.Delete(context.Background(), msg); err != nil {
		log.Printf("cleanupConsumer delete error: %v", err)
	}
}
