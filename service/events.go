package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/zlnvch/fluxcanvas/models"
)

// CanvasDeletedChannel carries the id of every deleted canvas so hubs can drop subscriptions.
const CanvasDeletedChannel = "canvas-deleted"

const (
	EventLayerAdded      = "layer_added"
	EventLayerUpdated    = "layer_updated"
	EventLayerDeleted    = "layer_deleted"
	EventLayersReplaced  = "layers_replaced"
	EventCanvasUpdated   = "canvas_updated"
	EventCanvasDeleted   = "canvas_deleted"
	EventPresenceUpdated = "presence_updated"
)

func CanvasChannel(canvasId string) string {
	return "canvas:" + canvasId
}

// CanvasEvent is the pub/sub envelope fanned out to every subscriber of a canvas.
type CanvasEvent struct {
	Type     string `json:"type"`
	CanvasId string `json:"canvasId"`
	Data     any    `json:"data,omitempty"`
}

type LayerDeletedData struct {
	LayerId string `json:"layerId"`
}

type LayersReplacedData struct {
	PageIndex int            `json:"pageIndex"`
	Layers    []models.Layer `json:"layers"`
}

type CanvasUpdatedData struct {
	TotalPages       int      `json:"totalPages"`
	ViewCount        int      `json:"viewCount"`
	LikeCount        int      `json:"likeCount"`
	ExportedImageUrl string   `json:"exportedImageUrl,omitempty"`
	AllowedUsers     []string `json:"allowedUsers"`
	PendingRequests  []string `json:"pendingRequests"`
}

type PresenceUpdatedData struct {
	Collaborators []models.Presence `json:"collaborators"`
}

type CanvasDeletedMessage struct {
	CanvasId string `json:"canvasId"`
}

// publish fans out an event after the store write it describes succeeded.
// Subscribers reconcile from the next snapshot, so a failed publish is logged, not returned.
func (s *Service) publish(canvasId string, eventType string, data any) {
	msg, err := json.Marshal(CanvasEvent{Type: eventType, CanvasId: canvasId, Data: data})
	if err != nil {
		log.Printf("Failed to encode %s event for canvas %s: %v", eventType, canvasId, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Cache.Publish(ctx, CanvasChannel(canvasId), msg); err != nil {
		log.Printf("Failed to publish %s event for canvas %s: %v", eventType, canvasId, err)
	}
}

func (s *Service) publishCanvasDeleted(canvasId string) {
	msg, err := json.Marshal(CanvasDeletedMessage{CanvasId: canvasId})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Cache.Publish(ctx, CanvasDeletedChannel, msg); err != nil {
		log.Printf("Failed to publish deletion of canvas %s: %v", canvasId, err)
	}
}

func canvasUpdatedData(c models.Canvas) CanvasUpdatedData {
	return CanvasUpdatedData{
		TotalPages:       c.TotalPages,
		ViewCount:        c.ViewCount,
		LikeCount:        c.LikeCount,
		ExportedImageUrl: c.ExportedImageUrl,
		AllowedUsers:     c.AllowedUsers,
		PendingRequests:  c.PendingRequests,
	}
}
