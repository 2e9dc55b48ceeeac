package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zlnvch/fluxcanvas/models"
)

// CanvasStore persists canvases with one record per layer, so concurrent layer
// inserts and deletes never share a written field. Every layer mutation also
// advances the canvas LayersVersion, which ReplaceLayers compares before writing.
type CanvasStore interface {
	CreateCanvas(ctx context.Context, canvas models.Canvas) error
	GetCanvas(ctx context.Context, canvasId string) (models.Canvas, error)
	DeleteCanvas(ctx context.Context, canvasId string, creatorId string) error
	DeleteCanvasLayers(ctx context.Context, canvasId string) error

	PutLayer(ctx context.Context, canvasId string, layer models.Layer) error
	UpdateLayer(ctx context.Context, canvasId string, layer models.Layer, expectedVersion int64) (models.Layer, error)
	DeleteLayer(ctx context.Context, canvasId string, layerId string) error
	ReplaceLayers(ctx context.Context, canvasId string, layers []models.Layer, expectedLayersVersion int64) error

	IncrementViewCount(ctx context.Context, canvasId string, count int) error
	SetLike(ctx context.Context, canvasId string, userId string, liked bool) error
	AddPendingRequest(ctx context.Context, canvasId string, userId string) error
	RemovePendingRequest(ctx context.Context, canvasId string, userId string) error
	GrantMembership(ctx context.Context, canvasId string, userId string) error
	AddPage(ctx context.Context, canvasId string) (int, error)
	SetExportedImageURL(ctx context.Context, canvasId string, url string) error

	ListDiscoverable(ctx context.Context) ([]models.Canvas, error)
	ListExpiryCandidates(ctx context.Context, now time.Time) ([]string, error)
	MarkExpired(ctx context.Context, canvasId string) error
}

var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")

	ErrCanvasNotFound  = fmt.Errorf("canvas: %w", ErrItemNotFound)
	ErrLayerNotFound   = fmt.Errorf("layer: %w", ErrItemNotFound)
	ErrLayerExists     = fmt.Errorf("layer id already used: %w", ErrConditionFailed)
	ErrVersionConflict = fmt.Errorf("version changed: %w", ErrConditionFailed)
)
