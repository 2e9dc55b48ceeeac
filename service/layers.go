package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/layout"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/store"
)

// casAttempts bounds how often a read-modify-CAS cycle restarts after losing a race.
const casAttempts = 3

// Viewport is the client's canvas size, used for placement and reflow.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (v *Viewport) dimensions() (float64, float64) {
	if v == nil || v.Width <= 0 || v.Height <= 0 {
		return layout.DefaultCanvasWidth, layout.DefaultCanvasHeight
	}
	return v.Width, v.Height
}

// NewLayer is a client request to add a layer. A nil Position asks the server
// to place the layer.
type NewLayer struct {
	Type       models.LayerType  `json:"type"`
	Position   *models.Position  `json:"position,omitempty"`
	Size       models.Size       `json:"size"`
	Rotation   float64           `json:"rotation"`
	PageIndex  int               `json:"pageIndex"`
	ImageUrl   string            `json:"imageUrl,omitempty"`
	Caption    string            `json:"caption,omitempty"`
	Text       string            `json:"text,omitempty"`
	FontSize   float64           `json:"fontSize,omitempty"`
	FontColor  string            `json:"fontColor,omitempty"`
	FontFamily string            `json:"fontFamily,omitempty"`
	Animation  *models.Animation `json:"animation,omitempty"`
	Viewport   *Viewport         `json:"viewport,omitempty"`
}

func (n NewLayer) layer() models.Layer {
	l := models.Layer{
		Type:       n.Type,
		Size:       n.Size,
		Rotation:   n.Rotation,
		PageIndex:  n.PageIndex,
		ImageUrl:   n.ImageUrl,
		Caption:    n.Caption,
		Text:       n.Text,
		FontSize:   n.FontSize,
		FontColor:  n.FontColor,
		FontFamily: n.FontFamily,
		Animation:  n.Animation,
	}
	if n.Position != nil {
		l.Position = *n.Position
	}
	return l
}

// AddLayer checks the gate and the page capacity, places the layer when no
// position was given and stores it as its own record.
func (s *Service) AddLayer(ctx context.Context, user models.User, canvasId string, req NewLayer) (models.Layer, error) {
	layer := req.layer()
	if err := ValidateLayerContent(layer); err != nil {
		return models.Layer{}, err
	}

	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return models.Layer{}, err
	}
	if err := s.requireWritable(canvas, user); err != nil {
		return models.Layer{}, err
	}
	if err := checkPageRoom(canvas, layer.PageIndex); err != nil {
		return models.Layer{}, err
	}
	page := canvas.LayersOnPage(layer.PageIndex)

	if req.Position == nil {
		w, h := req.Viewport.dimensions()
		layer.Position = layout.Place(canvas.Layers, layer.PageIndex, w, h, layer.Size.Width, layer.Size.Height)
	}

	topZ := 0
	for _, l := range page {
		topZ = max(topZ, l.ZIndex)
	}
	layer.ZIndex = topZ + 1

	id, err := uuid.NewV4()
	if err != nil {
		return models.Layer{}, err
	}
	now := s.now()
	layer.Id = id.String()
	layer.CreatedBy = user.Id
	layer.CreatedByUsername = user.Username
	layer.CreatedByProfilePic = user.ProfilePic
	layer.CreatedAt = now
	layer.UpdatedAt = now
	layer.Version = 1

	attempts := 0
	err = withRetry(ctx, "put layer", func() error {
		attempts++
		err := s.Store.PutLayer(ctx, canvasId, layer)
		if attempts > 1 && errors.Is(err, store.ErrLayerExists) {
			// the id is fresh, so an earlier attempt committed before its reply was lost
			return nil
		}
		return err
	})
	if err != nil {
		return models.Layer{}, layerStoreError(err, canvasId, layer.Id)
	}

	s.publish(canvasId, EventLayerAdded, layer)
	return layer, nil
}

// AddImageLayer uploads the image and adds a layer showing it. The gate, page
// and capacity are checked before anything is uploaded.
func (s *Service) AddImageLayer(ctx context.Context, user models.User, canvasId string, req NewLayer, data []byte, contentType string) (models.Layer, error) {
	if req.Type != models.LayerImage && req.Type != models.LayerSticker {
		return models.Layer{}, apperror.ValidationFailed("type", "uploaded layers must be image or sticker")
	}

	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return models.Layer{}, err
	}
	if err := s.requireWritable(canvas, user); err != nil {
		return models.Layer{}, err
	}
	if err := checkPageRoom(canvas, req.PageIndex); err != nil {
		return models.Layer{}, err
	}

	imageUrl, err := s.upload(ctx, data, contentType)
	if err != nil {
		return models.Layer{}, err
	}
	req.ImageUrl = imageUrl
	return s.AddLayer(ctx, user, canvasId, req)
}

// UpdateLayer applies patch to the current layer with a compare-and-swap on
// its version, rereading and reapplying when another writer got there first.
func (s *Service) UpdateLayer(ctx context.Context, user models.User, canvasId string, layerId string, patch models.LayerPatch) (models.Layer, error) {
	for range casAttempts {
		canvas, err := s.loadCanvas(ctx, canvasId)
		if err != nil {
			return models.Layer{}, err
		}
		if err := s.requireWritable(canvas, user); err != nil {
			return models.Layer{}, err
		}

		current, ok := canvas.FindLayer(layerId)
		if !ok {
			return models.Layer{}, apperror.NotFound("layer", layerId)
		}

		next := patch.Apply(current)
		if err := ValidateLayerContent(next); err != nil {
			return models.Layer{}, err
		}
		next.UpdatedAt = s.now()

		var updated models.Layer
		err = withRetry(ctx, "update layer", func() error {
			var err error
			updated, err = s.Store.UpdateLayer(ctx, canvasId, next, current.Version)
			return err
		})
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return models.Layer{}, layerStoreError(err, canvasId, layerId)
		}

		s.publish(canvasId, EventLayerUpdated, updated)
		return updated, nil
	}
	return models.Layer{}, apperror.Conflict("layer", layerId)
}

func (s *Service) DeleteLayer(ctx context.Context, user models.User, canvasId string, layerId string) error {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return err
	}
	if err := s.requireWritable(canvas, user); err != nil {
		return err
	}

	err = withRetry(ctx, "delete layer", func() error {
		return s.Store.DeleteLayer(ctx, canvasId, layerId)
	})
	if err != nil {
		return layerStoreError(err, canvasId, layerId)
	}

	s.publish(canvasId, EventLayerDeleted, LayerDeletedData{LayerId: layerId})
	return nil
}

// ReflowPage lays the page out on the grid and replaces the layer set,
// guarded by the canvas layers version read alongside the layers.
func (s *Service) ReflowPage(ctx context.Context, user models.User, canvasId string, pageIndex int, viewport *Viewport) ([]models.Layer, error) {
	w, h := viewport.dimensions()

	for range casAttempts {
		canvas, err := s.loadCanvas(ctx, canvasId)
		if err != nil {
			return nil, err
		}
		if err := s.requireWritable(canvas, user); err != nil {
			return nil, err
		}
		if pageIndex < 0 || pageIndex >= canvas.TotalPages {
			return nil, apperror.ValidationFailed("pageIndex", "page does not exist")
		}

		now := s.now()
		reflowed := layout.Reflow(canvas.Layers, pageIndex, w, h)
		for i := range reflowed {
			if reflowed[i].PageIndex != pageIndex {
				continue
			}
			// in-flight updates based on the old geometry must lose their CAS
			reflowed[i].Version++
			reflowed[i].UpdatedAt = now
		}

		err = withRetry(ctx, "replace layers", func() error {
			return s.Store.ReplaceLayers(ctx, canvasId, reflowed, canvas.LayersVersion)
		})
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, mapStoreError(err, "canvas", canvasId)
		}

		canvas.Layers = reflowed
		page := canvas.LayersOnPage(pageIndex)
		s.publish(canvasId, EventLayersReplaced, LayersReplacedData{PageIndex: pageIndex, Layers: page})
		return page, nil
	}
	return nil, apperror.Conflict("canvas", canvasId)
}

// checkPageRoom rejects a page that does not exist or is already at capacity.
func checkPageRoom(canvas models.Canvas, pageIndex int) error {
	if pageIndex < 0 || pageIndex >= canvas.TotalPages {
		return apperror.ValidationFailed("pageIndex", "page does not exist")
	}
	if len(canvas.LayersOnPage(pageIndex)) >= canvas.LayerCapacity() {
		return apperror.CapacityExceeded(pageIndex, canvas.LayerCapacity())
	}
	return nil
}

func layerStoreError(err error, canvasId, layerId string) error {
	switch {
	case errors.Is(err, store.ErrCanvasNotFound):
		return apperror.NotFound("canvas", canvasId)
	case errors.Is(err, store.ErrLayerNotFound):
		return apperror.NotFound("layer", layerId)
	}
	return mapStoreError(err, "layer", layerId)
}
