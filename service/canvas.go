package service

import (
	"cmp"
	"context"
	"errors"
	"log"
	"slices"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/blob"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/mq"
	"github.com/zlnvch/fluxcanvas/store"
	"github.com/zlnvch/fluxcanvas/worker"
)

const (
	defaultDiscoverLimit = 50
	maxDiscoverLimit     = 100
)

// CanvasAccess is the result of opening a canvas. Canvas is set only when the
// gate is open; Lock is set only when it is locked.
type CanvasAccess struct {
	State   AccessState    `json:"state"`
	Canvas  *models.Canvas `json:"canvas,omitempty"`
	Lock    *LockInfo      `json:"lock,omitempty"`
	Expired bool           `json:"expired"`
}

func (s *Service) CreateCanvas(ctx context.Context, user models.User, settings models.CanvasSettings) (models.Canvas, error) {
	settings, err := ValidateCanvasSettings(settings)
	if err != nil {
		return models.Canvas{}, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return models.Canvas{}, err
	}

	now := s.now()
	canvas := models.Canvas{
		Id:               id.String(),
		CreatorId:        user.Id,
		CreatorUsername:  user.Username,
		AccessType:       settings.AccessType,
		AllowedUsers:     []string{},
		PendingRequests:  []string{},
		Layers:           []models.Layer{},
		TotalPages:       settings.TotalPages,
		MaxCollaborators: settings.MaxCollaborators,
		CreatedAt:        now,
		ExpiresAt:        now.Add(CanvasLifetime),
		IsExpired:        false,
		LikedBy:          []string{},
	}

	if canvas.AccessType != models.AccessPublic {
		code, err := generateInviteCode()
		if err != nil {
			return models.Canvas{}, err
		}
		canvas.InviteCode = code
	}

	err = withRetry(ctx, "create canvas", func() error {
		return s.Store.CreateCanvas(ctx, canvas)
	})
	if err != nil {
		return models.Canvas{}, mapStoreError(err, "canvas", canvas.Id)
	}

	return canvas, nil
}

// OpenCanvas evaluates the access gate for user and returns either the full
// canvas or the lock screen details. An open canvas counts as a view.
func (s *Service) OpenCanvas(ctx context.Context, user models.User, canvasId string) (CanvasAccess, error) {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return CanvasAccess{}, err
	}

	access := CanvasAccess{
		State:   AccessDecision(canvas, user.Id),
		Expired: IsPastExpiry(canvas, s.now()),
	}
	if access.State == AccessLocked {
		access.Lock = lockInfo(canvas, user.Id)
		return access, nil
	}

	visible := visibleCanvas(canvas, user.Id)
	access.Canvas = &visible
	s.RecordView(canvasId)
	return access, nil
}

// Snapshot returns the canvas for a subscriber that already passed the gate.
func (s *Service) Snapshot(ctx context.Context, user models.User, canvasId string) (models.Canvas, error) {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return models.Canvas{}, err
	}
	if AccessDecision(canvas, user.Id) == AccessLocked {
		return models.Canvas{}, apperror.PermissionDenied("canvas is locked")
	}
	return visibleCanvas(canvas, user.Id), nil
}

// Only the creator sees the invite code.
func visibleCanvas(canvas models.Canvas, userId string) models.Canvas {
	if canvas.CreatorId != userId {
		canvas.InviteCode = ""
	}
	return canvas
}

// DeleteCanvas removes the canvas metadata at once; its layers and presence are
// cleaned up asynchronously by the cleanup consumer.
func (s *Service) DeleteCanvas(ctx context.Context, user models.User, canvasId string) error {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return err
	}
	if canvas.CreatorId != user.Id {
		return apperror.PermissionDenied("only the creator can delete a canvas")
	}

	err = withRetry(ctx, "delete canvas", func() error {
		return s.Store.DeleteCanvas(ctx, canvasId, user.Id)
	})
	if errors.Is(err, store.ErrConditionFailed) {
		return apperror.PermissionDenied("only the creator can delete a canvas")
	}
	if err != nil {
		return mapStoreError(err, "canvas", canvasId)
	}

	s.publish(canvasId, EventCanvasDeleted, nil)
	s.publishCanvasDeleted(canvasId)

	if s.CleanupQueue != nil {
		if err := mq.SendJSON(ctx, s.CleanupQueue, worker.DeleteCanvasMessage{CanvasId: canvasId}); err != nil {
			log.Printf("Failed to queue cleanup for canvas %s: %v", canvasId, err)
		}
	}
	return nil
}

// ToggleLike sets whether user likes the canvas. Setting the current state again is a no-op.
func (s *Service) ToggleLike(ctx context.Context, user models.User, canvasId string, liked bool) error {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return err
	}
	if AccessDecision(canvas, user.Id) == AccessLocked {
		return apperror.PermissionDenied("canvas is locked")
	}
	if canvas.IsLikedBy(user.Id) == liked {
		return nil
	}

	err = withRetry(ctx, "set like", func() error {
		return s.Store.SetLike(ctx, canvasId, user.Id, liked)
	})
	if errors.Is(err, store.ErrConditionFailed) {
		// another request from the same user already got there
		return nil
	}
	if err != nil {
		return mapStoreError(err, "canvas", canvasId)
	}

	s.publishCanvasUpdated(ctx, canvasId)
	return nil
}

// RecordView counts one view. Views are batched and written asynchronously.
func (s *Service) RecordView(canvasId string) {
	if s.ViewBatcher == nil {
		return
	}
	s.ViewBatcher.Record(canvasId)
}

// Discover lists public, unexpired canvases in the requested order. Layers are omitted.
func (s *Service) Discover(ctx context.Context, sortBy models.DiscoverySort, limit int) ([]models.Canvas, error) {
	if sortBy == "" {
		sortBy = SortDefault
	}
	if !sortBy.Valid() {
		return nil, apperror.ValidationFailed("sort", "invalid sort order")
	}
	if limit <= 0 {
		limit = defaultDiscoverLimit
	}
	limit = min(limit, maxDiscoverLimit)

	var canvases []models.Canvas
	err := withRetry(ctx, "list discoverable", func() error {
		var err error
		canvases, err = s.Store.ListDiscoverable(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	listed := make([]models.Canvas, 0, len(canvases))
	for _, c := range canvases {
		if c.AccessType != models.AccessPublic || c.IsExpired {
			continue
		}
		c.Layers = []models.Layer{}
		c.InviteCode = ""
		listed = append(listed, c)
	}

	slices.SortStableFunc(listed, discoveryOrder(sortBy))
	if len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

const SortDefault = models.SortNewest

func discoveryOrder(sortBy models.DiscoverySort) func(a, b models.Canvas) int {
	var primary func(a, b models.Canvas) int
	switch sortBy {
	case models.SortMostLiked:
		primary = func(a, b models.Canvas) int { return cmp.Compare(b.LikeCount, a.LikeCount) }
	case models.SortMostViewed:
		primary = func(a, b models.Canvas) int { return cmp.Compare(b.ViewCount, a.ViewCount) }
	case models.SortExpiringSoon:
		primary = func(a, b models.Canvas) int { return a.ExpiresAt.Compare(b.ExpiresAt) }
	default:
		primary = func(a, b models.Canvas) int { return b.CreatedAt.Compare(a.CreatedAt) }
	}
	return func(a, b models.Canvas) int {
		if c := primary(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	}
}

// AddPage appends an empty page and returns the new page count.
func (s *Service) AddPage(ctx context.Context, user models.User, canvasId string) (int, error) {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return 0, err
	}
	if err := s.requireWritable(canvas, user); err != nil {
		return 0, err
	}
	if canvas.TotalPages >= maxPages {
		return 0, apperror.ValidationFailed("totalPages", "canvas already has the maximum number of pages")
	}

	var totalPages int
	err = withRetry(ctx, "add page", func() error {
		var err error
		totalPages, err = s.Store.AddPage(ctx, canvasId)
		return err
	})
	if err != nil {
		return 0, mapStoreError(err, "canvas", canvasId)
	}

	s.publishCanvasUpdated(ctx, canvasId)
	return totalPages, nil
}

// SetExportedImage uploads a rendered image of the canvas and records its URL.
func (s *Service) SetExportedImage(ctx context.Context, user models.User, canvasId string, data []byte, contentType string) (string, error) {
	canvas, err := s.loadCanvas(ctx, canvasId)
	if err != nil {
		return "", err
	}
	if err := s.requireWritable(canvas, user); err != nil {
		return "", err
	}

	imageUrl, err := s.upload(ctx, data, contentType)
	if err != nil {
		return "", err
	}

	err = withRetry(ctx, "set exported image", func() error {
		return s.Store.SetExportedImageURL(ctx, canvasId, imageUrl)
	})
	if err != nil {
		return "", mapStoreError(err, "canvas", canvasId)
	}

	s.publishCanvasUpdated(ctx, canvasId)
	return imageUrl, nil
}

func (s *Service) upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", apperror.ValidationFailed("image", "image is empty")
	}
	if _, ok := blob.Extension(contentType); !ok {
		return "", apperror.ValidationFailed("image", "unsupported image type")
	}

	var imageUrl string
	err := withRetry(ctx, "upload image", func() error {
		var err error
		imageUrl, err = s.Blobs.Upload(ctx, data, contentType)
		return err
	})
	if errors.Is(err, blob.ErrUnsupportedType) {
		return "", apperror.ValidationFailed("image", "unsupported image type")
	}
	return imageUrl, err
}

func (s *Service) loadCanvas(ctx context.Context, canvasId string) (models.Canvas, error) {
	var canvas models.Canvas
	err := withRetry(ctx, "get canvas", func() error {
		var err error
		canvas, err = s.Store.GetCanvas(ctx, canvasId)
		return err
	})
	if err != nil {
		return models.Canvas{}, mapStoreError(err, "canvas", canvasId)
	}
	return canvas, nil
}

// requireWritable rejects mutations from locked users and on expired canvases.
func (s *Service) requireWritable(canvas models.Canvas, user models.User) error {
	if AccessDecision(canvas, user.Id) == AccessLocked {
		return apperror.PermissionDenied("canvas is locked")
	}
	if IsPastExpiry(canvas, s.now()) {
		return apperror.Expired(canvas.Id)
	}
	return nil
}

func (s *Service) publishCanvasUpdated(ctx context.Context, canvasId string) {
	canvas, err := s.Store.GetCanvas(ctx, canvasId)
	if err != nil {
		log.Printf("Failed to reload canvas %s for update event: %v", canvasId, err)
		return
	}
	s.publish(canvasId, EventCanvasUpdated, canvasUpdatedData(canvas))
}
