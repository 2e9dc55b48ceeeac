package service

import (
	"time"

	"github.com/zlnvch/fluxcanvas/blob"
	"github.com/zlnvch/fluxcanvas/cache"
	"github.com/zlnvch/fluxcanvas/mq"
	"github.com/zlnvch/fluxcanvas/notify"
	"github.com/zlnvch/fluxcanvas/store"
	"github.com/zlnvch/fluxcanvas/worker"
)

type Service struct {
	Store        store.CanvasStore
	Cache        cache.CanvasCache
	CleanupQueue mq.MessageQueue
	Notifier     notify.Sink
	Blobs        blob.Store
	ViewBatcher  *worker.ViewBatcher
	JWTSecret    []byte

	// Now is the clock used for expiry, presence and timestamps. Tests replace it.
	Now func() time.Time
}

func NewService(
	store store.CanvasStore,
	cache cache.CanvasCache,
	cleanupQueue mq.MessageQueue,
	notifier notify.Sink,
	blobs blob.Store,
	viewBatcher *worker.ViewBatcher,
	jwtSecret []byte,
) *Service {
	return &Service{
		Store:        store,
		Cache:        cache,
		CleanupQueue: cleanupQueue,
		Notifier:     notifier,
		Blobs:        blobs,
		ViewBatcher:  viewBatcher,
		JWTSecret:    jwtSecret,
		Now:          time.Now,
	}
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}
