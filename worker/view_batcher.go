package worker

import (
	"context"
	"log"
	"time"

	"github.com/zlnvch/fluxcanvas/store"
)

type ViewUpdate struct {
	CanvasId string
	Delta    int
}

// ViewBatcher folds view events into per-canvas deltas and writes them on a
// timer, so a popular canvas costs one counter update per flush.
type ViewBatcher struct {
	UpdateCh      chan ViewUpdate
	canvasStore   store.CanvasStore
	flushInterval time.Duration
}

func NewViewBatcher(canvasStore store.CanvasStore, flushInterval time.Duration) *ViewBatcher {
	return &ViewBatcher{
		UpdateCh:      make(chan ViewUpdate, 1024),
		canvasStore:   canvasStore,
		flushInterval: flushInterval,
	}
}

// Record queues one view. It never blocks: a full channel drops the view.
func (b *ViewBatcher) Record(canvasId string) bool {
	select {
	case b.UpdateCh <- ViewUpdate{CanvasId: canvasId, Delta: 1}:
		return true
	default:
		log.Printf("View batcher full, dropping view for canvas %s", canvasId)
		return false
	}
}

func (b *ViewBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	viewCounts := make(map[string]int)

	flush := func() {
		for canvasId, count := range viewCounts {
			if count == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.canvasStore.IncrementViewCount(ctx, canvasId, count); err != nil {
				log.Printf("Failed to update view count for canvas %s: %v", canvasId, err)
			}
			cancel()
		}
		viewCounts = make(map[string]int)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			if update.CanvasId != "" {
				viewCounts[update.CanvasId] += update.Delta
			}
			if len(viewCounts) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			// drain what is already queued
		drain:
			for {
				select {
				case update := <-b.UpdateCh:
					if update.CanvasId != "" {
						viewCounts[update.CanvasId] += update.Delta
					}
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}
