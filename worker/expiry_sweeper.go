package worker

import (
	"context"
	"log"
	"time"

	"github.com/zlnvch/fluxcanvas/store"
)

// ExpirySweeper keeps the stored isExpired flag in line with expiresAt. Discovery
// filters on the flag, so a canvas leaves the listings within one interval of expiring.
type ExpirySweeper struct {
	canvasStore store.CanvasStore
	interval    time.Duration
	now         func() time.Time
}

func NewExpirySweeper(canvasStore store.CanvasStore, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		canvasStore: canvasStore,
		interval:    interval,
		now:         time.Now,
	}
}

func (s *ExpirySweeper) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(shutdownCtx)
	for {
		select {
		case <-ticker.C:
			s.Sweep(shutdownCtx)
		case <-shutdownCtx.Done():
			return
		}
	}
}

// Sweep marks every canvas past its expiry and returns how many it marked.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	ids, err := s.canvasStore.ListExpiryCandidates(ctx, s.now().UTC())
	if err != nil {
		log.Printf("Failed to list expiry candidates: %v", err)
		return 0
	}

	marked := 0
	for _, id := range ids {
		if err := s.canvasStore.MarkExpired(ctx, id); err != nil {
			if ctx.Err() != nil {
				return marked
			}
			log.Printf("Failed to mark canvas %s expired: %v", id, err)
			continue
		}
		marked++
	}
	if marked > 0 {
		log.Printf("Marked %d canvases expired", marked)
	}
	return marked
}
