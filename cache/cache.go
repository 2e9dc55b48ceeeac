package cache

import (
	"context"
	"time"
)

// CanvasCache holds presence records and fans out canvas deltas over pub/sub.
// Presence entries are scored by last activity; readers pass the cutoff below
// which an entry no longer counts as active.
type CanvasCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	SetPresence(ctx context.Context, canvasId string, userId string, lastActive time.Time, data []byte) error
	RemovePresence(ctx context.Context, canvasId string, userId string) error
	GetPresence(ctx context.Context, canvasId string, activeAfter time.Time) ([][]byte, error)
	ActiveCounts(ctx context.Context, canvasIds []string, activeAfter time.Time) (map[string]int64, error)
	ClearPresence(ctx context.Context, canvasId string) error
}
