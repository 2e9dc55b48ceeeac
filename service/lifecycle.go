package service

import (
	"time"

	"github.com/zlnvch/fluxcanvas/models"
)

// CanvasLifetime is how long a canvas stays editable and discoverable after creation.
const CanvasLifetime = 24 * time.Hour

// IsPastExpiry is the computed expiry signal used by direct access. Discovery
// uses the stored isExpired flag, which the expiry sweeper derives from expiresAt.
func IsPastExpiry(canvas models.Canvas, now time.Time) bool {
	return now.After(canvas.ExpiresAt)
}
