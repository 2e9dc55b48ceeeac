// Package layout positions layers on a canvas page. Everything here is pure and
// deterministic: the same inputs always produce the same positions.
package layout

import "github.com/zlnvch/fluxcanvas/models"

// Default viewport used when a client does not report its canvas size.
const (
	DefaultCanvasWidth  = 335
	DefaultCanvasHeight = 595
)

type rect struct {
	x, y, w, h float64
}

func layerRect(l models.Layer) rect {
	return rect{x: l.Position.X, y: l.Position.Y, w: l.Size.Width, h: l.Size.Height}
}

func (r rect) inflate(by float64) rect {
	return rect{x: r.x - by, y: r.y - by, w: r.w + 2*by, h: r.h + 2*by}
}

func (r rect) intersects(o rect) bool {
	return r.x < o.x+o.w && o.x < r.x+r.w && r.y < o.y+o.h && o.y < r.y+r.h
}

func onPage(layers []models.Layer, pageIndex int) []models.Layer {
	result := make([]models.Layer, 0, len(layers))
	for _, l := range layers {
		if l.PageIndex == pageIndex {
			result = append(result, l)
		}
	}
	return result
}
