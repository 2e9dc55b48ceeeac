package layout

import (
	"math"

	"github.com/zlnvch/fluxcanvas/models"
)

const (
	edgeInset        = 20
	overlapTolerance = 10

	fallbackOrigin = 30
	fallbackStep   = 20
	fallbackMargin = 60
)

// Candidates returns the fixed anchor list tried by Place, in order: the four
// corners, the four edge midpoints, then four interior quadrant points.
func Candidates(canvasW, canvasH, w, h float64) []models.Position {
	right := canvasW - w - edgeInset
	bottom := canvasH - h - edgeInset
	centerX := (canvasW - w) / 2
	centerY := (canvasH - h) / 2

	return []models.Position{
		{X: edgeInset, Y: edgeInset},
		{X: right, Y: edgeInset},
		{X: edgeInset, Y: bottom},
		{X: right, Y: bottom},

		{X: centerX, Y: edgeInset},
		{X: centerX, Y: bottom},
		{X: edgeInset, Y: centerY},
		{X: right, Y: centerY},

		{X: 0.15 * canvasW, Y: 0.25 * canvasH},
		{X: 0.62 * canvasW, Y: 0.25 * canvasH},
		{X: 0.15 * canvasW, Y: 0.58 * canvasH},
		{X: 0.62 * canvasW, Y: 0.58 * canvasH},
	}
}

// Place picks a position for a new w×h layer on pageIndex. It returns the first
// candidate whose box, inflated by the overlap tolerance, clears every inflated
// same-page layer. When all candidates are taken it falls back to a staggered
// position derived from the same-page layer count; that position may overlap.
func Place(existing []models.Layer, pageIndex int, canvasW, canvasH, w, h float64) models.Position {
	page := onPage(existing, pageIndex)

	occupied := make([]rect, len(page))
	for i, l := range page {
		occupied[i] = layerRect(l).inflate(overlapTolerance)
	}

	for _, c := range Candidates(canvasW, canvasH, w, h) {
		box := rect{x: c.X, y: c.Y, w: w, h: h}.inflate(overlapTolerance)
		free := true
		for _, o := range occupied {
			if box.intersects(o) {
				free = false
				break
			}
		}
		if free {
			return c
		}
	}

	return fallbackPosition(len(page), canvasW, canvasH, w, h)
}

func fallbackPosition(layerCount int, canvasW, canvasH, w, h float64) models.Position {
	offset := float64(layerCount * fallbackStep)
	return models.Position{
		X: fallbackOrigin + wrap(offset, canvasW-w-fallbackMargin),
		Y: fallbackOrigin + wrap(offset, canvasH-h-fallbackMargin),
	}
}

// wrap is offset mod span; a layer too large to leave any span stays at the origin.
func wrap(offset, span float64) float64 {
	if span <= 0 {
		return 0
	}
	return math.Mod(offset, span)
}
