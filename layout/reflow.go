package layout

import (
	"math"

	"github.com/zlnvch/fluxcanvas/models"
)

const (
	reflowColumns = 3
	reflowMargin  = 20
)

// Reflow lays the layers of pageIndex out on a 3-column grid, each centered in
// its cell, in their existing array order. Layers on other pages are returned
// unchanged and the overall order is preserved.
func Reflow(layers []models.Layer, pageIndex int, canvasW, canvasH float64) []models.Layer {
	result := make([]models.Layer, len(layers))
	copy(result, layers)

	count := 0
	for _, l := range layers {
		if l.PageIndex == pageIndex {
			count++
		}
	}
	if count == 0 {
		return result
	}

	rows := int(math.Ceil(float64(count) / reflowColumns))
	cellW := (canvasW - 2*reflowMargin) / reflowColumns
	cellH := (canvasH - 2*reflowMargin) / float64(rows)

	index := 0
	for i, l := range result {
		if l.PageIndex != pageIndex {
			continue
		}
		col := index % reflowColumns
		row := index / reflowColumns
		result[i].Position = models.Position{
			X: reflowMargin + float64(col)*cellW + (cellW-l.Size.Width)/2,
			Y: reflowMargin + float64(row)*cellH + (cellH-l.Size.Height)/2,
		}
		index++
	}

	return result
}
