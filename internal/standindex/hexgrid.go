package standindex

import (
	"math"

	"github.com/ctessum/geom"

	"github.com/silvaplan/silvaplan/internal/domain/stand"
)

// Flat-top hexagons. For circumradius s the cell area is 3*sqrt(3)/2 * s^2,
// the column pitch is 1.5*s and the row pitch is sqrt(3)*s, with odd columns
// shifted down half a row.

// SideLength returns the hex circumradius that yields the nominal cell area
// of the given size.
func SideLength(size stand.Size) float64 {
	return math.Sqrt(2 * size.Area() / (3 * math.Sqrt(3)))
}

// Hexagon builds the flat-top hex cell centered at (cx, cy).
func Hexagon(cx, cy, s float64) geom.Polygon {
	ring := make([]geom.Point, 6)
	for i := 0; i < 6; i++ {
		a := float64(i) * math.Pi / 3
		ring[i] = geom.Point{X: cx + s*math.Cos(a), Y: cy + s*math.Sin(a)}
	}
	return geom.Polygon{ring}
}

// Grid tiles b with hex stands of the given size. Cells are emitted column
// by column, bottom to top, so repeated runs over the same bounds produce
// the same cells in the same order.
func Grid(b *geom.Bounds, size stand.Size) []*stand.Stand {
	s := SideLength(size)
	colPitch := 1.5 * s
	rowPitch := math.Sqrt(3) * s

	ncols := int(math.Ceil((b.Max.X-b.Min.X)/colPitch)) + 1
	nrows := int(math.Ceil((b.Max.Y-b.Min.Y)/rowPitch)) + 1

	stands := make([]*stand.Stand, 0, ncols*nrows)
	for col := 0; col < ncols; col++ {
		cx := b.Min.X + float64(col)*colPitch
		offset := 0.0
		if col%2 == 1 {
			offset = rowPitch / 2
		}
		for row := 0; row < nrows; row++ {
			cy := b.Min.Y + float64(row)*rowPitch + offset
			hex := Hexagon(cx, cy, s)
			stands = append(stands, &stand.Stand{
				Size:     size,
				Geometry: hex,
				AreaM2:   hex.Area(),
			})
		}
	}
	return stands
}
