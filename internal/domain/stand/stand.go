// Package stand defines the Stand domain entity: a fixed-size hexagonal cell
// that is the unit of spatial aggregation.
package stand

import (
	"fmt"
	"time"

	"github.com/ctessum/geom"
)

// Size selects one of the three static hex grids.
type Size string

const (
	SizeSmall  Size = "SMALL"
	SizeMedium Size = "MEDIUM"
	SizeLarge  Size = "LARGE"
)

const acreM2 = 4046.8564224

// Area returns the nominal cell area in square meters for the size.
func (s Size) Area() float64 {
	switch s {
	case SizeSmall:
		return 10 * acreM2
	case SizeMedium:
		return 100 * acreM2
	case SizeLarge:
		return 500 * acreM2
	}
	return 0
}

// Valid reports whether s is a known stand size.
func (s Size) Valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// ParseSize converts a string to a Size.
func ParseSize(s string) (Size, error) {
	size := Size(s)
	if !size.Valid() {
		return "", fmt.Errorf("unknown stand size %q", s)
	}
	return size, nil
}

// Stand is one immutable hex cell. Stands of the same size tile the working
// area without overlap; (size, geometry) is unique.
type Stand struct {
	ID        int64        `json:"id"`
	Size      Size         `json:"size"`
	Geometry  geom.Polygon `json:"geometry"`
	AreaM2    float64      `json:"area_m2"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Centroid returns the representative interior point of the stand. Hex cells
// are convex, so the centroid always lies inside the polygon.
func (s *Stand) Centroid() geom.Point {
	return s.Geometry.Centroid()
}
