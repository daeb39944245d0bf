// Package raster defines the catalogue port: read-only access to
// georeferenced grids backing datalayers.
package raster

import (
	"context"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"

	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
)

// Catalogue opens datasets for datalayers and probes files at registration
// time. Implementations classify failures as transient or permanent via
// domain.IOError.
type Catalogue interface {
	// Open returns a dataset handle for the layer's raster source.
	Open(ctx context.Context, layer *datalayer.DataLayer) (Dataset, error)
	// Probe reads structural metadata from a raster path without keeping
	// a handle open. Used when registering a datalayer.
	Probe(ctx context.Context, path string, band int) (*datalayer.Info, error)
}

// Dataset is an open raster handle. Implementations are not safe for
// concurrent use; callers hold one per goroutine.
type Dataset interface {
	// ReadBounds reads the pixel window covering b. Pixels outside the
	// raster extent are filled with the nodata value, so the returned grid
	// always covers b entirely.
	ReadBounds(ctx context.Context, b *geom.Bounds) (*Grid, error)
	// Bounds returns the dataset extent in the internal CRS.
	Bounds() *geom.Bounds
	// NoData returns the sentinel used for missing pixels.
	NoData() float64
	Close() error
}

// Grid is a window of raster pixels in the internal CRS. Data is indexed
// [row][col] with row 0 at OriginY; Dy is negative for north-up rasters.
type Grid struct {
	Data    *sparse.DenseArray
	OriginX float64
	OriginY float64
	Dx      float64
	Dy      float64
	NoData  float64
}

// Rows returns the number of pixel rows in the window.
func (g *Grid) Rows() int { return g.Data.Shape[0] }

// Cols returns the number of pixel columns in the window.
func (g *Grid) Cols() int { return g.Data.Shape[1] }

// CellCenter returns the center coordinate of pixel (row, col).
func (g *Grid) CellCenter(row, col int) geom.Point {
	return geom.Point{
		X: g.OriginX + (float64(col)+0.5)*g.Dx,
		Y: g.OriginY + (float64(row)+0.5)*g.Dy,
	}
}

// Value returns the pixel value at (row, col) and whether it is valid data.
// NaN pixels are always masked, whatever the layer's nodata sentinel: NaN
// never compares equal to anything, and no aggregate is defined over it.
func (g *Grid) Value(row, col int) (float64, bool) {
	v := g.Data.Get(row, col)
	if math.IsNaN(v) {
		return 0, false
	}
	if !math.IsNaN(g.NoData) && v == g.NoData {
		return 0, false
	}
	return v, true
}
