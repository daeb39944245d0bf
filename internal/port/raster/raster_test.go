package raster

import (
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

func rowGrid(nodata float64, values ...float64) *Grid {
	g := &Grid{
		Data:    sparse.ZerosDense(1, len(values)),
		OriginX: 0, OriginY: 1, Dx: 1, Dy: -1,
		NoData: nodata,
	}
	for i, v := range values {
		g.Data.Set(v, 0, i)
	}
	return g
}

func TestValueMasksNumericNoData(t *testing.T) {
	g := rowGrid(-9999, 4, -9999, math.NaN(), 0)

	if v, ok := g.Value(0, 0); !ok || v != 4 {
		t.Errorf("Value(0,0) = %v, %v; want 4, true", v, ok)
	}
	if _, ok := g.Value(0, 1); ok {
		t.Error("nodata pixel not masked")
	}
	if _, ok := g.Value(0, 2); ok {
		t.Error("nan pixel not masked under numeric nodata")
	}
	if v, ok := g.Value(0, 3); !ok || v != 0 {
		t.Errorf("Value(0,3) = %v, %v; zero is valid data", v, ok)
	}
}

func TestValueMasksNaNNoData(t *testing.T) {
	g := rowGrid(math.NaN(), 7, math.NaN())

	if v, ok := g.Value(0, 0); !ok || v != 7 {
		t.Errorf("Value(0,0) = %v, %v; want 7, true", v, ok)
	}
	if _, ok := g.Value(0, 1); ok {
		t.Error("nan nodata pixel not masked")
	}
}

func TestCellCenter(t *testing.T) {
	g := rowGrid(math.NaN(), 1, 2)

	if got := g.CellCenter(0, 0); got.X != 0.5 || got.Y != 0.5 {
		t.Errorf("CellCenter(0,0) = %+v, want (0.5, 0.5)", got)
	}
	if got := g.CellCenter(0, 1); got.X != 1.5 || got.Y != 0.5 {
		t.Errorf("CellCenter(0,1) = %+v, want (1.5, 0.5)", got)
	}
}
