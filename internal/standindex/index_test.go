package standindex

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ctessum/geom"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
)

type fakeStandStore struct {
	stands []*stand.Stand
	calls  int
}

func (f *fakeStandStore) CreateStands(ctx context.Context, stands []*stand.Stand) error {
	f.stands = append(f.stands, stands...)
	return nil
}

func (f *fakeStandStore) StandsBySize(ctx context.Context, size stand.Size) ([]*stand.Stand, error) {
	f.calls++
	var out []*stand.Stand
	for _, s := range f.stands {
		if s.Size == size {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStandStore) StandsByID(ctx context.Context, ids []int64) ([]*stand.Stand, error) {
	var out []*stand.Stand
	for _, s := range f.stands {
		for _, id := range ids {
			if s.ID == id {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func square(x, y, side float64) geom.Polygon {
	return geom.Polygon{{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}}
}

func TestStandsWithin(t *testing.T) {
	// Four unit cells in a row, IDs deliberately unordered.
	store := &fakeStandStore{stands: []*stand.Stand{
		{ID: 4, Size: stand.SizeSmall, Geometry: square(0, 0, 1)},
		{ID: 1, Size: stand.SizeSmall, Geometry: square(1, 0, 1)},
		{ID: 3, Size: stand.SizeSmall, Geometry: square(2, 0, 1)},
		{ID: 2, Size: stand.SizeSmall, Geometry: square(3, 0, 1)},
	}}
	ix := New(store, nil)

	// Covers the centroids of the first three cells only.
	area := square(0, 0, 2.7)
	got, err := ix.StandsWithin(context.Background(), stand.SizeSmall, area)
	if err != nil {
		t.Fatalf("StandsWithin: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d stands, want 3", len(got))
	}
	for i, want := range []int64{1, 3, 4} {
		if got[i].ID != want {
			t.Errorf("stand[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}

func TestStandsWithinLoadsOnce(t *testing.T) {
	store := &fakeStandStore{stands: []*stand.Stand{
		{ID: 1, Size: stand.SizeSmall, Geometry: square(0, 0, 1)},
	}}
	ix := New(store, nil)

	area := square(-1, -1, 3)
	for i := 0; i < 3; i++ {
		if _, err := ix.StandsWithin(context.Background(), stand.SizeSmall, area); err != nil {
			t.Fatalf("StandsWithin: %v", err)
		}
	}
	if store.calls != 1 {
		t.Errorf("store queried %d times, want 1", store.calls)
	}
}

func TestStandsWithinRejectsNonPolygonal(t *testing.T) {
	ix := New(&fakeStandStore{}, nil)
	_, err := ix.StandsWithin(context.Background(), stand.SizeSmall, geom.Point{X: 1, Y: 1})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestGridAreaAndDeterminism(t *testing.T) {
	b := &geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 2000, Y: 2000}}

	a := Grid(b, stand.SizeSmall)
	if len(a) == 0 {
		t.Fatal("empty grid")
	}
	nominal := stand.SizeSmall.Area()
	for _, s := range a[:5] {
		if math.Abs(s.AreaM2-nominal)/nominal > 1e-9 {
			t.Errorf("cell area %.4f, want %.4f", s.AreaM2, nominal)
		}
	}

	c := Grid(b, stand.SizeSmall)
	if len(a) != len(c) {
		t.Fatalf("grid not deterministic: %d vs %d cells", len(a), len(c))
	}
	for i := range a {
		if a[i].Geometry.Centroid() != c[i].Geometry.Centroid() {
			t.Fatalf("cell %d differs between runs", i)
		}
	}
}

func TestGridCellsDoNotOverlap(t *testing.T) {
	b := &geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 1000, Y: 1000}}
	stands := Grid(b, stand.SizeSmall)

	// Centroid of one cell must not fall inside any other cell.
	for i, s := range stands {
		ct := s.Geometry.Centroid()
		for j, o := range stands {
			if i == j {
				continue
			}
			if ct.Within(o.Geometry) == geom.Inside {
				t.Fatalf("cell %d centroid inside cell %d", i, j)
			}
		}
	}
}
