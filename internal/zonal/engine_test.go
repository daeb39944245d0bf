package zonal

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/port/raster"
)

type fakeMetricStore struct {
	rows    map[int64]*metric.StandMetric // by stand ID, single layer in tests
	upserts int
}

func newFakeMetricStore() *fakeMetricStore {
	return &fakeMetricStore{rows: make(map[int64]*metric.StandMetric)}
}

func (f *fakeMetricStore) MetricsFor(ctx context.Context, layerID int64, standIDs []int64) ([]*metric.StandMetric, error) {
	var out []*metric.StandMetric
	for _, id := range standIDs {
		if m, ok := f.rows[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMetricStore) UpsertMetrics(ctx context.Context, rows []*metric.StandMetric, aggs []metric.Aggregation) error {
	f.upserts++
	for _, m := range rows {
		cp := *m
		f.rows[m.StandID] = &cp
	}
	return nil
}

// fakeCatalogue serves one in-memory grid, counting opens and recording the
// bounds of the last window read.
type fakeCatalogue struct {
	grid       *raster.Grid
	opens      int
	lastBounds *geom.Bounds
}

func (f *fakeCatalogue) Open(ctx context.Context, layer *datalayer.DataLayer) (raster.Dataset, error) {
	if layer.Type != datalayer.TypeRaster {
		return nil, domain.ErrInvalidInput
	}
	f.opens++
	return &fakeDataset{grid: f.grid, cat: f}, nil
}

func (f *fakeCatalogue) Probe(ctx context.Context, path string, band int) (*datalayer.Info, error) {
	return &datalayer.Info{}, nil
}

type fakeDataset struct {
	grid *raster.Grid
	cat  *fakeCatalogue
}

func (d *fakeDataset) ReadBounds(ctx context.Context, b *geom.Bounds) (*raster.Grid, error) {
	if d.cat != nil {
		d.cat.lastBounds = b
	}
	return d.grid, nil
}

func (d *fakeDataset) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: d.grid.OriginX, Y: d.grid.OriginY + float64(d.grid.Rows())*d.grid.Dy},
		Max: geom.Point{X: d.grid.OriginX + float64(d.grid.Cols())*d.grid.Dx, Y: d.grid.OriginY},
	}
}

func (d *fakeDataset) NoData() float64 { return d.grid.NoData }

func (d *fakeDataset) Close() error { return nil }

// gridFrom builds a north-up window with 1m pixels, top-left at (0, rows).
func gridFrom(rows [][]float64, nodata float64) *raster.Grid {
	nr, nc := len(rows), len(rows[0])
	g := &raster.Grid{
		Data:    sparse.ZerosDense(nr, nc),
		OriginX: 0,
		OriginY: float64(nr),
		Dx:      1,
		Dy:      -1,
		NoData:  nodata,
	}
	for r, row := range rows {
		for c, v := range row {
			g.Data.Set(v, r, c)
		}
	}
	return g
}

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
	}}
}

func rasterLayer(id int64) *datalayer.DataLayer {
	return &datalayer.DataLayer{ID: id, Name: "test", Type: datalayer.TypeRaster, URL: "/data/test.tif"}
}

func fv(m *metric.StandMetric, a metric.Aggregation, t *testing.T) float64 {
	t.Helper()
	v := m.Value(a)
	if v == nil {
		t.Fatalf("stand %d %s is null", m.StandID, a)
	}
	return *v
}

func TestComputeRowStrips(t *testing.T) {
	// 4x4 grid counting 1..16 from the top-left; one stand per row strip.
	grid := gridFrom([][]float64{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
	}, math.NaN())
	cat := &fakeCatalogue{grid: grid}
	eng := NewEngine(newFakeMetricStore(), cat, nil)

	stands := []*stand.Stand{
		{ID: 1, Geometry: rect(0, 3, 4, 4)},
		{ID: 2, Geometry: rect(0, 2, 4, 3)},
		{ID: 3, Geometry: rect(0, 1, 4, 2)},
		{ID: 4, Geometry: rect(0, 0, 4, 1)},
	}
	got, err := eng.Compute(context.Background(), rasterLayer(7), stands,
		[]metric.Aggregation{metric.AggSum, metric.AggAvg, metric.AggMin, metric.AggMax})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d rows, want 4", len(got))
	}

	wantSums := []float64{10, 26, 42, 58}
	for i, m := range got {
		if m.StandID != int64(i+1) {
			t.Fatalf("row %d stand %d, want %d", i, m.StandID, i+1)
		}
		if got := fv(m, metric.AggCount, t); got != 4 {
			t.Errorf("stand %d count = %v, want 4", m.StandID, got)
		}
		if got := fv(m, metric.AggSum, t); got != wantSums[i] {
			t.Errorf("stand %d sum = %v, want %v", m.StandID, got, wantSums[i])
		}
		if got := fv(m, metric.AggAvg, t); got != wantSums[i]/4 {
			t.Errorf("stand %d avg = %v, want %v", m.StandID, got, wantSums[i]/4)
		}
	}
	if got := fv(got[0], metric.AggMin, t); got != 1 {
		t.Errorf("stand 1 min = %v, want 1", got)
	}
	if got := fv(got[3], metric.AggMax, t); got != 16 {
		t.Errorf("stand 4 max = %v, want 16", got)
	}
}

func TestComputeServesCoveredRowsWithoutOpening(t *testing.T) {
	store := newFakeMetricStore()
	count, sum := 4.0, 10.0
	store.rows[1] = &metric.StandMetric{StandID: 1, DataLayerID: 7, Count: &count, Sum: &sum}

	cat := &fakeCatalogue{grid: gridFrom([][]float64{{1}}, math.NaN())}
	eng := NewEngine(store, cat, nil)

	stands := []*stand.Stand{{ID: 1, Geometry: rect(0, 0, 1, 1)}}
	got, err := eng.Compute(context.Background(), rasterLayer(7), stands,
		[]metric.Aggregation{metric.AggSum})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if cat.opens != 0 {
		t.Errorf("raster opened %d times for a fully cached request", cat.opens)
	}
	if store.upserts != 0 {
		t.Errorf("cache written %d times for a fully cached request", store.upserts)
	}
	if got := fv(got[0], metric.AggSum, t); got != 10 {
		t.Errorf("sum = %v, want cached 10", got)
	}
}

func TestComputeWindowCoversOnlyMissingStands(t *testing.T) {
	// Stands 1..10 tile one pixel row; 1..3 are cached, so the window read
	// must cover the remaining seven geometries only.
	store := newFakeMetricStore()
	for id := int64(1); id <= 3; id++ {
		count, sum := 1.0, float64(id)
		store.rows[id] = &metric.StandMetric{StandID: id, DataLayerID: 7, Count: &count, Sum: &sum}
	}

	grid := gridFrom([][]float64{{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}, math.NaN())
	cat := &fakeCatalogue{grid: grid}
	eng := NewEngine(store, cat, nil)

	stands := make([]*stand.Stand, 0, 10)
	for i := 0; i < 10; i++ {
		x := float64(i)
		stands = append(stands, &stand.Stand{ID: int64(i + 1), Geometry: rect(x, 0, x+1, 1)})
	}
	got, err := eng.Compute(context.Background(), rasterLayer(7), stands,
		[]metric.Aggregation{metric.AggSum})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	b := cat.lastBounds
	if b == nil {
		t.Fatal("raster never read despite seven uncached stands")
	}
	if b.Min.X != 3 || b.Max.X != 10 {
		t.Errorf("window x range = [%v, %v], want [3, 10] excluding the cached stands", b.Min.X, b.Max.X)
	}
	if b.Min.Y != 0 || b.Max.Y != 1 {
		t.Errorf("window y range = [%v, %v], want [0, 1]", b.Min.Y, b.Max.Y)
	}

	if got := fv(got[0], metric.AggSum, t); got != 1 {
		t.Errorf("cached stand 1 sum = %v, want 1", got)
	}
	if got := fv(got[3], metric.AggSum, t); got != 4 {
		t.Errorf("stand 4 sum = %v, want 4", got)
	}
}

func TestComputeMergesNewColumnsIntoPartialRow(t *testing.T) {
	// Row cached with avg only; a request for sum must recompute but keep avg.
	store := newFakeMetricStore()
	count, avg := 4.0, 2.5
	store.rows[1] = &metric.StandMetric{StandID: 1, DataLayerID: 7, Count: &count, Avg: &avg}

	grid := gridFrom([][]float64{
		{1, 2},
		{3, 4},
	}, math.NaN())
	cat := &fakeCatalogue{grid: grid}
	eng := NewEngine(store, cat, nil)

	stands := []*stand.Stand{{ID: 1, Geometry: rect(0, 0, 2, 2)}}
	got, err := eng.Compute(context.Background(), rasterLayer(7), stands,
		[]metric.Aggregation{metric.AggSum})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if cat.opens != 1 {
		t.Fatalf("raster opened %d times, want 1", cat.opens)
	}
	if got := fv(got[0], metric.AggSum, t); got != 10 {
		t.Errorf("sum = %v, want 10", got)
	}
	if got := fv(got[0], metric.AggAvg, t); got != 2.5 {
		t.Errorf("avg = %v, want preserved 2.5", got)
	}
}

func TestComputeNoDataAndZeroCoverage(t *testing.T) {
	// Left stand has two valid pixels, right stand is fully masked.
	nan := math.NaN()
	grid := gridFrom([][]float64{
		{3, nan},
		{5, nan},
	}, nan)
	cat := &fakeCatalogue{grid: grid}
	store := newFakeMetricStore()
	eng := NewEngine(store, cat, nil)

	stands := []*stand.Stand{
		{ID: 1, Geometry: rect(0, 0, 1, 2)},
		{ID: 2, Geometry: rect(1, 0, 2, 2)},
	}
	got, err := eng.Compute(context.Background(), rasterLayer(7), stands,
		[]metric.Aggregation{metric.AggSum, metric.AggMin})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := fv(got[0], metric.AggSum, t); got != 8 {
		t.Errorf("stand 1 sum = %v, want 8", got)
	}
	if got := fv(got[1], metric.AggCount, t); got != 0 {
		t.Errorf("stand 2 count = %v, want 0", got)
	}
	if got[1].Sum != nil || got[1].Min != nil {
		t.Error("stand 2 statistics should be null with zero coverage")
	}
	// The zero-coverage row must now cover any future request.
	if !got[1].Covers([]metric.Aggregation{metric.AggMajority}) {
		t.Error("zero-coverage row should cover all aggregations")
	}
}

func TestComputeRejectsVectorLayer(t *testing.T) {
	eng := NewEngine(newFakeMetricStore(), &fakeCatalogue{}, nil)
	layer := &datalayer.DataLayer{ID: 1, Name: "roads", Type: datalayer.TypeVector, URL: "/data/roads.fgb"}
	_, err := eng.Compute(context.Background(), layer,
		[]*stand.Stand{{ID: 1, Geometry: rect(0, 0, 1, 1)}},
		[]metric.Aggregation{metric.AggAvg})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestComputeRejectsUnknownAggregation(t *testing.T) {
	eng := NewEngine(newFakeMetricStore(), &fakeCatalogue{}, nil)
	_, err := eng.Compute(context.Background(), rasterLayer(1),
		[]*stand.Stand{{ID: 1, Geometry: rect(0, 0, 1, 1)}},
		[]metric.Aggregation{"median"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestMajorityMinorityTieBreak(t *testing.T) {
	acc := newAccumulator()
	for _, v := range []float64{2, 2, 1, 1, 3} {
		acc.add(v)
	}
	if got := acc.majority(); got != 1 {
		t.Errorf("majority = %v, want 1 (tie breaks to smallest)", got)
	}
	if got := acc.minority(); got != 3 {
		t.Errorf("minority = %v, want 3", got)
	}

	acc2 := newAccumulator()
	for _, v := range []float64{4, 4, 2, 2} {
		acc2.add(v)
	}
	if got := acc2.majority(); got != 2 {
		t.Errorf("majority = %v, want 2 on full tie", got)
	}
	if got := acc2.minority(); got != 2 {
		t.Errorf("minority = %v, want 2 on full tie", got)
	}
}

func TestComputeIdempotent(t *testing.T) {
	grid := gridFrom([][]float64{{1, 2}}, math.NaN())
	cat := &fakeCatalogue{grid: grid}
	store := newFakeMetricStore()
	eng := NewEngine(store, cat, nil)

	stands := []*stand.Stand{{ID: 1, Geometry: rect(0, 0, 2, 1)}}
	aggs := []metric.Aggregation{metric.AggSum}
	for i := 0; i < 2; i++ {
		if _, err := eng.Compute(context.Background(), rasterLayer(7), stands, aggs); err != nil {
			t.Fatalf("Compute #%d: %v", i+1, err)
		}
	}
	if cat.opens != 1 {
		t.Errorf("raster opened %d times, want 1 (second call fully cached)", cat.opens)
	}
	if store.upserts != 1 {
		t.Errorf("cache written %d times, want 1", store.upserts)
	}
}
