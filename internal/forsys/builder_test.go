package forsys

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/goal"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/planningarea"
	"github.com/silvaplan/silvaplan/internal/domain/scenario"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/port/raster"
	"github.com/silvaplan/silvaplan/internal/standindex"
	"github.com/silvaplan/silvaplan/internal/zonal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeBuilderStore struct {
	area   *planningarea.PlanningArea
	goal   *goal.TreatmentGoal
	layers map[int64]*datalayer.DataLayer
	saved  json.RawMessage
}

func (f *fakeBuilderStore) PlanningArea(ctx context.Context, id int64) (*planningarea.PlanningArea, error) {
	if f.area == nil || f.area.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.area, nil
}

func (f *fakeBuilderStore) TreatmentGoal(ctx context.Context, id int64) (*goal.TreatmentGoal, error) {
	if f.goal == nil || f.goal.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.goal, nil
}

func (f *fakeBuilderStore) DataLayer(ctx context.Context, id int64) (*datalayer.DataLayer, error) {
	dl, ok := f.layers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return dl, nil
}

func (f *fakeBuilderStore) SetForsysInput(ctx context.Context, id int64, input json.RawMessage) error {
	f.saved = input
	return nil
}

type fakeStandStore struct {
	stands []*stand.Stand
}

func (f *fakeStandStore) CreateStands(ctx context.Context, stands []*stand.Stand) error {
	return nil
}

func (f *fakeStandStore) StandsBySize(ctx context.Context, size stand.Size) ([]*stand.Stand, error) {
	var out []*stand.Stand
	for _, s := range f.stands {
		if s.Size == size {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStandStore) StandsByID(ctx context.Context, ids []int64) ([]*stand.Stand, error) {
	return nil, nil
}

type fakeMetricStore struct {
	rows map[int64]*metric.StandMetric
}

func (f *fakeMetricStore) MetricsFor(ctx context.Context, layerID int64, standIDs []int64) ([]*metric.StandMetric, error) {
	var out []*metric.StandMetric
	for _, id := range standIDs {
		if m, ok := f.rows[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMetricStore) UpsertMetrics(ctx context.Context, rows []*metric.StandMetric, aggs []metric.Aggregation) error {
	for _, m := range rows {
		f.rows[m.StandID] = m
	}
	return nil
}

type fakeCatalogue struct {
	grid *raster.Grid
}

func (f *fakeCatalogue) Open(ctx context.Context, layer *datalayer.DataLayer) (raster.Dataset, error) {
	return &fakeDataset{grid: f.grid}, nil
}

func (f *fakeCatalogue) Probe(ctx context.Context, path string, band int) (*datalayer.Info, error) {
	return &datalayer.Info{}, nil
}

type fakeDataset struct {
	grid *raster.Grid
}

func (d *fakeDataset) ReadBounds(ctx context.Context, b *geom.Bounds) (*raster.Grid, error) {
	return d.grid, nil
}

func (d *fakeDataset) Bounds() *geom.Bounds { return &geom.Bounds{} }

func (d *fakeDataset) NoData() float64 { return d.grid.NoData }

func (d *fakeDataset) Close() error { return nil }

func onePixelGrid(v float64) *raster.Grid {
	g := &raster.Grid{
		Data:    sparse.ZerosDense(1, 1),
		OriginX: 0, OriginY: 1, Dx: 1000, Dy: -1000,
		NoData: math.NaN(),
	}
	g.Data.Set(v, 0, 0)
	return g
}

func square(x, y, side float64) geom.Polygon {
	return geom.Polygon{{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}}
}

func testScenario(maxArea float64) *scenario.Scenario {
	return &scenario.Scenario{
		ID:              11,
		PlanningAreaID:  5,
		TreatmentGoalID: 9,
		Name:            "rx-fire-east",
		Configuration: scenario.Configuration{
			Version:   1,
			StandSize: stand.SizeSmall,
			Targets:   scenario.Targets{MaxArea: maxArea, MaxProjectCount: 3},
			Seed:      42,
		},
	}
}

func newTestBuilder(store *fakeBuilderStore, stands []*stand.Stand) *Builder {
	index := standindex.New(&fakeStandStore{stands: stands}, nil)
	engine := zonal.NewEngine(
		&fakeMetricStore{rows: make(map[int64]*metric.StandMetric)},
		&fakeCatalogue{grid: onePixelGrid(7)},
		nil)
	return NewBuilder(store, index, engine, discardLogger())
}

func TestBuildRecord(t *testing.T) {
	gt := float64(0)
	store := &fakeBuilderStore{
		area: &planningarea.PlanningArea{
			ID:       5,
			Geometry: geom.MultiPolygon{square(-10, -10, 1000)},
		},
		goal: &goal.TreatmentGoal{
			ID: 9,
			Uses: []goal.DataLayerUsage{
				{GoalID: 9, DataLayerID: 1, UsageType: goal.UsagePriority},
				{GoalID: 9, DataLayerID: 2, UsageType: goal.UsageThreshold,
					Threshold: &goal.Threshold{Operator: goal.OpGT, Value: gt}},
			},
		},
		layers: map[int64]*datalayer.DataLayer{
			1: {ID: 1, Name: "fire-risk", Type: datalayer.TypeRaster, URL: "/d/fire.tif"},
			2: {ID: 2, Name: "slope", Type: datalayer.TypeRaster, URL: "/d/slope.tif",
				Modules: datalayer.Modules{Forsys: &datalayer.ForsysTags{MetricColumn: metric.AggMax}}},
		},
	}
	stands := []*stand.Stand{
		{ID: 2, Size: stand.SizeSmall, Geometry: square(0, 0, 10)},
		{ID: 1, Size: stand.SizeSmall, Geometry: square(20, 0, 10)},
	}

	b := newTestBuilder(store, stands)
	sc := testScenario(500000)
	rec, gotStands, err := b.Build(context.Background(), sc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(gotStands) != 2 {
		t.Fatalf("got %d stands, want 2", len(gotStands))
	}
	if rec.StandIDs[0] != 1 || rec.StandIDs[1] != 2 {
		t.Errorf("stand ids = %v, want ascending [1 2]", rec.StandIDs)
	}

	if len(rec.DataLayers) != 2 {
		t.Fatalf("got %d layer descriptors, want 2", len(rec.DataLayers))
	}
	if rec.DataLayers[0].Metric != metric.AggAvg {
		t.Errorf("priority layer metric = %s, want default avg", rec.DataLayers[0].Metric)
	}
	if rec.DataLayers[1].Metric != metric.AggMax {
		t.Errorf("threshold layer metric = %s, want tagged max", rec.DataLayers[1].Metric)
	}
	if rec.DataLayers[1].Threshold != "value > 0" {
		t.Errorf("threshold = %q, want %q", rec.DataLayers[1].Threshold, "value > 0")
	}

	v := rec.Variables
	if v.NumberOfProjects != 3 || v.MaxAreaProject != 500000 || v.Seed != 42 {
		t.Errorf("variables = %+v", v)
	}
	if want := 500000.0 / 8; v.MinAreaProject != want {
		t.Errorf("min_area_project = %v, want %v", v.MinAreaProject, want)
	}

	if store.saved == nil {
		t.Fatal("input record not persisted on the scenario")
	}
	var roundtrip InputRecord
	if err := json.Unmarshal(store.saved, &roundtrip); err != nil {
		t.Fatalf("persisted record does not decode: %v", err)
	}
}

func TestBuildMinAreaFloorsAtStandArea(t *testing.T) {
	store := &fakeBuilderStore{
		area: &planningarea.PlanningArea{ID: 5, Geometry: geom.MultiPolygon{square(-10, -10, 1000)}},
		goal: &goal.TreatmentGoal{ID: 9},
	}
	stands := []*stand.Stand{{ID: 1, Size: stand.SizeSmall, Geometry: square(0, 0, 10)}}
	b := newTestBuilder(store, stands)

	// max_area/8 is far below one small stand, so the stand area wins.
	sc := testScenario(1000)
	rec, _, err := b.Build(context.Background(), sc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := stand.SizeSmall.Area(); rec.Variables.MinAreaProject != want {
		t.Errorf("min_area_project = %v, want stand area %v", rec.Variables.MinAreaProject, want)
	}
}

func TestBuildEmptyPlanningArea(t *testing.T) {
	store := &fakeBuilderStore{
		area: &planningarea.PlanningArea{ID: 5, Geometry: geom.MultiPolygon{square(5000, 5000, 1)}},
		goal: &goal.TreatmentGoal{ID: 9},
	}
	b := newTestBuilder(store, []*stand.Stand{
		{ID: 1, Size: stand.SizeSmall, Geometry: square(0, 0, 10)},
	})
	rec, stands, err := b.Build(context.Background(), testScenario(500000))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(stands) != 0 || len(rec.StandIDs) != 0 {
		t.Errorf("empty planning area yielded stands %v", rec.StandIDs)
	}
	if store.saved == nil {
		t.Error("empty input record not persisted on the scenario")
	}
}

func TestBuildRejectsBadConfiguration(t *testing.T) {
	b := newTestBuilder(&fakeBuilderStore{}, nil)
	sc := testScenario(500000)
	sc.Configuration.Constraints = []scenario.Constraint{
		{DataLayerID: 1, Operator: "between", Value: 3},
	}
	_, _, err := b.Build(context.Background(), sc)
	if !errors.Is(err, domain.ErrBadConfiguration) {
		t.Errorf("err = %v, want ErrBadConfiguration", err)
	}
}
