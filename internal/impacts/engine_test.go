package impacts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"

	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/projectarea"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/domain/treatment"
	"github.com/silvaplan/silvaplan/internal/port/raster"
	"github.com/silvaplan/silvaplan/internal/zonal"
)

type fakeStore struct {
	stands        []*stand.Stand
	layers        []*datalayer.DataLayer
	plan          *treatment.TreatmentPlan
	prescriptions []*treatment.Prescription
	areas         []*projectarea.ProjectArea

	results     map[int64][]*treatment.TreatmentResult // keyed by prescription
	areaResults []*treatment.ProjectAreaResult
	writes      int
}

func (f *fakeStore) StandsByID(ctx context.Context, ids []int64) ([]*stand.Stand, error) {
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

func (f *fakeStore) ImpactsLayers(ctx context.Context, filter datalayer.ImpactsFilter) ([]*datalayer.DataLayer, error) {
	var out []*datalayer.DataLayer
	for _, dl := range f.layers {
		if filter.Matches(dl) {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (f *fakeStore) TreatmentPlan(ctx context.Context, id int64) (*treatment.TreatmentPlan, error) {
	return f.plan, nil
}

func (f *fakeStore) Prescriptions(ctx context.Context, planID int64) ([]*treatment.Prescription, error) {
	return f.prescriptions, nil
}

func (f *fakeStore) ProjectAreas(ctx context.Context, scenarioID int64) ([]*projectarea.ProjectArea, error) {
	return f.areas, nil
}

func (f *fakeStore) UpsertTreatmentResults(ctx context.Context, rows []*treatment.TreatmentResult) error {
	if f.results == nil {
		f.results = make(map[int64][]*treatment.TreatmentResult)
	}
	f.writes++
	for _, r := range rows {
		f.results[r.PrescriptionID] = append(f.results[r.PrescriptionID], r)
	}
	return nil
}

func (f *fakeStore) CountTreatmentResults(ctx context.Context, planID int64) (int, error) {
	n := 0
	for _, rs := range f.results {
		n += len(rs)
	}
	return n, nil
}

func (f *fakeStore) UpsertProjectAreaResults(ctx context.Context, rows []*treatment.ProjectAreaResult) error {
	f.writes++
	f.areaResults = append(f.areaResults, rows...)
	return nil
}

type fakeMetricStore struct {
	rows map[string]*metric.StandMetric // "layer:stand"
}

func metricKey(layerID, standID int64) string {
	return fmt.Sprintf("%d:%d", layerID, standID)
}

func (f *fakeMetricStore) MetricsFor(ctx context.Context, layerID int64, standIDs []int64) ([]*metric.StandMetric, error) {
	var out []*metric.StandMetric
	for _, id := range standIDs {
		if m, ok := f.rows[metricKey(layerID, id)]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMetricStore) UpsertMetrics(ctx context.Context, rows []*metric.StandMetric, aggs []metric.Aggregation) error {
	for _, m := range rows {
		f.rows[metricKey(m.DataLayerID, m.StandID)] = m
	}
	return nil
}

// fakeCatalogue serves a distinct one-row grid per layer ID.
type fakeCatalogue struct {
	grids map[int64]*raster.Grid
}

func (f *fakeCatalogue) Open(ctx context.Context, layer *datalayer.DataLayer) (raster.Dataset, error) {
	return &fakeDataset{grid: f.grids[layer.ID]}, nil
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

func rowGrid(values ...float64) *raster.Grid {
	g := &raster.Grid{
		Data:    sparse.ZerosDense(1, len(values)),
		OriginX: 0, OriginY: 1, Dx: 1, Dy: -1,
		NoData: math.NaN(),
	}
	for c, v := range values {
		g.Data.Set(v, 0, c)
	}
	return g
}

func cell(x float64) geom.Polygon {
	return geom.Polygon{{
		{X: x, Y: 0}, {X: x + 1, Y: 0}, {X: x + 1, Y: 1}, {X: x, Y: 1},
	}}
}

const (
	baselineLayerID = 10
	actionLayerID   = 11
)

func newFixture() (*fakeStore, *Engine) {
	store := &fakeStore{
		stands: []*stand.Stand{
			{ID: 1, Size: stand.SizeSmall, Geometry: cell(0)},
			{ID: 2, Size: stand.SizeSmall, Geometry: cell(1)},
			{ID: 3, Size: stand.SizeSmall, Geometry: cell(2)},
		},
		layers: []*datalayer.DataLayer{
			{ID: baselineLayerID, Name: "carbon-2030-baseline", Type: datalayer.TypeRaster,
				URL: "/d/base.tif", Modules: datalayer.Modules{Impacts: &datalayer.ImpactsTags{
					Baseline: true, Variable: "TOTAL_CARBON", Year: 2030}}},
			{ID: actionLayerID, Name: "carbon-2030-rx-fire", Type: datalayer.TypeRaster,
				URL: "/d/rx.tif", Modules: datalayer.Modules{Impacts: &datalayer.ImpactsTags{
					Variable: "TOTAL_CARBON", Year: 2030, Action: "rx_fire"}}},
		},
		plan: &treatment.TreatmentPlan{ID: 1, ScenarioID: 7, Status: treatment.PlanRunning},
		prescriptions: []*treatment.Prescription{
			{ID: 101, TreatmentPlanID: 1, ProjectAreaID: 50, StandID: 1, Action: treatment.ActionRxFire},
			{ID: 102, TreatmentPlanID: 1, ProjectAreaID: 50, StandID: 2, Action: treatment.ActionRxFire},
		},
		areas: []*projectarea.ProjectArea{
			{ID: 50, ScenarioID: 7, Name: "Project 1", StandIDs: []int64{1, 2, 3}},
		},
	}

	z := zonal.NewEngine(
		&fakeMetricStore{rows: make(map[string]*metric.StandMetric)},
		&fakeCatalogue{grids: map[int64]*raster.Grid{
			baselineLayerID: rowGrid(10, 20, 30),
			actionLayerID:   rowGrid(5, 8, 99),
		}},
		nil)
	return store, NewEngine(store, z, slog.New(slog.DiscardHandler))
}

func TestMatrixEnumeration(t *testing.T) {
	store, eng := newFixture()
	// A layer pair for an action nobody prescribed must not enter the matrix.
	store.layers = append(store.layers,
		&datalayer.DataLayer{ID: 12, Name: "carbon-2030-thin", Type: datalayer.TypeRaster,
			URL: "/d/thin.tif", Modules: datalayer.Modules{Impacts: &datalayer.ImpactsTags{
				Variable: "TOTAL_CARBON", Year: 2030, Action: "moderate_thinning_biomass"}}})

	triples, err := eng.Matrix(context.Background(), 1)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if len(triples) != 1 {
		t.Fatalf("got %d triples, want 1", len(triples))
	}
	tr := triples[0]
	if tr.Variable != "TOTAL_CARBON" || tr.Year != 2030 || tr.Action != treatment.ActionRxFire {
		t.Errorf("triple = %+v", tr)
	}
	if tr.Aggregation != metric.AggSum {
		t.Errorf("aggregation = %s, want sum for a stock variable", tr.Aggregation)
	}
}

func TestMatrixRequiresBaseline(t *testing.T) {
	store, eng := newFixture()
	store.layers = store.layers[1:] // drop the baseline layer

	triples, err := eng.Matrix(context.Background(), 1)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if len(triples) != 0 {
		t.Errorf("got %d triples without a baseline, want 0", len(triples))
	}
}

func TestRunComputesResultsAndRollups(t *testing.T) {
	store, eng := newFixture()
	if err := eng.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	check := func(prescriptionID int64, wantValue, wantBaseline float64) {
		t.Helper()
		rs := store.results[prescriptionID]
		if len(rs) != 1 {
			t.Fatalf("prescription %d has %d results, want 1", prescriptionID, len(rs))
		}
		r := rs[0]
		if r.Value == nil || *r.Value != wantValue {
			t.Errorf("prescription %d value = %v, want %v", prescriptionID, r.Value, wantValue)
		}
		if r.Baseline == nil || *r.Baseline != wantBaseline {
			t.Errorf("prescription %d baseline = %v, want %v", prescriptionID, r.Baseline, wantBaseline)
		}
	}
	check(101, 5, 10)
	check(102, 8, 20)

	if len(store.areaResults) != 2 {
		t.Fatalf("got %d area results, want direct + indirect", len(store.areaResults))
	}
	direct, indirect := store.areaResults[0], store.areaResults[1]
	if direct.Type != treatment.ResultDirect {
		direct, indirect = indirect, direct
	}
	if *direct.Value != 13 || *direct.Baseline != 30 || direct.StandCount != 2 {
		t.Errorf("direct rollup = %+v", direct)
	}
	// The untreated stand keeps its baseline as the value.
	if *indirect.Value != 30 || *indirect.Baseline != 30 || indirect.StandCount != 1 {
		t.Errorf("indirect rollup = %+v", indirect)
	}
}

func TestRunIdempotent(t *testing.T) {
	store, eng := newFixture()
	if err := eng.Run(context.Background(), 1); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	writes := store.writes

	if err := eng.Run(context.Background(), 1); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if store.writes != writes {
		t.Errorf("second run performed %d extra writes", store.writes-writes)
	}
}

func TestRunTripleSkipsTerminalPlan(t *testing.T) {
	store, eng := newFixture()
	store.plan.Status = treatment.PlanSuccess

	triples, err := eng.Matrix(context.Background(), 1)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if err := eng.RunTriple(context.Background(), 1, triples[0]); err != nil {
		t.Fatalf("RunTriple: %v", err)
	}
	if store.writes != 0 {
		t.Errorf("terminal plan saw %d writes, want 0", store.writes)
	}
}
