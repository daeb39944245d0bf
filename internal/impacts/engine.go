// Package impacts computes per-stand and per-project-area treatment effects
// over the calculation matrix of a treatment plan.
package impacts

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/projectarea"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/domain/treatment"
	"github.com/silvaplan/silvaplan/internal/zonal"
)

// Store is the slice of the persistence surface the impact engine needs.
type Store interface {
	StandsByID(ctx context.Context, ids []int64) ([]*stand.Stand, error)
	ImpactsLayers(ctx context.Context, f datalayer.ImpactsFilter) ([]*datalayer.DataLayer, error)
	TreatmentPlan(ctx context.Context, id int64) (*treatment.TreatmentPlan, error)
	Prescriptions(ctx context.Context, planID int64) ([]*treatment.Prescription, error)
	ProjectAreas(ctx context.Context, scenarioID int64) ([]*projectarea.ProjectArea, error)
	UpsertTreatmentResults(ctx context.Context, rows []*treatment.TreatmentResult) error
	CountTreatmentResults(ctx context.Context, planID int64) (int, error)
	UpsertProjectAreaResults(ctx context.Context, rows []*treatment.ProjectAreaResult) error
}

// Engine computes impact results. All raster access goes through the zonal
// engine, so repeated runs hit the StandMetric cache instead of the rasters.
type Engine struct {
	store  Store
	zonal  *zonal.Engine
	logger *slog.Logger
}

// NewEngine creates an impact engine.
func NewEngine(store Store, z *zonal.Engine, logger *slog.Logger) *Engine {
	return &Engine{store: store, zonal: z, logger: logger}
}

// Run computes the full calculation matrix for a plan. Re-running over a
// complete result set performs no writes.
func (e *Engine) Run(ctx context.Context, planID int64) error {
	triples, err := e.Matrix(ctx, planID)
	if err != nil {
		return err
	}
	if len(triples) == 0 {
		e.logger.Warn("empty calculation matrix", "plan", planID)
		return nil
	}

	prescriptions, err := e.store.Prescriptions(ctx, planID)
	if err != nil {
		return err
	}
	expected := 0
	for _, tr := range triples {
		for _, p := range prescriptions {
			if p.Action == tr.Action {
				expected++
			}
		}
	}
	existing, err := e.store.CountTreatmentResults(ctx, planID)
	if err != nil {
		return err
	}
	if existing == expected {
		e.logger.Info("impact matrix already complete", "plan", planID, "results", existing)
		return nil
	}

	for _, tr := range triples {
		if err := e.RunTriple(ctx, planID, tr); err != nil {
			return fmt.Errorf("triple (%s, %s, %d): %w", tr.Variable, tr.Action, tr.Year, err)
		}
	}
	return nil
}

// RunTriple computes one matrix cell: per-prescription treatment results and
// per-project-area rollups, direct and indirect.
func (e *Engine) RunTriple(ctx context.Context, planID int64, tr Triple) error {
	plan, err := e.store.TreatmentPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status.Terminal() {
		// A finished plan is immutable; re-runs go through an explicit reset.
		return nil
	}

	prescriptions, err := e.store.Prescriptions(ctx, planID)
	if err != nil {
		return err
	}
	var treated []*treatment.Prescription
	treatedSet := make(map[int64]bool)
	for _, p := range prescriptions {
		if p.Action == tr.Action {
			treated = append(treated, p)
			treatedSet[p.StandID] = true
		}
	}
	if len(treated) == 0 {
		return nil
	}

	standIDs := make([]int64, len(treated))
	for i, p := range treated {
		standIDs[i] = p.StandID
	}
	stands, err := e.store.StandsByID(ctx, standIDs)
	if err != nil {
		return err
	}

	aggs := []metric.Aggregation{tr.Aggregation}
	baselineRows, err := e.zonal.Compute(ctx, tr.Baseline, stands, aggs)
	if err != nil {
		return fmt.Errorf("baseline %q: %w", tr.Baseline.Name, err)
	}
	actionRows, err := e.zonal.Compute(ctx, tr.ActionLayer, stands, aggs)
	if err != nil {
		return fmt.Errorf("action layer %q: %w", tr.ActionLayer.Name, err)
	}
	baseline := indexRows(baselineRows)
	action := indexRows(actionRows)

	results := make([]*treatment.TreatmentResult, 0, len(treated))
	for _, p := range treated {
		results = append(results, &treatment.TreatmentResult{
			TreatmentPlanID: planID,
			PrescriptionID:  p.ID,
			Variable:        tr.Variable,
			Aggregation:     tr.Aggregation,
			Year:            tr.Year,
			Value:           rowValue(action[p.StandID], tr.Aggregation),
			Baseline:        rowValue(baseline[p.StandID], tr.Aggregation),
		})
	}
	if err := e.store.UpsertTreatmentResults(ctx, results); err != nil {
		return err
	}

	return e.rollup(ctx, plan, tr, treated, treatedSet, baseline, action)
}

// rollup aggregates the triple's results per project area: DIRECT rows over
// treated stands and INDIRECT rows over the area's untreated remainder,
// whose value is the baseline (no treatment effect).
func (e *Engine) rollup(ctx context.Context, plan *treatment.TreatmentPlan, tr Triple,
	treated []*treatment.Prescription, treatedSet map[int64]bool,
	baseline, action map[int64]*metric.StandMetric) error {

	areas, err := e.store.ProjectAreas(ctx, plan.ScenarioID)
	if err != nil {
		return err
	}
	byArea := make(map[int64][]*treatment.Prescription)
	for _, p := range treated {
		byArea[p.ProjectAreaID] = append(byArea[p.ProjectAreaID], p)
	}

	var rows []*treatment.ProjectAreaResult
	for _, pa := range areas {
		group := byArea[pa.ID]
		if len(group) == 0 {
			continue
		}

		directIDs := make([]int64, len(group))
		for i, p := range group {
			directIDs[i] = p.StandID
		}
		value := combine(directIDs, action, tr.Aggregation)
		base := combine(directIDs, baseline, tr.Aggregation)
		rows = append(rows, &treatment.ProjectAreaResult{
			TreatmentPlanID: plan.ID,
			ProjectAreaID:   pa.ID,
			Variable:        tr.Variable,
			Aggregation:     tr.Aggregation,
			Year:            tr.Year,
			Action:          tr.Action,
			Value:           value,
			Baseline:        base,
			StandCount:      len(directIDs),
			Type:            treatment.ResultDirect,
		})

		var indirectIDs []int64
		for _, id := range pa.StandIDs {
			if !treatedSet[id] {
				indirectIDs = append(indirectIDs, id)
			}
		}
		if len(indirectIDs) == 0 {
			continue
		}
		stands, err := e.store.StandsByID(ctx, indirectIDs)
		if err != nil {
			return err
		}
		indirectRows, err := e.zonal.Compute(ctx, tr.Baseline, stands,
			[]metric.Aggregation{tr.Aggregation})
		if err != nil {
			return fmt.Errorf("indirect baseline %q: %w", tr.Baseline.Name, err)
		}
		indirectBase := combine(indirectIDs, indexRows(indirectRows), tr.Aggregation)
		rows = append(rows, &treatment.ProjectAreaResult{
			TreatmentPlanID: plan.ID,
			ProjectAreaID:   pa.ID,
			Variable:        tr.Variable,
			Aggregation:     tr.Aggregation,
			Year:            tr.Year,
			Action:          tr.Action,
			Value:           indirectBase,
			Baseline:        indirectBase,
			StandCount:      len(indirectIDs),
			Type:            treatment.ResultIndirect,
		})
	}
	return e.store.UpsertProjectAreaResults(ctx, rows)
}

func indexRows(rows []*metric.StandMetric) map[int64]*metric.StandMetric {
	m := make(map[int64]*metric.StandMetric, len(rows))
	for _, r := range rows {
		m[r.StandID] = r
	}
	return m
}

func rowValue(m *metric.StandMetric, agg metric.Aggregation) *float64 {
	if m == nil {
		return nil
	}
	return m.Value(agg)
}

// combine rolls stand values up to a project area: plain sum for SUM,
// count-weighted mean for AVG. Stands with null values (zero coverage) drop
// out; an all-null group yields a null rollup.
func combine(ids []int64, rows map[int64]*metric.StandMetric, agg metric.Aggregation) *float64 {
	var values, weights []float64
	for _, id := range ids {
		m := rows[id]
		if m == nil {
			continue
		}
		v := m.Value(agg)
		if v == nil {
			continue
		}
		values = append(values, *v)
		w := 1.0
		if m.Count != nil && *m.Count > 0 {
			w = *m.Count
		}
		weights = append(weights, w)
	}
	if len(values) == 0 {
		return nil
	}
	var out float64
	switch agg {
	case metric.AggSum, metric.AggCount:
		out = floats.Sum(values)
	default:
		out = stat.Mean(values, weights)
	}
	return &out
}
