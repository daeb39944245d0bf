// Package forsys builds optimizer input records, invokes the external
// optimizer and ingests its project areas.
package forsys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/goal"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/planningarea"
	"github.com/silvaplan/silvaplan/internal/domain/scenario"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/standindex"
	"github.com/silvaplan/silvaplan/internal/zonal"
)

// BuilderStore is the slice of the persistence surface the builder needs.
type BuilderStore interface {
	PlanningArea(ctx context.Context, id int64) (*planningarea.PlanningArea, error)
	TreatmentGoal(ctx context.Context, id int64) (*goal.TreatmentGoal, error)
	DataLayer(ctx context.Context, id int64) (*datalayer.DataLayer, error)
	SetForsysInput(ctx context.Context, id int64, input json.RawMessage) error
}

// InputRecord is the JSON document handed to the optimizer. Metric values
// themselves live in the stand_metrics table; the record carries the stand
// universe and the layer descriptors the optimizer should read.
type InputRecord struct {
	StandIDs   []int64           `json:"stand_ids"`
	DataLayers []LayerDescriptor `json:"datalayers"`
	Variables  Variables         `json:"variables"`
}

// LayerDescriptor describes one datalayer's role in the optimization.
type LayerDescriptor struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	UsageType goal.UsageType     `json:"usage_type"`
	Metric    metric.Aggregation `json:"metric"`
	Threshold string             `json:"threshold,omitempty"`
}

// Variables are the optimizer sizing knobs.
type Variables struct {
	NumberOfProjects int     `json:"number_of_projects"`
	MinAreaProject   float64 `json:"min_area_project"`
	MaxAreaProject   float64 `json:"max_area_project"`
	Seed             int64   `json:"seed"`
}

// Builder assembles optimizer input records and warms the metric cache so
// the optimizer reads fully populated rows.
type Builder struct {
	store  BuilderStore
	index  *standindex.Index
	engine *zonal.Engine
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(store BuilderStore, index *standindex.Index, engine *zonal.Engine, logger *slog.Logger) *Builder {
	return &Builder{store: store, index: index, engine: engine, logger: logger}
}

// Build converts a scenario into the optimizer input record, persists it on
// the scenario and returns it along with the resolved stands. The optimizer
// is not invoked here.
func (b *Builder) Build(ctx context.Context, sc *scenario.Scenario) (*InputRecord, []*stand.Stand, error) {
	cfg := &sc.Configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	pa, err := b.store.PlanningArea(ctx, sc.PlanningAreaID)
	if err != nil {
		return nil, nil, err
	}
	stands, err := b.index.StandsWithin(ctx, cfg.StandSize, pa.Geometry)
	if err != nil {
		return nil, nil, err
	}
	var descriptors []LayerDescriptor
	if len(stands) == 0 {
		// A planning area with no stand centroids is a valid empty run:
		// the record carries no stands and the optimizer is skipped.
		b.logger.Warn("planning area contains no stands",
			"scenario", sc.ID, "area", pa.ID, "size", cfg.StandSize)
	} else {
		descriptors, err = b.layerDescriptors(ctx, sc)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range descriptors {
			if err := b.warmMetrics(ctx, d, stands); err != nil {
				return nil, nil, err
			}
		}
	}

	standIDs := make([]int64, len(stands))
	for i, s := range stands {
		standIDs[i] = s.ID
	}
	unitArea := cfg.StandSize.Area()
	rec := &InputRecord{
		StandIDs:   standIDs,
		DataLayers: descriptors,
		Variables: Variables{
			NumberOfProjects: cfg.Targets.MaxProjectCount,
			MaxAreaProject:   cfg.Targets.MaxArea,
			MinAreaProject:   max(cfg.Targets.MaxArea/8, unitArea),
			Seed:             cfg.Seed,
		},
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal optimizer input: %w", err)
	}
	if err := b.store.SetForsysInput(ctx, sc.ID, raw); err != nil {
		return nil, nil, err
	}
	sc.ForsysInput = raw

	b.logger.Info("optimizer input built",
		"scenario", sc.ID, "stands", len(standIDs), "layers", len(descriptors))
	return rec, stands, nil
}

// layerDescriptors enumerates the goal's datalayer usages plus the
// configuration's constraint layers.
func (b *Builder) layerDescriptors(ctx context.Context, sc *scenario.Scenario) ([]LayerDescriptor, error) {
	tg, err := b.store.TreatmentGoal(ctx, sc.TreatmentGoalID)
	if err != nil {
		return nil, err
	}

	var descriptors []LayerDescriptor
	for _, use := range tg.Uses {
		layer, err := b.store.DataLayer(ctx, use.DataLayerID)
		if err != nil {
			return nil, err
		}
		d := LayerDescriptor{
			ID:        layer.ID,
			Name:      layer.Name,
			UsageType: use.UsageType,
			Metric:    layer.MetricColumn(),
		}
		if use.Threshold != nil {
			expr, err := use.Threshold.Render()
			if err != nil {
				return nil, fmt.Errorf("goal %d layer %d: %w", tg.ID, layer.ID, err)
			}
			d.Threshold = expr
		}
		descriptors = append(descriptors, d)
	}

	for i, con := range sc.Configuration.Constraints {
		layer, err := b.store.DataLayer(ctx, con.DataLayerID)
		if err != nil {
			return nil, err
		}
		t := goal.Threshold{Operator: con.Operator, Value: con.Value}
		expr, err := t.Render()
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		descriptors = append(descriptors, LayerDescriptor{
			ID:        layer.ID,
			Name:      layer.Name,
			UsageType: goal.UsageThreshold,
			Metric:    layer.MetricColumn(),
			Threshold: expr,
		})
	}
	return descriptors, nil
}

// warmMetrics makes sure every stand has a cached row for the descriptor's
// metric column. A layer with zero coverage over the whole stand set is
// logged and carried through with null metrics rather than failing the run.
func (b *Builder) warmMetrics(ctx context.Context, d LayerDescriptor, stands []*stand.Stand) error {
	layer, err := b.store.DataLayer(ctx, d.ID)
	if err != nil {
		return err
	}
	rows, err := b.engine.Compute(ctx, layer, stands, []metric.Aggregation{d.Metric})
	if err != nil {
		return fmt.Errorf("zonal stats for layer %q: %w", layer.Name, err)
	}
	covered := 0
	for _, m := range rows {
		if m.Count != nil && *m.Count > 0 {
			covered++
		}
	}
	if covered == 0 {
		b.logger.Warn("datalayer has no coverage over scenario stands",
			"layer", layer.Name, "stands", len(stands))
	}
	return nil
}
