package impacts

import (
	"context"
	"sort"

	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/treatment"
)

// Triple is one (variable, action, year) cell of the calculation matrix,
// resolved to its baseline and action rasters.
type Triple struct {
	Variable    string               `json:"variable"`
	Action      treatment.Action     `json:"action"`
	Year        int                  `json:"year"`
	Baseline    *datalayer.DataLayer `json:"baseline"`
	ActionLayer *datalayer.DataLayer `json:"action_layer"`
	Aggregation metric.Aggregation   `json:"aggregation"`
}

type layerKey struct {
	variable string
	year     int
	action   string
}

// Matrix enumerates the calculation matrix for a plan: every triple for
// which a prescription with that action exists and the catalogue holds both
// the baseline and the action raster for (variable, year).
func (e *Engine) Matrix(ctx context.Context, planID int64) ([]Triple, error) {
	prescriptions, err := e.store.Prescriptions(ctx, planID)
	if err != nil {
		return nil, err
	}
	actions := make(map[string]treatment.Action)
	for _, p := range prescriptions {
		actions[p.Action.Normalize()] = p.Action
	}

	layers, err := e.store.ImpactsLayers(ctx, datalayer.ImpactsFilter{})
	if err != nil {
		return nil, err
	}
	baselines := make(map[layerKey]*datalayer.DataLayer)
	actionLayers := make(map[layerKey]*datalayer.DataLayer)
	for _, dl := range layers {
		tags := dl.Modules.Impacts
		if tags.Baseline {
			baselines[layerKey{tags.Variable, tags.Year, ""}] = dl
		} else {
			actionLayers[layerKey{tags.Variable, tags.Year, datalayer.NormalizeAction(tags.Action)}] = dl
		}
	}

	var triples []Triple
	for key, al := range actionLayers {
		action, inPlan := actions[key.action]
		if !inPlan {
			continue
		}
		bl, ok := baselines[layerKey{key.variable, key.year, ""}]
		if !ok {
			continue
		}
		agg := al.Modules.Impacts.Aggregation
		if agg == "" {
			agg = treatment.AggregationFor(key.variable)
		}
		triples = append(triples, Triple{
			Variable:    key.variable,
			Action:      action,
			Year:        key.year,
			Baseline:    bl,
			ActionLayer: al,
			Aggregation: agg,
		})
	}

	sort.Slice(triples, func(i, j int) bool {
		a, b := triples[i], triples[j]
		if a.Variable != b.Variable {
			return a.Variable < b.Variable
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Action < b.Action
	})
	return triples, nil
}
