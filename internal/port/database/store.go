// Package database defines the persistence port as narrow per-entity
// interfaces composed into a Store.
package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/goal"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/planningarea"
	"github.com/silvaplan/silvaplan/internal/domain/projectarea"
	"github.com/silvaplan/silvaplan/internal/domain/scenario"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/domain/treatment"
)

// StandStore persists the immutable stand grid.
type StandStore interface {
	CreateStands(ctx context.Context, stands []*stand.Stand) error
	StandsBySize(ctx context.Context, size stand.Size) ([]*stand.Stand, error)
	StandsByID(ctx context.Context, ids []int64) ([]*stand.Stand, error)
}

// DataLayerStore persists the raster catalogue entries.
type DataLayerStore interface {
	CreateDataLayer(ctx context.Context, dl *datalayer.DataLayer) error
	DataLayer(ctx context.Context, id int64) (*datalayer.DataLayer, error)
	DataLayersByID(ctx context.Context, ids []int64) ([]*datalayer.DataLayer, error)
	// ImpactsLayers returns the impact module layers matching the given
	// tag filter. Empty filter fields match anything.
	ImpactsLayers(ctx context.Context, f datalayer.ImpactsFilter) ([]*datalayer.DataLayer, error)
}

// MetricStore persists cached zonal statistics. UpsertMetrics merges only
// the aggregation columns present on each row, never overwriting a
// previously computed column with null.
type MetricStore interface {
	MetricsFor(ctx context.Context, layerID int64, standIDs []int64) ([]*metric.StandMetric, error)
	UpsertMetrics(ctx context.Context, rows []*metric.StandMetric, aggs []metric.Aggregation) error
}

// PlanningStore persists planning areas, notes and treatment goals.
type PlanningStore interface {
	CreatePlanningArea(ctx context.Context, req *planningarea.CreateRequest) (*planningarea.PlanningArea, error)
	PlanningArea(ctx context.Context, id int64) (*planningarea.PlanningArea, error)
	DeletePlanningArea(ctx context.Context, id int64) error
	CreateNote(ctx context.Context, n *planningarea.Note) error
	Notes(ctx context.Context, planningAreaID int64) ([]*planningarea.Note, error)
	TreatmentGoal(ctx context.Context, id int64) (*goal.TreatmentGoal, error)
	ListTreatmentGoals(ctx context.Context) ([]*goal.TreatmentGoal, error)
}

// ScenarioStore persists scenarios, their run state and optimizer output.
type ScenarioStore interface {
	CreateScenario(ctx context.Context, req *scenario.CreateRequest) (*scenario.Scenario, error)
	Scenario(ctx context.Context, id int64) (*scenario.Scenario, error)
	ListScenarios(ctx context.Context, planningAreaID int64) ([]*scenario.Scenario, error)
	SetScenarioStatus(ctx context.Context, id int64, status scenario.Status) error
	DeleteScenario(ctx context.Context, id int64) error
	// TransitionResultStatus moves the run state under a row lock and
	// returns domain.ErrConflict when the transition is not allowed. It
	// reports whether this call performed the transition.
	TransitionResultStatus(ctx context.Context, id int64, next scenario.ResultStatus) (bool, error)
	SetForsysInput(ctx context.Context, id int64, input json.RawMessage) error
	SetGeopackageStatus(ctx context.Context, id int64, status scenario.GeopackageStatus) error
	// ReplaceProjectAreas atomically deletes any prior project areas for
	// the scenario and inserts the new set.
	ReplaceProjectAreas(ctx context.Context, scenarioID int64, areas []*projectarea.ProjectArea) error
	ProjectAreas(ctx context.Context, scenarioID int64) ([]*projectarea.ProjectArea, error)
}

// TreatmentStore persists plans, prescriptions and impact results.
type TreatmentStore interface {
	CreateTreatmentPlan(ctx context.Context, req *treatment.CreateRequest) (*treatment.TreatmentPlan, error)
	TreatmentPlan(ctx context.Context, id int64) (*treatment.TreatmentPlan, error)
	DeleteTreatmentPlan(ctx context.Context, id int64) error
	// TransitionPlanStatus moves the plan state under a row lock, stamping
	// started/finished times. It reports whether this call won.
	TransitionPlanStatus(ctx context.Context, id int64, next treatment.PlanStatus, at time.Time) (bool, error)
	// SetPlanPending resets the fan-out counter before tasks are enqueued.
	SetPlanPending(ctx context.Context, id int64, n int) error
	// DecrementPlanPending atomically decrements the fan-out counter and
	// returns the remaining count.
	DecrementPlanPending(ctx context.Context, id int64) (int, error)
	CreatePrescriptions(ctx context.Context, planID int64, reqs []*treatment.PrescriptionRequest) ([]*treatment.Prescription, error)
	Prescriptions(ctx context.Context, planID int64) ([]*treatment.Prescription, error)
	UpsertTreatmentResults(ctx context.Context, rows []*treatment.TreatmentResult) error
	TreatmentResults(ctx context.Context, planID int64) ([]*treatment.TreatmentResult, error)
	CountTreatmentResults(ctx context.Context, planID int64) (int, error)
	UpsertProjectAreaResults(ctx context.Context, rows []*treatment.ProjectAreaResult) error
	ProjectAreaResults(ctx context.Context, planID int64) ([]*treatment.ProjectAreaResult, error)
}

// Store is the full persistence surface.
type Store interface {
	StandStore
	DataLayerStore
	MetricStore
	PlanningStore
	ScenarioStore
	TreatmentStore

	Ping(ctx context.Context) error
	Close()
}
