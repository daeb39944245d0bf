// Package treatment defines treatment plans, prescriptions, actions,
// variables and their impact result rows.
package treatment

import (
	"fmt"
	"strings"
	"time"

	"github.com/ctessum/geom"

	"github.com/silvaplan/silvaplan/internal/domain/metric"
)

// PlanStatus is the treatment plan run state. It advances monotonically for
// a given run: PENDING -> RUNNING -> SUCCESS|FAILURE.
type PlanStatus string

const (
	PlanPending PlanStatus = "PENDING"
	PlanRunning PlanStatus = "RUNNING"
	PlanSuccess PlanStatus = "SUCCESS"
	PlanFailure PlanStatus = "FAILURE"
)

// Terminal reports whether s is a terminal plan status.
func (s PlanStatus) Terminal() bool {
	return s == PlanSuccess || s == PlanFailure
}

// CanTransition reports whether the plan may move from s to next.
func (s PlanStatus) CanTransition(next PlanStatus) bool {
	switch {
	case next == PlanPending:
		return true // explicit re-run reset
	case s == PlanPending:
		return next == PlanRunning
	case s == PlanRunning:
		return next.Terminal()
	}
	return false
}

// TreatmentPlan maps stands inside a scenario's project areas to actions.
type TreatmentPlan struct {
	ID           int64      `json:"id"`
	ScenarioID   int64      `json:"scenario_id"`
	Name         string     `json:"name"`
	Status       PlanStatus `json:"status"`
	PendingTasks int        `json:"pending_tasks"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Action is a treatment applied to a stand at year 0.
type Action string

const (
	ActionModerateThinning        Action = "MODERATE_THINNING_BIOMASS"
	ActionHeavyThinning           Action = "HEAVY_THINNING_BIOMASS"
	ActionModerateMastication     Action = "MODERATE_MASTICATION"
	ActionHeavyMastication        Action = "HEAVY_MASTICATION"
	ActionRxFire                  Action = "RX_FIRE"
	ActionModerateThinningBurn    Action = "MODERATE_THINNING_BURN"
	ActionHeavyThinningBurn       Action = "HEAVY_THINNING_BURN"
	ActionMastAndRxFire           Action = "MODERATE_MASTICATION_RX_FIRE"
	ActionSeqThinningRxFire       Action = "SEQ_MODERATE_THINNING_RX_FIRE"
	ActionSeqHeavyThinningRxFire  Action = "SEQ_HEAVY_THINNING_RX_FIRE"
	ActionSeqMasticationRxFire    Action = "SEQ_MODERATE_MASTICATION_RX_FIRE"
	ActionSeqRxFireRxFire         Action = "SEQ_RX_FIRE_RX_FIRE"
)

// Normalize canonicalizes the action the way impacts layer tags spell it.
func (a Action) Normalize() string {
	return strings.ToLower(string(a))
}

// PrescriptionType is derived from the action.
type PrescriptionType string

const (
	TypeSingle   PrescriptionType = "SINGLE"
	TypeSequence PrescriptionType = "SEQUENCE"
)

// TypeOf derives the prescription type from the action name.
func TypeOf(a Action) PrescriptionType {
	if strings.HasPrefix(string(a), "SEQ_") {
		return TypeSequence
	}
	return TypeSingle
}

// Prescription assigns one action to one stand within one plan. The geometry
// is a clone of the stand geometry; (plan, stand) is unique.
type Prescription struct {
	ID              int64            `json:"id"`
	TreatmentPlanID int64            `json:"treatment_plan_id"`
	ProjectAreaID   int64            `json:"project_area_id"`
	StandID         int64            `json:"stand_id"`
	Action          Action           `json:"action"`
	Type            PrescriptionType `json:"type"`
	Geometry        geom.Polygon     `json:"geometry"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// AggregationFor returns the default aggregation rule for a variable when
// the impacts layer tags do not declare one: stock-like variables sum over a
// stand, cover-like and rate-like variables average.
func AggregationFor(variable string) metric.Aggregation {
	switch strings.ToUpper(variable) {
	case "TOTAL_CARBON", "STORED_CARBON", "TOTAL_BIOMASS", "MERCH_BIOMASS", "NON_MERCH_BIOMASS":
		return metric.AggSum
	default:
		return metric.AggAvg
	}
}

// ResultType distinguishes treated from untreated rollups.
type ResultType string

const (
	ResultDirect   ResultType = "DIRECT"
	ResultIndirect ResultType = "INDIRECT"
)

// TreatmentResult is one per-(prescription, variable, aggregation, year)
// impact row. Value is null iff the underlying read had count == 0; Baseline
// may be null when no baseline layer exists for the triple.
type TreatmentResult struct {
	ID              int64              `json:"id"`
	TreatmentPlanID int64              `json:"treatment_plan_id"`
	PrescriptionID  int64              `json:"prescription_id"`
	Variable        string             `json:"variable"`
	Aggregation     metric.Aggregation `json:"aggregation"`
	Year            int                `json:"year"`
	Value           *float64           `json:"value"`
	Baseline        *float64           `json:"baseline"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// ProjectAreaResult is the per-project-area rollup of TreatmentResults.
type ProjectAreaResult struct {
	ID              int64              `json:"id"`
	TreatmentPlanID int64              `json:"treatment_plan_id"`
	ProjectAreaID   int64              `json:"project_area_id"`
	Variable        string             `json:"variable"`
	Aggregation     metric.Aggregation `json:"aggregation"`
	Year            int                `json:"year"`
	Action          Action             `json:"action"`
	Value           *float64           `json:"value"`
	Baseline        *float64           `json:"baseline"`
	StandCount      int                `json:"stand_count"`
	Type            ResultType         `json:"type"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a treatment plan.
type CreateRequest struct {
	ScenarioID int64  `json:"scenario_id"`
	Name       string `json:"name"`
	CreatedBy  string `json:"created_by"`
}

// PrescriptionRequest is one stand-action assignment in a plan.
type PrescriptionRequest struct {
	ProjectAreaID int64  `json:"project_area_id"`
	StandID       int64  `json:"stand_id"`
	Action        Action `json:"action"`
}

// String implements fmt.Stringer for log lines.
func (a Action) String() string { return string(a) }

var _ fmt.Stringer = Action("")
