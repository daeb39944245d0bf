// Package scenario defines the Scenario entity: a planning area + goal +
// configuration, plus the optimizer's run state.
package scenario

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/goal"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
)

// Status is the user-facing lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

// ResultStatus is the optimizer run state. Terminal statuses never
// transition except on explicit re-run.
type ResultStatus string

const (
	ResultPending  ResultStatus = "PENDING"
	ResultRunning  ResultStatus = "RUNNING"
	ResultSuccess  ResultStatus = "SUCCESS"
	ResultFailure  ResultStatus = "FAILURE"
	ResultPanic    ResultStatus = "PANIC"
	ResultTimedOut ResultStatus = "TIMED_OUT"
)

// Terminal reports whether s is a terminal result status.
func (s ResultStatus) Terminal() bool {
	switch s {
	case ResultSuccess, ResultFailure, ResultPanic, ResultTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether the run state may move from s to next.
// Re-runs are expressed as an explicit reset to PENDING.
func (s ResultStatus) CanTransition(next ResultStatus) bool {
	switch {
	case next == ResultPending:
		return true // explicit re-run reset
	case s == ResultPending:
		return next == ResultRunning
	case s == ResultRunning:
		return next.Terminal()
	}
	return false
}

// GeopackageStatus tracks the follow-on geopackage task.
type GeopackageStatus string

const (
	GeopackageNone    GeopackageStatus = ""
	GeopackagePending GeopackageStatus = "PENDING"
)

// Constraint restricts candidate stands by a datalayer metric.
type Constraint struct {
	DataLayerID int64         `json:"datalayer_id"`
	Operator    goal.Operator `json:"operator"`
	Value       float64       `json:"value"`
}

// Targets are the optimizer sizing targets.
type Targets struct {
	MaxArea         float64 `json:"max_area"`
	MaxProjectCount int     `json:"max_project_count"`
}

// Configuration is the versioned run configuration validated at the builder
// boundary.
type Configuration struct {
	Version     int          `json:"version"`
	StandSize   stand.Size   `json:"stand_size"`
	Targets     Targets      `json:"targets"`
	Constraints []Constraint `json:"constraints,omitempty"`
	Seed        int64        `json:"seed"`
}

// Validate rejects malformed configurations before any work is enqueued.
func (c *Configuration) Validate() error {
	if !c.StandSize.Valid() {
		return fmt.Errorf("stand size %q: %w", c.StandSize, domain.ErrBadConfiguration)
	}
	if c.Targets.MaxArea <= 0 {
		return fmt.Errorf("targets.max_area must be > 0: %w", domain.ErrBadConfiguration)
	}
	if c.Targets.MaxProjectCount <= 0 {
		return fmt.Errorf("targets.max_project_count must be > 0: %w", domain.ErrBadConfiguration)
	}
	for i, con := range c.Constraints {
		if _, err := con.Operator.Symbol(); err != nil {
			return fmt.Errorf("constraint %d: %w", i, err)
		}
	}
	return nil
}

// Scenario couples a planning area with a goal and a configuration.
type Scenario struct {
	ID               int64            `json:"id"`
	PlanningAreaID   int64            `json:"planning_area_id"`
	TreatmentGoalID  int64            `json:"treatment_goal_id"`
	Name             string           `json:"name"`
	Configuration    Configuration    `json:"configuration"`
	Status           Status           `json:"status"`
	ResultStatus     ResultStatus     `json:"result_status"`
	GeopackageStatus GeopackageStatus `json:"geopackage_status"`
	ForsysInput      json.RawMessage  `json:"forsys_input,omitempty"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	DeletedAt        *time.Time       `json:"deleted_at,omitempty"`
}

// CreateRequest holds the fields needed to create a scenario.
type CreateRequest struct {
	PlanningAreaID  int64         `json:"planning_area_id"`
	TreatmentGoalID int64         `json:"treatment_goal_id"`
	Name            string        `json:"name"`
	Configuration   Configuration `json:"configuration"`
	CreatedBy       string        `json:"created_by"`
}
