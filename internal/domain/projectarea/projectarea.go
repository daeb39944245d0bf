// Package projectarea defines the ProjectArea entity: a union of stands
// proposed by the optimizer as a coherent treatment unit.
package projectarea

import (
	"time"

	"github.com/ctessum/geom"
)

// ProjectArea is one optimizer output feature, snapped to stand boundaries.
// A stand belongs to at most one project area per scenario.
type ProjectArea struct {
	ID         int64          `json:"id"`
	ScenarioID int64          `json:"scenario_id"`
	Name       string         `json:"name"`
	Geometry   geom.Polygonal `json:"geometry"`
	Data       map[string]any `json:"data,omitempty"`
	StandIDs   []int64        `json:"stand_ids"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
