// Package planningarea defines the PlanningArea domain entity and its note
// stream.
package planningarea

import (
	"time"

	"github.com/ctessum/geom"
)

// PlanningArea is a user-drawn multi-polygon in the internal CRS. It owns
// scenarios and notes.
type PlanningArea struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Region    string            `json:"region"`
	Geometry  geom.MultiPolygon `json:"geometry"`
	CreatedBy string            `json:"created_by"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
}

// Note is one entry in a planning area's note stream.
type Note struct {
	ID             int64     `json:"id"`
	PlanningAreaID int64     `json:"planning_area_id"`
	Author         string    `json:"author"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a planning area.
type CreateRequest struct {
	Name      string            `json:"name"`
	Region    string            `json:"region"`
	Geometry  geom.MultiPolygon `json:"geometry"`
	CreatedBy string            `json:"created_by"`
}
