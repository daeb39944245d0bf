package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/silvaplan/silvaplan/internal/domain/goal"
	"github.com/silvaplan/silvaplan/internal/domain/planningarea"
	"github.com/silvaplan/silvaplan/internal/geo"
)

func (s *Store) CreatePlanningArea(ctx context.Context, req *planningarea.CreateRequest) (*planningarea.PlanningArea, error) {
	gj, err := geomJSON(req.Geometry)
	if err != nil {
		return nil, fmt.Errorf("planning area geometry: %w", err)
	}
	pa := planningarea.PlanningArea{
		Name:      req.Name,
		Region:    req.Region,
		Geometry:  req.Geometry,
		CreatedBy: req.CreatedBy,
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO planning_areas (name, region, geometry, created_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		req.Name, req.Region, gj, req.CreatedBy,
	).Scan(&pa.ID, &pa.CreatedAt, &pa.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create planning area: %w", err)
	}
	return &pa, nil
}

func (s *Store) PlanningArea(ctx context.Context, id int64) (*planningarea.PlanningArea, error) {
	var pa planningarea.PlanningArea
	var gj []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, region, geometry, created_by, created_at, updated_at, deleted_at
		 FROM planning_areas WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&pa.ID, &pa.Name, &pa.Region, &gj, &pa.CreatedBy, &pa.CreatedAt, &pa.UpdatedAt, &pa.DeletedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get planning area %d", id)
	}
	g, err := geo.UnmarshalMultiPolygon(gj)
	if err != nil {
		return nil, fmt.Errorf("planning area %d geometry: %w", id, err)
	}
	pa.Geometry = g
	return &pa, nil
}

// DeletePlanningArea soft-deletes: scenarios keep their history.
func (s *Store) DeletePlanningArea(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE planning_areas SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	return execExpectOne(tag, err, "delete planning area %d", id)
}

func (s *Store) CreateNote(ctx context.Context, n *planningarea.Note) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO planning_area_notes (planning_area_id, author, body)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		n.PlanningAreaID, n.Author, n.Body,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

func (s *Store) Notes(ctx context.Context, planningAreaID int64) ([]*planningarea.Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, planning_area_id, author, body, created_at, updated_at
		 FROM planning_area_notes WHERE planning_area_id = $1 ORDER BY created_at DESC`,
		planningAreaID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var result []*planningarea.Note
	for rows.Next() {
		var n planningarea.Note
		if err := rows.Scan(&n.ID, &n.PlanningAreaID, &n.Author, &n.Body, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		result = append(result, &n)
	}
	return orEmpty(result), rows.Err()
}

// --- Treatment goals ---

func (s *Store) TreatmentGoal(ctx context.Context, id int64) (*goal.TreatmentGoal, error) {
	var g goal.TreatmentGoal
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, category, grouping, created_at, updated_at
		 FROM treatment_goals WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.Category, &g.Group, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get treatment goal %d", id)
	}
	uses, err := s.goalUsages(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Uses = uses
	return &g, nil
}

func (s *Store) ListTreatmentGoals(ctx context.Context) ([]*goal.TreatmentGoal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, category, grouping, created_at, updated_at
		 FROM treatment_goals ORDER BY grouping, name`)
	if err != nil {
		return nil, fmt.Errorf("list treatment goals: %w", err)
	}
	defer rows.Close()

	var result []*goal.TreatmentGoal
	for rows.Next() {
		var g goal.TreatmentGoal
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Category, &g.Group,
			&g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan treatment goal: %w", err)
		}
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, g := range result {
		uses, err := s.goalUsages(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		g.Uses = uses
	}
	return orEmpty(result), nil
}

func (s *Store) goalUsages(ctx context.Context, goalID int64) ([]goal.DataLayerUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, goal_id, datalayer_id, usage_type, threshold
		 FROM treatment_goal_usages WHERE goal_id = $1 ORDER BY id`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list goal usages: %w", err)
	}
	defer rows.Close()

	var uses []goal.DataLayerUsage
	for rows.Next() {
		var u goal.DataLayerUsage
		var threshold []byte
		if err := rows.Scan(&u.ID, &u.GoalID, &u.DataLayerID, &u.UsageType, &threshold); err != nil {
			return nil, fmt.Errorf("scan goal usage: %w", err)
		}
		if threshold != nil {
			var t goal.Threshold
			if err := json.Unmarshal(threshold, &t); err != nil {
				return nil, fmt.Errorf("decode usage %d threshold: %w", u.ID, err)
			}
			u.Threshold = &t
		}
		uses = append(uses, u)
	}
	return orEmpty(uses), rows.Err()
}
