package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/projectarea"
	"github.com/silvaplan/silvaplan/internal/domain/scenario"
	"github.com/silvaplan/silvaplan/internal/geo"
)

const scenarioCols = `id, planning_area_id, treatment_goal_id, name, configuration,
	status, result_status, geopackage_status, forsys_input,
	created_by, created_at, updated_at, deleted_at`

func (s *Store) CreateScenario(ctx context.Context, req *scenario.CreateRequest) (*scenario.Scenario, error) {
	cfg, err := json.Marshal(req.Configuration)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}
	sc := scenario.Scenario{
		PlanningAreaID:  req.PlanningAreaID,
		TreatmentGoalID: req.TreatmentGoalID,
		Name:            req.Name,
		Configuration:   req.Configuration,
		Status:          scenario.StatusActive,
		ResultStatus:    scenario.ResultPending,
		CreatedBy:       req.CreatedBy,
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO scenarios (planning_area_id, treatment_goal_id, name, configuration, created_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		req.PlanningAreaID, req.TreatmentGoalID, req.Name, cfg, req.CreatedBy,
	).Scan(&sc.ID, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("scenario %q already exists in planning area %d: %w",
				req.Name, req.PlanningAreaID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create scenario: %w", err)
	}
	return &sc, nil
}

func (s *Store) Scenario(ctx context.Context, id int64) (*scenario.Scenario, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scenarioCols+` FROM scenarios WHERE id = $1 AND deleted_at IS NULL`, id)
	sc, err := scanScenario(row)
	if err != nil {
		return nil, notFoundWrap(err, "get scenario %d", id)
	}
	return sc, nil
}

func (s *Store) ListScenarios(ctx context.Context, planningAreaID int64) ([]*scenario.Scenario, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scenarioCols+` FROM scenarios
		 WHERE planning_area_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`,
		planningAreaID)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	var result []*scenario.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		result = append(result, sc)
	}
	return orEmpty(result), rows.Err()
}

func (s *Store) SetScenarioStatus(ctx context.Context, id int64, status scenario.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scenarios SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, status)
	return execExpectOne(tag, err, "set scenario %d status", id)
}

func (s *Store) DeleteScenario(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scenarios SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	return execExpectOne(tag, err, "delete scenario %d", id)
}

// TransitionResultStatus moves the run state under FOR UPDATE. Illegal
// transitions return domain.ErrConflict; a no-op transition (already in the
// requested state) returns false without error so concurrent finishers can
// tell who won.
func (s *Store) TransitionResultStatus(ctx context.Context, id int64, next scenario.ResultStatus) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current scenario.ResultStatus
	err = tx.QueryRow(ctx,
		`SELECT result_status FROM scenarios WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		id).Scan(&current)
	if err != nil {
		return false, notFoundWrap(err, "lock scenario %d", id)
	}
	if current == next {
		return false, nil
	}
	if !current.CanTransition(next) {
		return false, fmt.Errorf("scenario %d result status %s -> %s: %w",
			id, current, next, domain.ErrConflict)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE scenarios SET result_status = $2, updated_at = NOW() WHERE id = $1`,
		id, next); err != nil {
		return false, fmt.Errorf("update scenario %d result status: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *Store) SetForsysInput(ctx context.Context, id int64, input json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scenarios SET forsys_input = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, []byte(input))
	return execExpectOne(tag, err, "set scenario %d forsys input", id)
}

func (s *Store) SetGeopackageStatus(ctx context.Context, id int64, status scenario.GeopackageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scenarios SET geopackage_status = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, status)
	return execExpectOne(tag, err, "set scenario %d geopackage status", id)
}

// ReplaceProjectAreas deletes any prior optimizer output for the scenario and
// inserts the new set in one transaction, keeping re-runs idempotent.
func (s *Store) ReplaceProjectAreas(ctx context.Context, scenarioID int64, areas []*projectarea.ProjectArea) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM project_areas WHERE scenario_id = $1`, scenarioID); err != nil {
		return fmt.Errorf("clear project areas: %w", err)
	}
	for _, pa := range areas {
		gj, err := geomJSON(pa.Geometry)
		if err != nil {
			return fmt.Errorf("project area geometry: %w", err)
		}
		data, err := json.Marshal(pa.Data)
		if err != nil {
			return fmt.Errorf("marshal project area data: %w", err)
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO project_areas (scenario_id, name, geometry, data, stand_ids)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at, updated_at`,
			scenarioID, pa.Name, gj, data, pa.StandIDs,
		).Scan(&pa.ID, &pa.CreatedAt, &pa.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert project area %q: %w", pa.Name, err)
		}
		pa.ScenarioID = scenarioID
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) ProjectAreas(ctx context.Context, scenarioID int64) ([]*projectarea.ProjectArea, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scenario_id, name, geometry, data, stand_ids, created_at, updated_at
		 FROM project_areas WHERE scenario_id = $1 ORDER BY id`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("list project areas: %w", err)
	}
	defer rows.Close()

	var result []*projectarea.ProjectArea
	for rows.Next() {
		var pa projectarea.ProjectArea
		var gj, data []byte
		if err := rows.Scan(&pa.ID, &pa.ScenarioID, &pa.Name, &gj, &data,
			&pa.StandIDs, &pa.CreatedAt, &pa.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project area: %w", err)
		}
		g, err := geo.UnmarshalPolygonal(gj)
		if err != nil {
			return nil, fmt.Errorf("project area %d geometry: %w", pa.ID, err)
		}
		pa.Geometry = g
		if data != nil {
			if err := json.Unmarshal(data, &pa.Data); err != nil {
				return nil, fmt.Errorf("decode project area %d data: %w", pa.ID, err)
			}
		}
		result = append(result, &pa)
	}
	return orEmpty(result), rows.Err()
}

func scanScenario(row scannable) (*scenario.Scenario, error) {
	var sc scenario.Scenario
	var cfg []byte
	var forsysInput []byte
	if err := row.Scan(&sc.ID, &sc.PlanningAreaID, &sc.TreatmentGoalID, &sc.Name, &cfg,
		&sc.Status, &sc.ResultStatus, &sc.GeopackageStatus, &forsysInput,
		&sc.CreatedBy, &sc.CreatedAt, &sc.UpdatedAt, &sc.DeletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &sc.Configuration); err != nil {
		return nil, fmt.Errorf("decode scenario %d configuration: %w", sc.ID, err)
	}
	sc.ForsysInput = forsysInput
	return &sc, nil
}
