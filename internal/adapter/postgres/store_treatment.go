package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/treatment"
	"github.com/silvaplan/silvaplan/internal/geo"
)

const planCols = `id, scenario_id, name, status, pending_tasks, started_at, finished_at,
	created_by, created_at, updated_at, deleted_at`

func (s *Store) CreateTreatmentPlan(ctx context.Context, req *treatment.CreateRequest) (*treatment.TreatmentPlan, error) {
	tp := treatment.TreatmentPlan{
		ScenarioID: req.ScenarioID,
		Name:       req.Name,
		Status:     treatment.PlanPending,
		CreatedBy:  req.CreatedBy,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO treatment_plans (scenario_id, name, created_by)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		req.ScenarioID, req.Name, req.CreatedBy,
	).Scan(&tp.ID, &tp.CreatedAt, &tp.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create treatment plan: %w", err)
	}
	return &tp, nil
}

func (s *Store) TreatmentPlan(ctx context.Context, id int64) (*treatment.TreatmentPlan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planCols+` FROM treatment_plans WHERE id = $1 AND deleted_at IS NULL`, id)
	tp, err := scanPlan(row)
	if err != nil {
		return nil, notFoundWrap(err, "get treatment plan %d", id)
	}
	return tp, nil
}

func (s *Store) DeleteTreatmentPlan(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE treatment_plans SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	return execExpectOne(tag, err, "delete treatment plan %d", id)
}

// TransitionPlanStatus moves the plan state under FOR UPDATE, stamping
// started_at on the move to RUNNING and finished_at on a terminal move.
// A no-op transition returns false so the losing finisher skips its
// side effects.
func (s *Store) TransitionPlanStatus(ctx context.Context, id int64, next treatment.PlanStatus, at time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current treatment.PlanStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM treatment_plans WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		id).Scan(&current)
	if err != nil {
		return false, notFoundWrap(err, "lock treatment plan %d", id)
	}
	if current == next {
		return false, nil
	}
	if !current.CanTransition(next) {
		return false, fmt.Errorf("treatment plan %d status %s -> %s: %w",
			id, current, next, domain.ErrConflict)
	}

	query := `UPDATE treatment_plans SET status = $2, updated_at = NOW() WHERE id = $1`
	switch {
	case next == treatment.PlanRunning:
		query = `UPDATE treatment_plans SET status = $2, started_at = $3, finished_at = NULL, updated_at = NOW() WHERE id = $1`
	case next.Terminal():
		query = `UPDATE treatment_plans SET status = $2, finished_at = $3, updated_at = NOW() WHERE id = $1`
	}
	args := []any{id, next}
	if next == treatment.PlanRunning || next.Terminal() {
		args = append(args, at)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return false, fmt.Errorf("update treatment plan %d status: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *Store) SetPlanPending(ctx context.Context, id int64, n int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE treatment_plans SET pending_tasks = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, n)
	return execExpectOne(tag, err, "set treatment plan %d pending tasks", id)
}

// DecrementPlanPending atomically decrements the fan-out counter and returns
// the remaining count. The worker that observes zero completes the plan.
func (s *Store) DecrementPlanPending(ctx context.Context, id int64) (int, error) {
	var remaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE treatment_plans
		 SET pending_tasks = GREATEST(pending_tasks - 1, 0), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING pending_tasks`, id,
	).Scan(&remaining)
	if err != nil {
		return 0, notFoundWrap(err, "decrement treatment plan %d pending tasks", id)
	}
	return remaining, nil
}

// --- Prescriptions ---

func (s *Store) CreatePrescriptions(ctx context.Context, planID int64, reqs []*treatment.PrescriptionRequest) ([]*treatment.Prescription, error) {
	if len(reqs) == 0 {
		return []*treatment.Prescription{}, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result := make([]*treatment.Prescription, 0, len(reqs))
	for _, req := range reqs {
		p := treatment.Prescription{
			TreatmentPlanID: planID,
			ProjectAreaID:   req.ProjectAreaID,
			StandID:         req.StandID,
			Action:          req.Action,
			Type:            treatment.TypeOf(req.Action),
		}
		// Geometry is cloned from the stand so result features render
		// without a join.
		err = tx.QueryRow(ctx,
			`INSERT INTO treatment_prescriptions
			   (treatment_plan_id, project_area_id, stand_id, action, type, geometry)
			 SELECT $1, $2, id, $3, $4, geometry FROM stands WHERE id = $5
			 RETURNING id, created_at, updated_at`,
			planID, req.ProjectAreaID, p.Action, p.Type, req.StandID,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("stand %d already prescribed in plan %d: %w",
					req.StandID, planID, domain.ErrConflict)
			}
			return nil, notFoundWrap(err, "prescribe stand %d", req.StandID)
		}
		result = append(result, &p)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (s *Store) Prescriptions(ctx context.Context, planID int64) ([]*treatment.Prescription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, treatment_plan_id, project_area_id, stand_id, action, type, geometry, created_at, updated_at
		 FROM treatment_prescriptions WHERE treatment_plan_id = $1 ORDER BY id`, planID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var result []*treatment.Prescription
	for rows.Next() {
		var p treatment.Prescription
		var gj []byte
		if err := rows.Scan(&p.ID, &p.TreatmentPlanID, &p.ProjectAreaID, &p.StandID,
			&p.Action, &p.Type, &gj, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		g, err := geo.UnmarshalPolygon(gj)
		if err != nil {
			return nil, fmt.Errorf("prescription %d geometry: %w", p.ID, err)
		}
		p.Geometry = g
		result = append(result, &p)
	}
	return orEmpty(result), rows.Err()
}

// --- Impact results ---

func (s *Store) UpsertTreatmentResults(ctx context.Context, rows []*treatment.TreatmentResult) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO treatment_results
			   (treatment_plan_id, prescription_id, variable, aggregation, year, value, baseline)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (prescription_id, variable, aggregation, year)
			 DO UPDATE SET value = EXCLUDED.value, baseline = EXCLUDED.baseline, updated_at = NOW()`,
			r.TreatmentPlanID, r.PrescriptionID, r.Variable, r.Aggregation, r.Year, r.Value, r.Baseline)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert treatment result: %w", err)
		}
	}
	return nil
}

func (s *Store) TreatmentResults(ctx context.Context, planID int64) ([]*treatment.TreatmentResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, treatment_plan_id, prescription_id, variable, aggregation, year, value, baseline, created_at, updated_at
		 FROM treatment_results WHERE treatment_plan_id = $1
		 ORDER BY prescription_id, variable, year`, planID)
	if err != nil {
		return nil, fmt.Errorf("list treatment results: %w", err)
	}
	defer rows.Close()

	var result []*treatment.TreatmentResult
	for rows.Next() {
		var r treatment.TreatmentResult
		if err := rows.Scan(&r.ID, &r.TreatmentPlanID, &r.PrescriptionID, &r.Variable,
			&r.Aggregation, &r.Year, &r.Value, &r.Baseline, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan treatment result: %w", err)
		}
		result = append(result, &r)
	}
	return orEmpty(result), rows.Err()
}

func (s *Store) CountTreatmentResults(ctx context.Context, planID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM treatment_results WHERE treatment_plan_id = $1`, planID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count treatment results: %w", err)
	}
	return n, nil
}

func (s *Store) UpsertProjectAreaResults(ctx context.Context, rows []*treatment.ProjectAreaResult) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO project_area_results
			   (treatment_plan_id, project_area_id, variable, aggregation, year, action, value, baseline, stand_count, type)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (treatment_plan_id, project_area_id, variable, aggregation, year, action)
			 DO UPDATE SET value = EXCLUDED.value, baseline = EXCLUDED.baseline,
			   stand_count = EXCLUDED.stand_count, type = EXCLUDED.type, updated_at = NOW()`,
			r.TreatmentPlanID, r.ProjectAreaID, r.Variable, r.Aggregation, r.Year,
			r.Action, r.Value, r.Baseline, r.StandCount, r.Type)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert project area result: %w", err)
		}
	}
	return nil
}

func (s *Store) ProjectAreaResults(ctx context.Context, planID int64) ([]*treatment.ProjectAreaResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, treatment_plan_id, project_area_id, variable, aggregation, year, action, value, baseline, stand_count, type, created_at, updated_at
		 FROM project_area_results WHERE treatment_plan_id = $1
		 ORDER BY project_area_id, variable, year`, planID)
	if err != nil {
		return nil, fmt.Errorf("list project area results: %w", err)
	}
	defer rows.Close()

	var result []*treatment.ProjectAreaResult
	for rows.Next() {
		var r treatment.ProjectAreaResult
		if err := rows.Scan(&r.ID, &r.TreatmentPlanID, &r.ProjectAreaID, &r.Variable,
			&r.Aggregation, &r.Year, &r.Action, &r.Value, &r.Baseline,
			&r.StandCount, &r.Type, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project area result: %w", err)
		}
		result = append(result, &r)
	}
	return orEmpty(result), rows.Err()
}

func scanPlan(row scannable) (*treatment.TreatmentPlan, error) {
	var tp treatment.TreatmentPlan
	if err := row.Scan(&tp.ID, &tp.ScenarioID, &tp.Name, &tp.Status, &tp.PendingTasks,
		&tp.StartedAt, &tp.FinishedAt, &tp.CreatedBy, &tp.CreatedAt, &tp.UpdatedAt, &tp.DeletedAt); err != nil {
		return nil, err
	}
	return &tp, nil
}
