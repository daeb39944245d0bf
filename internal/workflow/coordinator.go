package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/silvaplan/silvaplan/internal/config"
	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/projectarea"
	"github.com/silvaplan/silvaplan/internal/domain/scenario"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/domain/treatment"
	"github.com/silvaplan/silvaplan/internal/forsys"
	"github.com/silvaplan/silvaplan/internal/impacts"
	"github.com/silvaplan/silvaplan/internal/logger"
	"github.com/silvaplan/silvaplan/internal/port/messagequeue"
	"github.com/silvaplan/silvaplan/internal/port/notifier"
)

// Matrix tasks retry transient IO with exponential backoff before the task
// is abandoned and the plan fails.
const (
	matrixRetries   = 5
	matrixRetryBase = 500 * time.Millisecond
)

// Store is the slice of the persistence surface the coordinator needs.
type Store interface {
	Scenario(ctx context.Context, id int64) (*scenario.Scenario, error)
	TransitionResultStatus(ctx context.Context, id int64, next scenario.ResultStatus) (bool, error)
	SetGeopackageStatus(ctx context.Context, id int64, status scenario.GeopackageStatus) error
	TreatmentPlan(ctx context.Context, id int64) (*treatment.TreatmentPlan, error)
	TransitionPlanStatus(ctx context.Context, id int64, next treatment.PlanStatus, at time.Time) (bool, error)
	SetPlanPending(ctx context.Context, id int64, n int) error
	DecrementPlanPending(ctx context.Context, id int64) (int, error)
}

// Builder assembles the optimizer input for a scenario.
type Builder interface {
	Build(ctx context.Context, sc *scenario.Scenario) (*forsys.InputRecord, []*stand.Stand, error)
}

// Ingestor persists optimizer output as project areas.
type Ingestor interface {
	Ingest(ctx context.Context, sc *scenario.Scenario, out *forsys.Output) ([]*projectarea.ProjectArea, error)
}

// ImpactRunner enumerates and executes impact matrix cells.
type ImpactRunner interface {
	Matrix(ctx context.Context, planID int64) ([]impacts.Triple, error)
	RunTriple(ctx context.Context, planID int64, tr impacts.Triple) error
}

// Coordinator drives scenario and treatment plan runs over the queue. Every
// run is idempotent at the status-transition level: the worker that wins the
// transition does the work and the side effects.
type Coordinator struct {
	cfg      config.Workflow
	store    Store
	queue    messagequeue.Queue
	notifier notifier.Notifier
	builder  Builder
	runner   forsys.Runner
	ingestor Ingestor
	impacts  ImpactRunner
	logger   *slog.Logger

	now func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg config.Workflow, store Store, queue messagequeue.Queue,
	n notifier.Notifier, b Builder, r forsys.Runner, in Ingestor,
	imp ImpactRunner, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		notifier: n,
		builder:  b,
		runner:   r,
		ingestor: in,
		impacts:  imp,
		logger:   logger,
		now:      time.Now,
	}
}

// Messages carry a short run ID so fan-out log lines correlate per run.
type scenarioMessage struct {
	ScenarioID int64  `json:"scenario_id"`
	RunID      string `json:"run_id,omitempty"`
}

type treatmentMessage struct {
	PlanID int64  `json:"treatment_plan_id"`
	RunID  string `json:"run_id,omitempty"`
}

type matrixMessage struct {
	PlanID int64          `json:"treatment_plan_id"`
	RunID  string         `json:"run_id,omitempty"`
	Triple impacts.Triple `json:"triple"`
}

// Start subscribes the coordinator's handlers and returns a stop function.
func (c *Coordinator) Start(ctx context.Context) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, s := range stops {
			s()
		}
	}

	subs := []struct {
		subject string
		handler messagequeue.Handler
	}{
		{messagequeue.SubjectScenarioRun, c.handleScenarioRun},
		{messagequeue.SubjectTreatmentRun, c.handleTreatmentRun},
		{messagequeue.SubjectMatrixTask, c.handleMatrixTask},
	}
	for _, s := range subs {
		stop, err := c.queue.Subscribe(ctx, s.subject, s.handler)
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
		stops = append(stops, stop)
	}
	return stopAll, nil
}

// EnqueueScenarioRun publishes a scenario run request.
func (c *Coordinator) EnqueueScenarioRun(ctx context.Context, scenarioID int64) error {
	return c.publish(ctx, messagequeue.SubjectScenarioRun,
		scenarioMessage{ScenarioID: scenarioID, RunID: newRunID()})
}

// EnqueueTreatmentRun publishes a treatment plan run request.
func (c *Coordinator) EnqueueTreatmentRun(ctx context.Context, planID int64) error {
	return c.publish(ctx, messagequeue.SubjectTreatmentRun,
		treatmentMessage{PlanID: planID, RunID: newRunID()})
}

func newRunID() string {
	return uuid.NewString()[:8]
}

func (c *Coordinator) publish(ctx context.Context, subject string, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", subject, err)
	}
	return c.queue.Publish(ctx, subject, raw)
}

func (c *Coordinator) handleScenarioRun(ctx context.Context, _ string, data []byte) error {
	var msg scenarioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("malformed scenario run message", "err", err)
		return nil // poison message, never redeliver
	}
	ctx, cancel := c.taskContext(ctx)
	defer cancel()
	return c.RunScenario(logger.WithRunID(ctx, msg.RunID), msg.ScenarioID)
}

func (c *Coordinator) handleTreatmentRun(ctx context.Context, _ string, data []byte) error {
	var msg treatmentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("malformed treatment run message", "err", err)
		return nil
	}
	ctx, cancel := c.taskContext(ctx)
	defer cancel()
	return c.RunTreatmentPlan(logger.WithRunID(ctx, msg.RunID), msg.PlanID)
}

func (c *Coordinator) handleMatrixTask(ctx context.Context, _ string, data []byte) error {
	var msg matrixMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("malformed matrix task message", "err", err)
		return nil
	}
	ctx, cancel := c.taskContext(ctx)
	defer cancel()
	return c.RunMatrixTask(logger.WithRunID(ctx, msg.RunID), msg.PlanID, msg.Triple)
}

// taskContext caps a single task's wall clock.
func (c *Coordinator) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.TaskTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.TaskTimeout)
}

// RunScenario executes the full scenario pipeline: build the optimizer input,
// invoke the optimizer, ingest its project areas, then mark the terminal
// status. On SUCCESS the geopackage task is enqueued. Only the worker that
// wins the RUNNING transition executes; losers return immediately.
func (c *Coordinator) RunScenario(ctx context.Context, scenarioID int64) error {
	won, err := c.store.TransitionResultStatus(ctx, scenarioID, scenario.ResultRunning)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			c.logger.Warn("scenario run rejected", "scenario", scenarioID, "err", err)
			return nil
		}
		return err
	}
	if !won {
		return nil
	}

	sc, err := c.store.Scenario(ctx, scenarioID)
	if err != nil {
		return err
	}

	var (
		rec *forsys.InputRecord
		out *forsys.Output
	)
	pipeline := Sequence(
		func(ctx context.Context) error {
			r, _, err := c.builder.Build(ctx, sc)
			rec = r
			return err
		},
		func(ctx context.Context) error {
			if len(rec.StandIDs) == 0 {
				// Empty planning area: a valid run with nothing to
				// optimize, landing SUCCESS with zero project areas.
				out = &forsys.Output{}
				return nil
			}
			o, err := c.runner.Run(ctx, sc.ID, rec)
			out = o
			return err
		},
		func(ctx context.Context) error {
			if len(rec.StandIDs) == 0 {
				return nil
			}
			_, err := c.ingestor.Ingest(ctx, sc, out)
			return err
		},
	)

	runErr := pipeline(ctx)
	status, terminal := scenarioStatusFor(runErr)
	if !terminal {
		// Infrastructure failure: leave the run RUNNING and let the queue
		// redeliver; the redelivery loses the transition and no-ops only
		// once a winner finishes.
		return runErr
	}

	won, err = c.store.TransitionResultStatus(ctx, scenarioID, status)
	if err != nil || !won {
		return err
	}

	if status == scenario.ResultSuccess {
		if err := c.store.SetGeopackageStatus(ctx, scenarioID, scenario.GeopackagePending); err != nil {
			return err
		}
		if err := c.publish(ctx, messagequeue.SubjectGeopackage, scenarioMessage{ScenarioID: scenarioID}); err != nil {
			return err
		}
	}

	if err := c.notifier.NotifyScenarioDone(ctx, sc.CreatedBy, sc.Name, string(status)); err != nil {
		c.logger.Warn("scenario completion notice failed",
			"scenario", scenarioID, "recipient", sc.CreatedBy, "err", err)
	}
	c.logger.Info("scenario run finished",
		"scenario", scenarioID, "status", status, "run", logger.RunID(ctx))
	return nil
}

// scenarioStatusFor maps a pipeline error onto a terminal result status.
// Unknown errors are not terminal and surface to the queue for redelivery.
func scenarioStatusFor(err error) (scenario.ResultStatus, bool) {
	switch {
	case err == nil:
		return scenario.ResultSuccess, true
	case errors.Is(err, domain.ErrOptimizerTimeout):
		return scenario.ResultTimedOut, true
	case errors.Is(err, domain.ErrOptimizerInfeasible),
		errors.Is(err, domain.ErrBadConfiguration),
		errors.Is(err, domain.ErrNoCoverage),
		errors.Is(err, domain.ErrInvalidInput):
		return scenario.ResultFailure, true
	case errors.Is(err, domain.ErrOptimizerPanic):
		return scenario.ResultPanic, true
	}
	return "", false
}

// RunTreatmentPlan fans the plan's calculation matrix out as one queue task
// per cell. The pending counter is the chord: the worker that decrements it
// to zero fires the completion callback.
func (c *Coordinator) RunTreatmentPlan(ctx context.Context, planID int64) error {
	won, err := c.store.TransitionPlanStatus(ctx, planID, treatment.PlanRunning, c.now())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			c.logger.Warn("treatment run rejected", "plan", planID, "err", err)
			return nil
		}
		return err
	}
	if !won {
		return nil
	}

	triples, err := c.impacts.Matrix(ctx, planID)
	if err != nil {
		c.failPlan(ctx, planID, err)
		return err
	}
	if len(triples) == 0 {
		c.logger.Warn("treatment plan has an empty calculation matrix", "plan", planID)
		return c.completePlan(ctx, planID)
	}

	if err := c.store.SetPlanPending(ctx, planID, len(triples)); err != nil {
		return err
	}

	runID := logger.RunID(ctx)
	tasks := make([]Task, len(triples))
	for i, tr := range triples {
		tasks[i] = func(ctx context.Context) error {
			return c.publish(ctx, messagequeue.SubjectMatrixTask,
				matrixMessage{PlanID: planID, RunID: runID, Triple: tr})
		}
	}
	fanout := OnError(
		Parallel(c.cfg.MaxParallel, tasks, nil),
		func(ctx context.Context, err error) { c.failPlan(ctx, planID, err) },
	)
	if err := fanout(ctx); err != nil {
		return err
	}
	c.logger.Info("treatment plan fanned out",
		"plan", planID, "tasks", len(triples), "run", runID)
	return nil
}

// RunMatrixTask executes one matrix cell with transient-IO retries, then
// decrements the chord counter. The worker hitting zero completes the plan.
func (c *Coordinator) RunMatrixTask(ctx context.Context, planID int64, tr impacts.Triple) error {
	backoff := retry.WithMaxRetries(matrixRetries, retry.NewExponential(matrixRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.impacts.RunTriple(ctx, planID, tr)
		if domain.IsTransientIO(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		c.logger.Error("matrix task failed",
			"plan", planID, "variable", tr.Variable, "action", tr.Action, "year", tr.Year, "err", err)
		c.failPlan(ctx, planID, err)
		return nil // the plan is terminal; redelivery would no-op
	}

	remaining, err := c.store.DecrementPlanPending(ctx, planID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return c.completePlan(ctx, planID)
}

// completePlan marks the plan SUCCESS and emails the owner. Losing the
// transition means another worker (or a failure) already finished the plan.
func (c *Coordinator) completePlan(ctx context.Context, planID int64) error {
	won, err := c.store.TransitionPlanStatus(ctx, planID, treatment.PlanSuccess, c.now())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return err
	}
	if !won {
		return nil
	}

	plan, err := c.store.TreatmentPlan(ctx, planID)
	if err != nil {
		return err
	}
	if err := c.notifier.NotifyTreatmentDone(ctx, plan.CreatedBy, plan.Name, string(treatment.PlanSuccess)); err != nil {
		c.logger.Warn("treatment completion notice failed",
			"plan", planID, "recipient", plan.CreatedBy, "err", err)
	}
	c.logger.Info("treatment plan finished", "plan", planID, "status", treatment.PlanSuccess)
	return nil
}

// failPlan marks the plan FAILURE. No email goes out on failure.
func (c *Coordinator) failPlan(ctx context.Context, planID int64, cause error) {
	won, err := c.store.TransitionPlanStatus(ctx, planID, treatment.PlanFailure, c.now())
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			c.logger.Error("failure transition errored", "plan", planID, "err", err)
		}
		return
	}
	if won {
		c.logger.Info("treatment plan failed", "plan", planID, "cause", cause)
	}
}
