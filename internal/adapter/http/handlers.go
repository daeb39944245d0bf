// Package http is the thin pipeline-facing API surface: health probes,
// catalogue registration, run triggers and status reads.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/planningarea"
	"github.com/silvaplan/silvaplan/internal/domain/scenario"
	"github.com/silvaplan/silvaplan/internal/domain/treatment"
	"github.com/silvaplan/silvaplan/internal/port/database"
	"github.com/silvaplan/silvaplan/internal/port/messagequeue"
	"github.com/silvaplan/silvaplan/internal/port/raster"
)

// Runs enqueues pipeline runs. The workflow coordinator implements it.
type Runs interface {
	EnqueueScenarioRun(ctx context.Context, scenarioID int64) error
	EnqueueTreatmentRun(ctx context.Context, planID int64) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Store     database.Store
	Queue     messagequeue.Queue
	Catalogue raster.Catalogue
	Runs      Runs
	Logger    *slog.Logger
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz. Ready means the database answers and the
// broker connection is up.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	if !h.Queue.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// CreatePlanningArea handles POST /api/v1/planning-areas.
func (h *Handlers) CreatePlanningArea(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[planningarea.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Geometry) == 0 {
		writeError(w, http.StatusBadRequest, "geometry is required")
		return
	}
	pa, err := h.Store.CreatePlanningArea(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "planning area creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, pa)
}

// GetPlanningArea handles GET /api/v1/planning-areas/{id}.
func (h *Handlers) GetPlanningArea(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	pa, err := h.Store.PlanningArea(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "planning area not found")
		return
	}
	writeJSON(w, http.StatusOK, pa)
}

// DeletePlanningArea handles DELETE /api/v1/planning-areas/{id}.
func (h *Handlers) DeletePlanningArea(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeletePlanningArea(r.Context(), id); err != nil {
		writeDomainError(w, err, "planning area not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateNote handles POST /api/v1/planning-areas/{id}/notes.
func (h *Handlers) CreateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	n, ok := readJSON[planningarea.Note](w, r)
	if !ok {
		return
	}
	if n.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	n.PlanningAreaID = id
	if err := h.Store.CreateNote(r.Context(), &n); err != nil {
		writeDomainError(w, err, "planning area not found")
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// ListNotes handles GET /api/v1/planning-areas/{id}/notes.
func (h *Handlers) ListNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	notes, err := h.Store.Notes(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "planning area not found")
		return
	}
	if notes == nil {
		notes = []*planningarea.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// ListTreatmentGoals handles GET /api/v1/treatment-goals.
func (h *Handlers) ListTreatmentGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.Store.ListTreatmentGoals(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

// CreateDataLayer handles POST /api/v1/datalayers. Raster layers are probed
// at registration time: CRS and geotransform are validated once here and the
// probe result is persisted on the layer.
func (h *Handlers) CreateDataLayer(w http.ResponseWriter, r *http.Request) {
	dl, ok := readJSON[datalayer.DataLayer](w, r)
	if !ok {
		return
	}
	if err := dl.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if dl.Type == datalayer.TypeRaster {
		info, err := h.Catalogue.Probe(r.Context(), dl.URL, dl.Band())
		if err != nil {
			writeDomainError(w, err, "raster probe failed")
			return
		}
		dl.Info = *info
	}
	if err := h.Store.CreateDataLayer(r.Context(), &dl); err != nil {
		writeDomainError(w, err, "datalayer creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, dl)
}

// GetDataLayer handles GET /api/v1/datalayers/{id}.
func (h *Handlers) GetDataLayer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	dl, err := h.Store.DataLayer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "datalayer not found")
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

// CreateScenario handles POST /api/v1/scenarios.
func (h *Handlers) CreateScenario(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[scenario.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := req.Configuration.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := h.Store.CreateScenario(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "scenario creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// GetScenario handles GET /api/v1/scenarios/{id}.
func (h *Handlers) GetScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	sc, err := h.Store.Scenario(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "scenario not found")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// ListScenarios handles GET /api/v1/planning-areas/{id}/scenarios.
func (h *Handlers) ListScenarios(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	scs, err := h.Store.ListScenarios(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "planning area not found")
		return
	}
	if scs == nil {
		scs = []*scenario.Scenario{}
	}
	writeJSON(w, http.StatusOK, scs)
}

// DeleteScenario handles DELETE /api/v1/scenarios/{id}.
func (h *Handlers) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteScenario(r.Context(), id); err != nil {
		writeDomainError(w, err, "scenario not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunScenario handles POST /api/v1/scenarios/{id}/run. The run executes
// asynchronously; poll the scenario's result_status.
func (h *Handlers) RunScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Store.Scenario(r.Context(), id); err != nil {
		writeDomainError(w, err, "scenario not found")
		return
	}
	if err := h.Runs.EnqueueScenarioRun(r.Context(), id); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"scenario_id": id, "enqueued": true})
}

// ListProjectAreas handles GET /api/v1/scenarios/{id}/project-areas.
func (h *Handlers) ListProjectAreas(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	areas, err := h.Store.ProjectAreas(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "scenario not found")
		return
	}
	writeJSON(w, http.StatusOK, areas)
}

// CreateTreatmentPlan handles POST /api/v1/treatment-plans.
func (h *Handlers) CreateTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[treatment.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	plan, err := h.Store.CreateTreatmentPlan(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "treatment plan creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// GetTreatmentPlan handles GET /api/v1/treatment-plans/{id}.
func (h *Handlers) GetTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	plan, err := h.Store.TreatmentPlan(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "treatment plan not found")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// DeleteTreatmentPlan handles DELETE /api/v1/treatment-plans/{id}.
func (h *Handlers) DeleteTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteTreatmentPlan(r.Context(), id); err != nil {
		writeDomainError(w, err, "treatment plan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePrescriptions handles POST /api/v1/treatment-plans/{id}/prescriptions.
func (h *Handlers) CreatePrescriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	reqs, ok := readJSON[[]*treatment.PrescriptionRequest](w, r)
	if !ok {
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one prescription is required")
		return
	}
	prescriptions, err := h.Store.CreatePrescriptions(r.Context(), id, reqs)
	if err != nil {
		writeDomainError(w, err, "treatment plan not found")
		return
	}
	writeJSON(w, http.StatusCreated, prescriptions)
}

// ListPrescriptions handles GET /api/v1/treatment-plans/{id}/prescriptions.
func (h *Handlers) ListPrescriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	prescriptions, err := h.Store.Prescriptions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "treatment plan not found")
		return
	}
	writeJSON(w, http.StatusOK, prescriptions)
}

// RunTreatmentPlan handles POST /api/v1/treatment-plans/{id}/run.
func (h *Handlers) RunTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Store.TreatmentPlan(r.Context(), id); err != nil {
		writeDomainError(w, err, "treatment plan not found")
		return
	}
	if err := h.Runs.EnqueueTreatmentRun(r.Context(), id); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"treatment_plan_id": id, "enqueued": true})
}

// ListTreatmentResults handles GET /api/v1/treatment-plans/{id}/results.
func (h *Handlers) ListTreatmentResults(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	results, err := h.Store.TreatmentResults(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "treatment plan not found")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// ListProjectAreaResults handles
// GET /api/v1/treatment-plans/{id}/project-area-results.
func (h *Handlers) ListProjectAreaResults(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	results, err := h.Store.ProjectAreaResults(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "treatment plan not found")
		return
	}
	writeJSON(w, http.StatusOK, results)
}
