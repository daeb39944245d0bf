package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		// Planning areas
		r.Post("/planning-areas", h.CreatePlanningArea)
		r.Get("/planning-areas/{id}", h.GetPlanningArea)
		r.Delete("/planning-areas/{id}", h.DeletePlanningArea)
		r.Post("/planning-areas/{id}/notes", h.CreateNote)
		r.Get("/planning-areas/{id}/notes", h.ListNotes)
		r.Get("/planning-areas/{id}/scenarios", h.ListScenarios)

		// Treatment goals (template catalogue, read only)
		r.Get("/treatment-goals", h.ListTreatmentGoals)

		// Datalayers
		r.Post("/datalayers", h.CreateDataLayer)
		r.Get("/datalayers/{id}", h.GetDataLayer)

		// Scenarios
		r.Post("/scenarios", h.CreateScenario)
		r.Get("/scenarios/{id}", h.GetScenario)
		r.Delete("/scenarios/{id}", h.DeleteScenario)
		r.Post("/scenarios/{id}/run", h.RunScenario)
		r.Get("/scenarios/{id}/project-areas", h.ListProjectAreas)

		// Treatment plans
		r.Post("/treatment-plans", h.CreateTreatmentPlan)
		r.Get("/treatment-plans/{id}", h.GetTreatmentPlan)
		r.Delete("/treatment-plans/{id}", h.DeleteTreatmentPlan)
		r.Post("/treatment-plans/{id}/prescriptions", h.CreatePrescriptions)
		r.Get("/treatment-plans/{id}/prescriptions", h.ListPrescriptions)
		r.Post("/treatment-plans/{id}/run", h.RunTreatmentPlan)
		r.Get("/treatment-plans/{id}/results", h.ListTreatmentResults)
		r.Get("/treatment-plans/{id}/project-area-results", h.ListProjectAreaResults)
	})
}
