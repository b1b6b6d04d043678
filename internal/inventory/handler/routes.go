package handler

import (
	"github.com/go-chi/chi/v5"
)

// Handlers groups the inventory API handlers.
type Handlers struct {
	Events   *EventHandler
	Items    *ItemHandler
	Catalog  *CatalogHandler
	Analysis *AnalysisHandler
	Anomaly  *AnomalyHandler
}

// Routes registers the inventory API on r. It is mounted under
// /api/v1/inventory.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/purchases", h.Events.Purchase)
		r.Post("/sales", h.Events.Sale)
		r.Post("/pours", h.Events.Pour)
		r.Post("/wastage", h.Events.Wastage)
		r.Post("/adjustments", h.Events.Adjustment)
	})
	r.Get("/quarantine", h.Events.ListQuarantine)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.Items.List)
		r.Post("/", h.Items.Create)
		r.Get("/{id}", h.Items.Get)
		r.Delete("/{id}", h.Items.Deactivate)
		r.Put("/{id}/par", h.Items.OverridePar)
		r.Get("/{id}/quantity", h.Items.Quantity)
		r.Get("/{id}/movements", h.Items.Movements)
		r.Get("/{id}/reconciliation", h.Analysis.ItemReconciliation)
		r.Get("/{id}/forecast", h.Analysis.ItemForecast)
		r.Post("/{id}/recompute", h.Analysis.RecomputeItem)
	})

	r.Get("/devices", h.Catalog.ListDevices)
	r.Put("/devices/{deviceID}", h.Catalog.MapDevice)
	r.Get("/recipes", h.Catalog.ListRecipes)
	r.Put("/recipes/{name}", h.Catalog.UpsertRecipe)

	r.Get("/reconciliations", h.Analysis.Reconciliations)
	r.Get("/forecasts", h.Analysis.Forecasts)
	r.Get("/insights", h.Analysis.Insights)
	r.Post("/recompute", h.Analysis.Recompute)

	r.Route("/anomalies", func(r chi.Router) {
		r.Get("/", h.Anomaly.List)
		r.Get("/{id}", h.Anomaly.Get)
		r.Post("/{id}/dismiss", h.Anomaly.Dismiss)
	})
}
