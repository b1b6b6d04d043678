package handler

import (
	"net/http"

	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/httputil"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AnalysisHandler serves reconciliation, forecast and insight results and
// triggers recomputation
type AnalysisHandler struct {
	service *service.AnalysisService
	logger  *logger.Logger
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(svc *service.AnalysisService, log *logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: svc,
		logger:  log,
	}
}

// Reconciliations lists the latest result of every unit at a location
func (h *AnalysisHandler) Reconciliations(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.ListReconciliations(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, results)
}

// ItemReconciliation gets the latest result for one item
func (h *AnalysisHandler) ItemReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.Reconciliation(r.Context(), id, r.URL.Query().Get("location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Forecasts lists par forecasts at a location
func (h *AnalysisHandler) Forecasts(w http.ResponseWriter, r *http.Request) {
	forecasts, err := h.service.ListForecasts(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, forecasts)
}

// ItemForecast gets the par forecast of one item
func (h *AnalysisHandler) ItemForecast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	forecast, err := h.service.Forecast(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, forecast)
}

// Insights summarizes recommendations for a location
func (h *AnalysisHandler) Insights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.service.Insights(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, insights)
}

// Recompute runs a full sweep
func (h *AnalysisHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, "")
}

// RecomputeItem runs a sweep scoped to one item
func (h *AnalysisHandler) RecomputeItem(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, chi.URLParam(r, "id"))
}

func (h *AnalysisHandler) sweep(w http.ResponseWriter, r *http.Request, itemID string) {
	asOf, err := queryTime(r, "as_of")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	req := service.SweepRequest{ItemID: itemID}
	if asOf != nil {
		req.AsOf = *asOf
	}

	report, err := h.service.Sweep(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.logger.Info().
		Str("actor", httputil.GetActorID(r.Context())).
		Str("item_id", itemID).
		Int("reconciled", report.Reconciled).
		Int("anomalies", report.Anomalies).
		Int("forecasts", report.Forecasts).
		Msg("recompute requested")

	httputil.JSON(w, http.StatusOK, report)
}
