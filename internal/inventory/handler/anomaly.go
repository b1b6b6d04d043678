package handler

import (
	"net/http"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/httputil"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AnomalyHandler handles anomaly endpoints
type AnomalyHandler struct {
	service *service.AnomalyService
	logger  *logger.Logger
}

// NewAnomalyHandler creates a new anomaly handler
func NewAnomalyHandler(svc *service.AnomalyService, log *logger.Logger) *AnomalyHandler {
	return &AnomalyHandler{
		service: svc,
		logger:  log,
	}
}

// List lists anomalies
func (h *AnomalyHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	q := r.URL.Query()

	anomalies, err := h.service.List(r.Context(), domain.AnomalyFilter{
		LocationID:  q.Get("location"),
		ItemID:      q.Get("item_id"),
		DeviceID:    q.Get("device_id"),
		Type:        domain.AnomalyType(q.Get("type")),
		ReviewState: domain.ReviewState(q.Get("state")),
		Limit:       perPage,
		Offset:      (page - 1) * perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, anomalies, &httputil.Meta{
		Page:    page,
		PerPage: perPage,
	})
}

// Get gets an anomaly by ID
func (h *AnomalyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	anomaly, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, anomaly)
}

// Dismiss dismisses an open anomaly. The body with a note is optional.
func (h *AnomalyHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req service.DismissRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if err := httputil.Validate(&req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	anomaly, err := h.service.Dismiss(r.Context(), id, httputil.GetActorID(r.Context()), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, anomaly)
}
