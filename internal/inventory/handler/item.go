package handler

import (
	"net/http"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/httputil"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// ItemHandler handles tracked item endpoints
type ItemHandler struct {
	service *service.CatalogService
	logger  *logger.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(svc *service.CatalogService, log *logger.Logger) *ItemHandler {
	return &ItemHandler{
		service: svc,
		logger:  log,
	}
}

// List lists tracked items. Inactive items are included with ?all=true.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	activeOnly := r.URL.Query().Get("all") != "true"

	items, err := h.service.ListItems(r.Context(), location, activeOnly)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, items)
}

// Get gets an item by ID
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Create creates a new item
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateItemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.service.CreateItem(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, item)
}

// OverridePar sets or clears the operator par threshold
func (h *ItemHandler) OverridePar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req service.OverrideParRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.service.OverridePar(r.Context(), id, &req, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Deactivate soft-deletes an item
func (h *ItemHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeactivateItem(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Quantity folds the ledger for an item, optionally as of a past instant
func (h *ItemHandler) Quantity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	asOf, err := queryTime(r, "as_of")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	var at time.Time
	if asOf != nil {
		at = *asOf
	}

	view, err := h.service.CurrentQuantity(r.Context(), id, r.URL.Query().Get("location"), at)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, view)
}

// Movements lists the movements of an item
func (h *ItemHandler) Movements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	page, perPage := httputil.Pagination(r)

	q := service.MovementQuery{
		LocationID: r.URL.Query().Get("location"),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
	for _, k := range queryList(r, "kind") {
		q.Kinds = append(q.Kinds, domain.MovementKind(k))
	}

	var err error
	if q.From, err = queryTime(r, "from"); err != nil {
		httputil.Error(w, err)
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		httputil.Error(w, err)
		return
	}

	movements, err := h.service.Movements(r.Context(), id, q)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, &httputil.Meta{
		Page:    page,
		PerPage: perPage,
	})
}
