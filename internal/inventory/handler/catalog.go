package handler

import (
	"net/http"

	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/httputil"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// CatalogHandler handles device mappings and recipes
type CatalogHandler struct {
	service *service.CatalogService
	logger  *logger.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(svc *service.CatalogService, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{
		service: svc,
		logger:  log,
	}
}

// MapDevice maps a pour device to an item
func (h *CatalogHandler) MapDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	var req service.MapDeviceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	mapping, err := h.service.MapDevice(r.Context(), deviceID, &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, mapping)
}

// ListDevices lists device mappings
func (h *CatalogHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.ListDevices(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, devices)
}

// UpsertRecipe stores a recipe by name
func (h *CatalogHandler) UpsertRecipe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req service.RecipeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	recipe, err := h.service.UpsertRecipe(r.Context(), name, &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, recipe)
}

// ListRecipes lists the recipes of a location
func (h *CatalogHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.service.ListRecipes(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, recipes)
}
