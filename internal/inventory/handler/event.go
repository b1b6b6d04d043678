package handler

import (
	"net/http"

	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/errors"
	"github.com/barledger/barledger-backend/pkg/httputil"
	"github.com/barledger/barledger-backend/pkg/logger"
)

// EventHandler accepts raw movement events over HTTP
type EventHandler struct {
	ingest  *service.IngestService
	catalog *service.CatalogService
	logger  *logger.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(ingest *service.IngestService, catalog *service.CatalogService, log *logger.Logger) *EventHandler {
	return &EventHandler{
		ingest:  ingest,
		catalog: catalog,
		logger:  log,
	}
}

// Purchase ingests a delivery
func (h *EventHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	ingestAs[normalizer.PurchaseEvent](h, w, r)
}

// Sale ingests a POS line
func (h *EventHandler) Sale(w http.ResponseWriter, r *http.Request) {
	ingestAs[normalizer.SaleEvent](h, w, r)
}

// Pour ingests a smart-pourer reading
func (h *EventHandler) Pour(w http.ResponseWriter, r *http.Request) {
	ingestAs[normalizer.PourEvent](h, w, r)
}

// Wastage ingests a manual wastage entry
func (h *EventHandler) Wastage(w http.ResponseWriter, r *http.Request) {
	ingestAs[normalizer.WastageEvent](h, w, r)
}

// Adjustment ingests a manual stock count correction
func (h *EventHandler) Adjustment(w http.ResponseWriter, r *http.Request) {
	ingestAs[normalizer.AdjustmentEvent](h, w, r)
}

// ingestAs decodes one event of type T and ingests it. Malformed bodies
// are rejected with 400 and events the normalizer rejects are quarantined
// and answered with 202. Storage failures answer 503 so producers retry.
func ingestAs[T normalizer.RawEvent](h *EventHandler, w http.ResponseWriter, r *http.Request) {
	var event T
	if err := httputil.DecodeJSON(r, &event); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&event); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.ingest.Ingest(r.Context(), event)
	if err != nil {
		h.logger.Error().Err(err).
			Str("source", event.Source()).
			Str("source_ref", event.Ref()).
			Msg("failed to ingest event")
		httputil.Error(w, errors.Unavailable("event could not be recorded, retry later"))
		return
	}

	switch {
	case result.Quarantine != nil:
		httputil.Accepted(w, result)
	case result.Appended > 0:
		httputil.Created(w, result)
	default:
		httputil.JSON(w, http.StatusOK, result)
	}
}

// ListQuarantine lists rejected events
func (h *EventHandler) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	source := r.URL.Query().Get("source")

	events, err := h.catalog.ListQuarantine(r.Context(), source, perPage, (page-1)*perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, events, &httputil.Meta{
		Page:    page,
		PerPage: perPage,
	})
}
