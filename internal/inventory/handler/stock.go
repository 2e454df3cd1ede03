package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stockroom/stockroom-backend/internal/inventory/service"
	"github.com/stockroom/stockroom-backend/pkg/httputil"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// StockHandler handles stock ledger endpoints
type StockHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.StockService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

// Adjust applies a manual stock adjustment
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var input service.AdjustInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.Adjust(r.Context(), principal.FromContext(r.Context()), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movement)
}

// Transfer moves stock between locations
func (h *StockHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var input service.TransferInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.Transfer(r.Context(), principal.FromContext(r.Context()), &input); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// ListByItem lists an item's stock across locations
func (h *StockHandler) ListByItem(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListByItem(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}

// ListByLocation lists all stock at a location
func (h *StockHandler) ListByLocation(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListByLocation(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "locationID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}

// Movements lists an item's movement history
func (h *StockHandler) Movements(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	movements, total, err := h.service.ListMovements(r.Context(), principal.FromContext(r.Context()),
		chi.URLParam(r, "itemID"), page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, meta(page, perPage, total))
}
