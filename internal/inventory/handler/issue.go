package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stockroom/stockroom-backend/internal/inventory/service"
	"github.com/stockroom/stockroom-backend/pkg/httputil"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// IssueHandler handles issue and return endpoints
type IssueHandler struct {
	service *service.IssueService
	logger  *logger.Logger
}

// NewIssueHandler creates a new issue handler
func NewIssueHandler(svc *service.IssueService, log *logger.Logger) *IssueHandler {
	return &IssueHandler{
		service: svc,
		logger:  log,
	}
}

// Create issues stock to a recipient
func (h *IssueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateIssueInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	issue, err := h.service.CreateIssue(r.Context(), principal.FromContext(r.Context()), &input, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, issue)
}

// Get gets an issue by ID
func (h *IssueHandler) Get(w http.ResponseWriter, r *http.Request) {
	issue, err := h.service.GetIssue(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, issue)
}

// List lists issues
func (h *IssueHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	status := r.URL.Query().Get("status")
	departmentID := r.URL.Query().Get("department_id")

	issues, total, err := h.service.ListIssues(r.Context(), principal.FromContext(r.Context()), page, perPage, status, departmentID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, issues, meta(page, perPage, total))
}

// Acknowledge records the recipient's delivery outcome
func (h *IssueHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Outcome string `json:"outcome" validate:"required,oneof=completed cancelled failed_delivery"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	issue, err := h.service.Acknowledge(r.Context(), principal.FromContext(r.Context()),
		chi.URLParam(r, "id"), input.Outcome, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, issue)
}

// CreateReturn opens a return request
func (h *IssueHandler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	var input service.CreateReturnInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	ret, err := h.service.CreateReturn(r.Context(), principal.FromContext(r.Context()), &input, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, ret)
}

// GetReturn gets a return by ID
func (h *IssueHandler) GetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := h.service.GetReturn(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ret)
}

// ListReturns lists returns
func (h *IssueHandler) ListReturns(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	status := r.URL.Query().Get("status")
	departmentID := r.URL.Query().Get("department_id")

	returns, total, err := h.service.ListReturns(r.Context(), principal.FromContext(r.Context()), page, perPage, status, departmentID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, returns, meta(page, perPage, total))
}

// ReviewReturn approves or rejects a pending return
func (h *IssueHandler) ReviewReturn(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Approve bool `json:"approve"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}

	ret, err := h.service.ReviewReturn(r.Context(), principal.FromContext(r.Context()),
		chi.URLParam(r, "id"), input.Approve, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ret)
}

// ReceiveReturn books an approved return back into stock
func (h *IssueHandler) ReceiveReturn(w http.ResponseWriter, r *http.Request) {
	var input struct {
		LocationID string `json:"location_id" validate:"required,uuid"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	ret, err := h.service.ReceiveReturn(r.Context(), principal.FromContext(r.Context()),
		chi.URLParam(r, "id"), input.LocationID, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ret)
}
