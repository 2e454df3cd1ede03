package requisition

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stockroom/stockroom-backend/pkg/httputil"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// Handler handles requisition endpoints
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates a new requisition handler
func NewHandler(svc *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  log,
	}
}

func pagination(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	return page, perPage
}

// Create creates a draft requisition
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	req, err := h.service.CreateDraft(r.Context(), principal.FromContext(r.Context()), &input, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, req)
}

// Get gets a requisition by ID
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// List lists requisitions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	filter := &ListFilter{
		DepartmentID: r.URL.Query().Get("department_id"),
		RequesterID:  r.URL.Query().Get("requester_id"),
		Status:       r.URL.Query().Get("status"),
		Urgency:      r.URL.Query().Get("urgency"),
	}

	reqs, total, err := h.service.List(r.Context(), principal.FromContext(r.Context()), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	httputil.JSONWithMeta(w, http.StatusOK, reqs, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// Update edits a draft requisition
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var input UpdateInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	req, err := h.service.UpdateDraft(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"), &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// Submit moves a draft into the approval queue
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Submit(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Approve records an approval at the current level
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Approve(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// Reject records a rejection
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Reason string `json:"reason" validate:"required,min=3"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	req, err := h.service.Reject(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"), input.Reason, time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// Cancel withdraws a requisition
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Cancel(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// Complete closes an issued requisition
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Complete(r.Context(), principal.FromContext(r.Context()), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}
