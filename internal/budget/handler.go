package budget

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/httputil"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// Handler handles department budget endpoints
type Handler struct {
	tracker *Tracker
	checker *authz.Checker
	logger  *logger.Logger
}

// NewHandler creates a new budget handler
func NewHandler(tracker *Tracker, checker *authz.Checker, log *logger.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		checker: checker,
		logger:  log,
	}
}

func fiscalYear(r *http.Request) int {
	if year, err := strconv.Atoi(r.URL.Query().Get("fiscal_year")); err == nil && year > 0 {
		return year
	}
	return time.Now().UTC().Year()
}

// Create sets up a department's budget for a fiscal year
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if err := h.checker.Require(r.Context(), p, authz.ModuleBudgets, authz.ActionCreate); err != nil {
		httputil.Error(w, err)
		return
	}

	var input struct {
		DepartmentID      string `json:"department_id" validate:"required,uuid"`
		FiscalYear        int    `json:"fiscal_year" validate:"required,gt=2000"`
		Allocated         string `json:"allocated" validate:"required"`
		AlertThresholdPct string `json:"alert_threshold_pct,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	allocated, err := decimal.NewFromString(input.Allocated)
	if err != nil || allocated.IsNegative() {
		httputil.Error(w, errors.Validation(map[string]string{"allocated": "must be a non-negative decimal"}))
		return
	}

	threshold := decimal.NewFromInt(80)
	if input.AlertThresholdPct != "" {
		threshold, err = decimal.NewFromString(input.AlertThresholdPct)
		if err != nil || threshold.IsNegative() || threshold.GreaterThan(decimal.NewFromInt(100)) {
			httputil.Error(w, errors.Validation(map[string]string{"alert_threshold_pct": "must be between 0 and 100"}))
			return
		}
	}

	b := &DepartmentBudget{
		DepartmentID:      input.DepartmentID,
		FiscalYear:        input.FiscalYear,
		Allocated:         allocated,
		AlertThresholdPct: threshold,
	}
	if err := h.tracker.Create(r.Context(), b); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, b)
}

// Get reads one department's budget for a fiscal year
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if err := h.checker.Require(r.Context(), p, authz.ModuleBudgets, authz.ActionView); err != nil {
		httputil.Error(w, err)
		return
	}

	departmentID := chi.URLParam(r, "departmentID")
	if err := h.checker.RequireInScope(r.Context(), p, authz.ModuleBudgets, departmentID); err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.tracker.Get(r.Context(), departmentID, fiscalYear(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if b == nil {
		httputil.Error(w, errors.NotFound("budget"))
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}

// Utilization reads a budget's utilization percentage
func (h *Handler) Utilization(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if err := h.checker.Require(r.Context(), p, authz.ModuleBudgets, authz.ActionView); err != nil {
		httputil.Error(w, err)
		return
	}

	departmentID := chi.URLParam(r, "departmentID")
	if err := h.checker.RequireInScope(r.Context(), p, authz.ModuleBudgets, departmentID); err != nil {
		httputil.Error(w, err)
		return
	}

	year := fiscalYear(r)
	b, err := h.tracker.Get(r.Context(), departmentID, year)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if b == nil {
		httputil.Error(w, errors.NotFound("budget"))
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"department_id":       departmentID,
		"fiscal_year":         year,
		"utilization_percent": b.UtilizationPercent(),
		"committed_percent":   b.CommittedPercent(),
	})
}

// List reads all budgets for a fiscal year
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if err := h.checker.Require(r.Context(), p, authz.ModuleBudgets, authz.ActionView); err != nil {
		httputil.Error(w, err)
		return
	}

	scope, err := h.checker.ScopeFilter(r.Context(), p, authz.ModuleBudgets)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	budgets, err := h.tracker.List(r.Context(), fiscalYear(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if scope == authz.OwnDepartmentOnly {
		filtered := budgets[:0]
		for _, b := range budgets {
			if b.DepartmentID == p.DepartmentID {
				filtered = append(filtered, b)
			}
		}
		budgets = filtered
	}

	httputil.JSON(w, http.StatusOK, budgets)
}
