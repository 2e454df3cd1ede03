package audit

import (
	"net/http"
	"strconv"

	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/pkg/httputil"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// Handler serves the audit trail read endpoint
type Handler struct {
	repo    *Repository
	checker *authz.Checker
	logger  *logger.Logger
}

// NewHandler creates a new audit handler
func NewHandler(repo *Repository, checker *authz.Checker, log *logger.Logger) *Handler {
	return &Handler{
		repo:    repo,
		checker: checker,
		logger:  log,
	}
}

// List lists audit entries
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if err := h.checker.Require(r.Context(), p, authz.ModuleReports, authz.ActionView); err != nil {
		httputil.Error(w, err)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	filter := &ListFilter{
		ActorID:    r.URL.Query().Get("actor_id"),
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
		Action:     r.URL.Query().Get("action"),
	}

	entries, total, err := h.repo.List(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}
