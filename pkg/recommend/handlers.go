package recommend

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/httputil"
	"github.com/platinummonkey/cloudscope/pkg/rbac"
)

// Handlers exposes recommendations over HTTP
type Handlers struct {
	service *Service
	engine  *rbac.Engine
	perms   *rbac.PermissionMiddleware
}

// NewHandlers creates recommendation handlers
func NewHandlers(service *Service, engine *rbac.Engine) *Handlers {
	return &Handlers{
		service: service,
		engine:  engine,
		perms:   rbac.NewPermissionMiddleware(engine),
	}
}

// RegisterRoutes registers recommendation routes. Auth middleware runs
// upstream.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/v1/metrics/recommendations/{client_id}",
		h.perms.Require(rbac.PermMetricsRecommendationsView)(http.HandlerFunc(h.GetRecommendations))).Methods("GET")
}

// GetRecommendations handles GET /api/v1/metrics/recommendations/{client_id}
func (h *Handlers) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	clientID, err := strconv.ParseInt(mux.Vars(r)["client_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid client id")
		return
	}

	canSee, err := h.engine.CanSeeClient(r.Context(), principal.UserID, clientID)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return
	}
	if !canSee {
		rbac.WriteAuthzError(w, r, &rbac.ForbiddenError{ClientIDs: []int64{clientID}})
		return
	}

	resp, err := h.service.GetRecommendations(r.Context(), clientID)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, resp)
}
