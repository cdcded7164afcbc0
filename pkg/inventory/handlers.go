package inventory

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/httputil"
	"github.com/platinummonkey/cloudscope/pkg/rbac"
)

// Handlers exposes resource inventory over HTTP
type Handlers struct {
	service *Service
	engine  *rbac.Engine
	perms   *rbac.PermissionMiddleware
}

// NewHandlers creates inventory handlers
func NewHandlers(service *Service, engine *rbac.Engine) *Handlers {
	return &Handlers{
		service: service,
		engine:  engine,
		perms:   rbac.NewPermissionMiddleware(engine),
	}
}

// RegisterRoutes registers inventory routes. Auth middleware runs upstream.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/v1/metrics/resources/{client_id}",
		h.perms.Require(rbac.PermResourcesView)(http.HandlerFunc(h.GetResources))).Methods("GET")
	router.Handle("/api/v1/metrics/resource-details/{client_id}/{resource_type}/{resource_id}",
		h.perms.Require(rbac.PermResourcesView)(http.HandlerFunc(h.GetResourceDetails))).Methods("GET")
	router.Handle("/api/v1/metrics/costs/{client_id}",
		h.perms.Require(rbac.PermResourcesCostsView)(http.HandlerFunc(h.GetCosts))).Methods("GET")
}

// GetResources handles GET /api/v1/metrics/resources/{client_id}.
// ?force_refresh=true bypasses the snapshot cache.
func (h *Handlers) GetResources(w http.ResponseWriter, r *http.Request) {
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

	if ok := h.checkClientVisibility(w, r, principal.UserID, clientID); !ok {
		return
	}

	forceRefresh, _ := strconv.ParseBool(r.URL.Query().Get("force_refresh"))

	resp, err := h.service.GetInventory(r.Context(), clientID, forceRefresh)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, resp)
}

// GetResourceDetails handles
// GET /api/v1/metrics/resource-details/{client_id}/{resource_type}/{resource_id}
func (h *Handlers) GetResourceDetails(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	vars := mux.Vars(r)
	clientID, err := strconv.ParseInt(vars["client_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid client id")
		return
	}

	if ok := h.checkClientVisibility(w, r, principal.UserID, clientID); !ok {
		return
	}

	resp, err := h.service.GetResourceDetails(r.Context(), clientID, vars["resource_type"], vars["resource_id"])
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, resp)
}

// GetCosts handles GET /api/v1/metrics/costs/{client_id}?days=30
func (h *Handlers) GetCosts(w http.ResponseWriter, r *http.Request) {
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

	if ok := h.checkClientVisibility(w, r, principal.UserID, clientID); !ok {
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteBadRequest(w, "invalid days value")
			return
		}
		days = parsed
	}

	resp, err := h.service.GetCosts(r.Context(), clientID, days)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, resp)
}

// checkClientVisibility writes the authorization failure itself and reports
// whether the handler may proceed
func (h *Handlers) checkClientVisibility(w http.ResponseWriter, r *http.Request, userID, clientID int64) bool {
	canSee, err := h.engine.CanSeeClient(r.Context(), userID, clientID)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return false
	}
	if !canSee {
		rbac.WriteAuthzError(w, r, &rbac.ForbiddenError{ClientIDs: []int64{clientID}})
		return false
	}
	return true
}
