package rbac

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/cloudscope/pkg/audit"
	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/httputil"
)

// Handlers exposes permission and assignment management over HTTP
type Handlers struct {
	store       *Store
	engine      *Engine
	auditLogger audit.Logger
}

// NewHandlers creates authorization handlers
func NewHandlers(store *Store, engine *Engine, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	return &Handlers{store: store, engine: engine, auditLogger: auditLogger}
}

// RegisterRoutes registers authorization routes with a router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/api/v1/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/api/v1/roles/{name}/permissions", h.GetRolePermissions).Methods("GET")
	router.HandleFunc("/api/v1/roles/{name}/permissions", h.GrantRolePermission).Methods("POST")
	router.HandleFunc("/api/v1/roles/{name}/permissions/{permission}", h.RevokeRolePermission).Methods("DELETE")
	router.HandleFunc("/api/v1/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/api/v1/users/{id}/permissions", h.GrantUserPermission).Methods("POST")
	router.HandleFunc("/api/v1/users/{id}/permissions/{permission}", h.RevokeUserPermission).Methods("DELETE")
	router.HandleFunc("/api/v1/users/{id}/clients", h.ListUserClients).Methods("GET")
	router.HandleFunc("/api/v1/users/{id}/clients", h.AssignClient).Methods("PUT")
	router.HandleFunc("/api/v1/users/{id}/clients/{clientID}", h.UnassignClient).Methods("DELETE")
}

// ListPermissions handles GET /api/v1/permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, PermUsersView)
	if !ok {
		return
	}
	_ = principal

	defs, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"permissions": defs})
}

// ListRoles handles GET /api/v1/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, PermUsersView); !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// GetRolePermissions handles GET /api/v1/roles/{name}/permissions
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, PermUsersView); !ok {
		return
	}

	name := mux.Vars(r)["name"]
	role, err := h.store.GetRoleByName(r.Context(), name)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	perms, err := h.store.GetRolePermissionNames(r.Context(), role.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"role":        role.Name,
		"permissions": perms,
	})
}

// GrantRolePermission handles POST /api/v1/roles/{name}/permissions
func (h *Handlers) GrantRolePermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, PermPermissionsManage)
	if !ok {
		return
	}

	name := mux.Vars(r)["name"]

	var req struct {
		Permission string `json:"permission"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	if err := h.store.GrantRolePermission(r.Context(), name, req.Permission); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	h.auditLogger.LogAuthorization(r.Context(), audit.EventTypeAuthzPermissionGrant,
		&principal.UserID, audit.ResourceTypeRole, name,
		audit.EventStatusSuccess, fmt.Sprintf("granted %s to role %s", req.Permission, name))

	httputil.WriteSuccess(w, map[string]string{"status": "granted"})
}

// RevokeRolePermission handles DELETE /api/v1/roles/{name}/permissions/{permission}
func (h *Handlers) RevokeRolePermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, PermPermissionsManage)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	name := vars["name"]
	permission := vars["permission"]

	if err := h.store.RevokeRolePermission(r.Context(), name, permission); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	h.auditLogger.LogAuthorization(r.Context(), audit.EventTypeAuthzPermissionRevoke,
		&principal.UserID, audit.ResourceTypeRole, name,
		audit.EventStatusSuccess, fmt.Sprintf("revoked %s from role %s", permission, name))

	httputil.WriteNoContent(w)
}

// GetUserPermissions handles GET /api/v1/users/{id}/permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	// Users may always inspect their own effective permissions
	if principal.UserID != userID {
		if err := h.engine.Authorize(r.Context(), principal.UserID, PermUsersView); err != nil {
			WriteAuthzError(w, r, err)
			return
		}
	}

	perms, err := h.engine.EffectivePermissions(r.Context(), userID)
	if err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	overrides, err := h.store.GetUserOverrideNames(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if overrides == nil {
		overrides = []string{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"permissions": perms.List(),
		"overrides":   overrides,
	})
}

// GrantUserPermission handles POST /api/v1/users/{id}/permissions
func (h *Handlers) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, PermPermissionsManage)
	if !ok {
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	var req struct {
		Permission string `json:"permission"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	if err := h.store.GrantUserPermission(r.Context(), userID, req.Permission, &principal.UserID, time.Now().UTC()); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	h.auditLogger.LogAuthorization(r.Context(), audit.EventTypeAuthzPermissionGrant,
		&principal.UserID, audit.ResourceTypeUser, strconv.FormatInt(userID, 10),
		audit.EventStatusSuccess, fmt.Sprintf("granted %s to user %d", req.Permission, userID))

	httputil.WriteSuccess(w, map[string]string{"status": "granted"})
}

// RevokeUserPermission handles DELETE /api/v1/users/{id}/permissions/{permission}
func (h *Handlers) RevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, PermPermissionsManage)
	if !ok {
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}
	permission := mux.Vars(r)["permission"]

	if err := h.store.RevokeUserPermission(r.Context(), userID, permission); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	h.auditLogger.LogAuthorization(r.Context(), audit.EventTypeAuthzPermissionRevoke,
		&principal.UserID, audit.ResourceTypeUser, strconv.FormatInt(userID, 10),
		audit.EventStatusSuccess, fmt.Sprintf("revoked %s from user %d", permission, userID))

	httputil.WriteNoContent(w)
}

// ListUserClients handles GET /api/v1/users/{id}/clients
func (h *Handlers) ListUserClients(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	if principal.UserID != userID {
		if err := h.engine.Authorize(r.Context(), principal.UserID, PermUsersView); err != nil {
			WriteAuthzError(w, r, err)
			return
		}
	}

	assignments, err := h.store.ListAssignments(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if assignments == nil {
		assignments = []ClientAssignment{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"assignments": assignments,
	})
}

// AssignClient handles PUT /api/v1/users/{id}/clients
func (h *Handlers) AssignClient(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, PermClientsAssign)
	if !ok {
		return
	}

	targetID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	var req struct {
		ClientID    int64       `json:"client_id"`
		AccessLevel AccessLevel `json:"access_level"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.ClientID == 0 {
		httputil.WriteBadRequest(w, "client_id is required")
		return
	}
	if req.AccessLevel == "" {
		req.AccessLevel = AccessLevelViewer
	}

	if err := h.engine.CanAssignClient(r.Context(), principal.UserID, targetID, []int64{req.ClientID}); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	assignment := &ClientAssignment{
		UserID:      targetID,
		ClientID:    req.ClientID,
		AccessLevel: req.AccessLevel,
		GrantedBy:   &principal.UserID,
	}
	if err := h.store.AssignClient(r.Context(), assignment, time.Now().UTC()); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	h.auditLogger.LogAuthorization(r.Context(), audit.EventTypeClientAssign,
		&principal.UserID, audit.ResourceTypeClient, strconv.FormatInt(req.ClientID, 10),
		audit.EventStatusSuccess, fmt.Sprintf("assigned client %d to user %d", req.ClientID, targetID))

	httputil.WriteSuccess(w, assignment)
}

// UnassignClient handles DELETE /api/v1/users/{id}/clients/{clientID}
func (h *Handlers) UnassignClient(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, PermClientsAssign)
	if !ok {
		return
	}

	targetID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}
	clientID, err := pathID(r, "clientID")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid client id")
		return
	}

	if err := h.engine.CanAssignClient(r.Context(), principal.UserID, targetID, []int64{clientID}); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	if err := h.store.UnassignClient(r.Context(), targetID, clientID); err != nil {
		WriteAuthzError(w, r, err)
		return
	}

	h.auditLogger.LogAuthorization(r.Context(), audit.EventTypeClientUnassign,
		&principal.UserID, audit.ResourceTypeClient, strconv.FormatInt(clientID, 10),
		audit.EventStatusSuccess, fmt.Sprintf("unassigned client %d from user %d", clientID, targetID))

	httputil.WriteNoContent(w)
}

// requirePermission authenticates and authorizes a request in one step
func (h *Handlers) requirePermission(w http.ResponseWriter, r *http.Request, permission string) (*auth.Principal, bool) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}

	if err := h.engine.Authorize(r.Context(), principal.UserID, permission); err != nil {
		WriteAuthzError(w, r, err)
		return nil, false
	}

	return principal, true
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
