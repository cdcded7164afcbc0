package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/cloudscope/pkg/audit"
	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/httputil"
	"github.com/platinummonkey/cloudscope/pkg/rbac"
)

// Handlers exposes login, user, and client management over HTTP
type Handlers struct {
	store       *Store
	engine      *rbac.Engine
	tokens      *auth.TokenManager
	auditLogger audit.Logger
}

// NewHandlers creates identity handlers
func NewHandlers(store *Store, engine *rbac.Engine, tokens *auth.TokenManager, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	return &Handlers{store: store, engine: engine, tokens: tokens, auditLogger: auditLogger}
}

// RegisterRoutes registers identity routes with a router. Login is mounted on
// the public router; everything else expects auth middleware upstream.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/api/v1/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/api/v1/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/api/v1/users/{id}", h.UpdateUser).Methods("PUT")
	router.HandleFunc("/api/v1/users/{id}", h.DeleteUser).Methods("DELETE")

	router.HandleFunc("/api/v1/clients", h.ListClients).Methods("GET")
	router.HandleFunc("/api/v1/clients", h.CreateClient).Methods("POST")
	router.HandleFunc("/api/v1/clients/{id}", h.GetClient).Methods("GET")
	router.HandleFunc("/api/v1/clients/{id}", h.UpdateClient).Methods("PUT")
	router.HandleFunc("/api/v1/clients/{id}", h.DeleteClient).Methods("DELETE")
	router.HandleFunc("/api/v1/clients/{id}/test", h.TestClientConnection).Methods("POST")
}

// RegisterPublicRoutes registers the unauthenticated login route
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/auth/login", h.Login).Methods("POST")
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !user.IsActive || !auth.CheckPassword(user.HashedPassword, req.Password) {
		h.auditLogger.LogAuthentication(r.Context(), audit.EventTypeAuthLoginFailed,
			nil, req.Username, audit.EventStatusFailure, "invalid credentials")
		httputil.WriteUnauthorized(w, "invalid username or password")
		return
	}

	token, expiresAt, err := h.tokens.IssueToken(user.ID, user.Username, user.Role)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditLogger.LogAuthentication(r.Context(), audit.EventTypeAuthLogin,
		&user.ID, user.Username, audit.EventStatusSuccess, "login succeeded")

	httputil.WriteSuccess(w, map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
		"user":         user,
	})
}

// ListUsers handles GET /api/v1/users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, rbac.PermUsersView); !ok {
		return
	}

	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if users == nil {
		users = []*User{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// CreateUser handles POST /api/v1/users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, rbac.PermUsersCreate)
	if !ok {
		return
	}

	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}
	if req.Role == "" {
		req.Role = rbac.RoleMember
	}

	// Handing out any role above the default requires the role-management
	// permission on top of users.create
	if !strings.EqualFold(req.Role, rbac.RoleMember) {
		if err := h.engine.Authorize(r.Context(), principal.UserID, rbac.PermUsersManageRoles); err != nil {
			rbac.WriteAuthzError(w, r, err)
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	user := &User{
		Username:       req.Username,
		Email:          req.Email,
		Role:           strings.ToLower(req.Role),
		HashedPassword: hash,
	}
	if err := h.store.CreateUser(r.Context(), user, time.Now().UTC()); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.auditLogger.LogAdminAction(r.Context(), audit.EventTypeAdminUserCreate,
		&principal.UserID, audit.ResourceTypeUser, strconv.FormatInt(user.ID, 10),
		fmt.Sprintf("created user %s with role %s", user.Username, user.Role))

	httputil.WriteCreated(w, user)
}

// GetUser handles GET /api/v1/users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	// Self-view is always allowed
	if principal.UserID != id {
		if err := h.engine.Authorize(r.Context(), principal.UserID, rbac.PermUsersView); err != nil {
			rbac.WriteAuthzError(w, r, err)
			return
		}
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// UpdateUser handles PUT /api/v1/users/{id}
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, rbac.PermUsersEdit)
	if !ok {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	var req struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
		Role     *string `json:"role"`
		IsActive *bool   `json:"is_active"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if req.Role != nil {
		if err := h.engine.Authorize(r.Context(), principal.UserID, rbac.PermUsersManageRoles); err != nil {
			rbac.WriteAuthzError(w, r, err)
			return
		}
	}

	user, err := h.store.UpdateUser(r.Context(), id, &UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Role:     req.Role,
		IsActive: req.IsActive,
	}, time.Now().UTC())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	eventType := audit.EventTypeAdminUserUpdate
	if req.Role != nil {
		eventType = audit.EventTypeAuthzRoleChange
	}
	h.auditLogger.LogAdminAction(r.Context(), eventType,
		&principal.UserID, audit.ResourceTypeUser, strconv.FormatInt(id, 10),
		fmt.Sprintf("updated user %d", id))

	httputil.WriteSuccess(w, user)
}

// DeleteUser handles DELETE /api/v1/users/{id}
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, rbac.PermUsersDelete)
	if !ok {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.auditLogger.LogAdminAction(r.Context(), audit.EventTypeAdminUserDelete,
		&principal.UserID, audit.ResourceTypeUser, strconv.FormatInt(id, 10),
		fmt.Sprintf("deleted user %d", id))

	httputil.WriteNoContent(w)
}

// ListClients handles GET /api/v1/clients. The response is filtered to the
// caller's visible set.
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, rbac.PermClientsView)
	if !ok {
		return
	}

	visible, err := h.engine.VisibleClients(r.Context(), principal.UserID)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return
	}

	clients, err := h.store.ListClients(r.Context(), visible)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"clients": clients})
}

// CreateClient handles POST /api/v1/clients
func (h *Handlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePermission(w, r, rbac.PermClientsCreate)
	if !ok {
		return
	}

	var req struct {
		Name     string                 `json:"name"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	client := &Client{Name: req.Name, Metadata: req.Metadata}
	if err := h.store.CreateClient(r.Context(), client, time.Now().UTC()); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditLogger.LogAdminAction(r.Context(), audit.EventTypeClientCreate,
		&principal.UserID, audit.ResourceTypeClient, strconv.FormatInt(client.ID, 10),
		fmt.Sprintf("created client %s (%s)", client.Name, client.Provider))

	httputil.WriteCreated(w, client)
}

// GetClient handles GET /api/v1/clients/{id}
func (h *Handlers) GetClient(w http.ResponseWriter, r *http.Request) {
	principal, client, ok := h.visibleClient(w, r, rbac.PermClientsView)
	if !ok {
		return
	}
	_ = principal

	httputil.WriteSuccess(w, client)
}

// UpdateClient handles PUT /api/v1/clients/{id}
func (h *Handlers) UpdateClient(w http.ResponseWriter, r *http.Request) {
	principal, client, ok := h.visibleClient(w, r, rbac.PermClientsEdit)
	if !ok {
		return
	}

	var req struct {
		Name     *string                `json:"name"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	updated, err := h.store.UpdateClient(r.Context(), client.ID, &ClientUpdate{
		Name:     req.Name,
		Metadata: req.Metadata,
	}, time.Now().UTC())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.auditLogger.LogAdminAction(r.Context(), audit.EventTypeClientUpdate,
		&principal.UserID, audit.ResourceTypeClient, strconv.FormatInt(client.ID, 10),
		fmt.Sprintf("updated client %d", client.ID))

	httputil.WriteSuccess(w, updated)
}

// DeleteClient handles DELETE /api/v1/clients/{id}
func (h *Handlers) DeleteClient(w http.ResponseWriter, r *http.Request) {
	principal, client, ok := h.visibleClient(w, r, rbac.PermClientsDelete)
	if !ok {
		return
	}

	if err := h.store.DeleteClient(r.Context(), client.ID, time.Now().UTC()); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.auditLogger.LogAdminAction(r.Context(), audit.EventTypeClientDelete,
		&principal.UserID, audit.ResourceTypeClient, strconv.FormatInt(client.ID, 10),
		fmt.Sprintf("deleted client %d", client.ID))

	httputil.WriteNoContent(w)
}

// TestClientConnection handles POST /api/v1/clients/{id}/test. Validates
// credential field presence without calling the provider.
func (h *Handlers) TestClientConnection(w http.ResponseWriter, r *http.Request) {
	_, client, ok := h.visibleClient(w, r, rbac.PermClientsView)
	if !ok {
		return
	}

	httputil.WriteSuccess(w, TestCredentials(client))
}

// visibleClient authenticates, authorizes, loads the client, and enforces
// the caller's visible set in one step
func (h *Handlers) visibleClient(w http.ResponseWriter, r *http.Request, permission string) (*auth.Principal, *Client, bool) {
	principal, ok := h.requirePermission(w, r, permission)
	if !ok {
		return nil, nil, false
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid client id")
		return nil, nil, false
	}

	client, err := h.store.GetClient(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return nil, nil, false
	}

	canSee, err := h.engine.CanSeeClient(r.Context(), principal.UserID, id)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return nil, nil, false
	}
	if !canSee {
		rbac.WriteAuthzError(w, r, &rbac.ForbiddenError{ClientIDs: []int64{id}})
		return nil, nil, false
	}

	return principal, client, true
}

func (h *Handlers) requirePermission(w http.ResponseWriter, r *http.Request, permission string) (*auth.Principal, bool) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}

	if err := h.engine.Authorize(r.Context(), principal.UserID, permission); err != nil {
		rbac.WriteAuthzError(w, r, err)
		return nil, false
	}

	return principal, true
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSuperadminAssignment), errors.Is(err, ErrBootstrapProtected):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrUsernameTaken):
		httputil.WriteConflict(w, err.Error())
	default:
		rbac.WriteAuthzError(w, r, err)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
