package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/cloudscope/pkg/audit"
	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/httputil"
	"github.com/platinummonkey/cloudscope/pkg/rbac"
)

// Handlers exposes the chat assistant over HTTP
type Handlers struct {
	service     *Service
	engine      *rbac.Engine
	auditLogger audit.Logger
}

// NewHandlers creates chat handlers
func NewHandlers(service *Service, engine *rbac.Engine, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	return &Handlers{service: service, engine: engine, auditLogger: auditLogger}
}

// RegisterRoutes registers chat routes. Auth middleware runs upstream.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/chat", h.Ask).Methods("POST")
	router.HandleFunc("/api/v1/chat/history/{client_id}", h.GetHistory).Methods("GET")
	router.HandleFunc("/api/v1/chat/history/{client_id}", h.ClearHistory).Methods("DELETE")
}

// Ask handles POST /api/v1/chat
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID int64  `json:"client_id"`
		Message  string `json:"message"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.ClientID == 0 || req.Message == "" {
		httputil.WriteBadRequest(w, "client_id and message are required")
		return
	}

	principal, ok := h.authorizeClient(w, r, rbac.PermChatAccess, req.ClientID)
	if !ok {
		return
	}

	reply, err := h.service.Ask(r.Context(), principal.UserID, req.ClientID, req.Message)
	if err != nil {
		if errors.Is(err, ErrAssistantUnavailable) {
			httputil.WriteServiceUnavailable(w, err.Error())
			return
		}
		rbac.WriteAuthzError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, reply)
}

// GetHistory handles GET /api/v1/chat/history/{client_id}?limit=
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(mux.Vars(r)["client_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid client id")
		return
	}

	if _, ok := h.authorizeClient(w, r, rbac.PermChatHistoryView, clientID); !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.service.History(r.Context(), clientID, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"messages": messages})
}

// ClearHistory handles DELETE /api/v1/chat/history/{client_id}
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(mux.Vars(r)["client_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid client id")
		return
	}

	principal, ok := h.authorizeClient(w, r, rbac.PermChatHistoryDelete, clientID)
	if !ok {
		return
	}

	deleted, err := h.service.Clear(r.Context(), clientID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditLogger.LogAdminAction(r.Context(), audit.EventTypeChatClear,
		&principal.UserID, audit.ResourceTypeChat, strconv.FormatInt(clientID, 10),
		fmt.Sprintf("cleared %d chat message(s)", deleted))

	httputil.WriteSuccess(w, map[string]interface{}{"deleted": deleted})
}

func (h *Handlers) authorizeClient(w http.ResponseWriter, r *http.Request, permission string, clientID int64) (*auth.Principal, bool) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}

	if err := h.engine.Authorize(r.Context(), principal.UserID, permission); err != nil {
		rbac.WriteAuthzError(w, r, err)
		return nil, false
	}

	canSee, err := h.engine.CanSeeClient(r.Context(), principal.UserID, clientID)
	if err != nil {
		rbac.WriteAuthzError(w, r, err)
		return nil, false
	}
	if !canSee {
		rbac.WriteAuthzError(w, r, &rbac.ForbiddenError{ClientIDs: []int64{clientID}})
		return nil, false
	}

	return principal, true
}
