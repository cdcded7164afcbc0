package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/httputil"
)

// Authorizer gates access to the audit log. Implemented by the rbac engine;
// declared here to avoid an import cycle.
type Authorizer interface {
	Authorize(ctx context.Context, userID int64, permission string) error
}

// PermAuditLogsView guards the audit log query endpoint
const PermAuditLogsView = "system.audit_logs.view"

// Handlers exposes the audit log over HTTP
type Handlers struct {
	store      *DBLogger
	authorizer Authorizer
}

// NewHandlers creates audit log handlers
func NewHandlers(store *DBLogger, authorizer Authorizer) *Handlers {
	return &Handlers{store: store, authorizer: authorizer}
}

// RegisterRoutes registers audit routes with a router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/audit-logs", h.QueryLogs).Methods("GET")
}

// QueryLogs handles GET /api/v1/audit-logs
func (h *Handlers) QueryLogs(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.authorizer.Authorize(r.Context(), principal.UserID, PermAuditLogsView); err != nil {
		httputil.WriteForbidden(w, err.Error())
		return
	}

	filter := parseSearchFilter(r)

	events, err := h.store.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if events == nil {
		events = []Event{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func parseSearchFilter(r *http.Request) SearchFilter {
	q := r.URL.Query()
	filter := SearchFilter{
		EventType:    EventType(q.Get("event_type")),
		Status:       EventStatus(q.Get("status")),
		ResourceType: ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
	}

	if v := q.Get("user_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.UserID = &id
		}
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	return filter
}
