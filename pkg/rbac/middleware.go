package rbac

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/cloudscope/pkg/audit"
	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/httputil"
)

// PermissionMiddleware gates routes on permissions
type PermissionMiddleware struct {
	engine *Engine
}

// NewPermissionMiddleware creates permission-checking middleware
func NewPermissionMiddleware(engine *Engine) *PermissionMiddleware {
	return &PermissionMiddleware{engine: engine}
}

// Require returns middleware that rejects requests whose principal lacks the
// permission. 401 for unauthenticated requests, 403 with the missing
// permission named for unauthorized ones.
func (m *PermissionMiddleware) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromRequest(r)
			if principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if err := m.engine.Authorize(r.Context(), principal.UserID, permission); err != nil {
				WriteAuthzError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteAuthzError maps authorization errors onto HTTP responses and records
// denials in the audit log
func WriteAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	var forbidden *ForbiddenError
	if errors.As(err, &forbidden) {
		if principal := auth.PrincipalFromRequest(r); principal != nil {
			audit.FromContext(r.Context()).LogAuthorization(
				r.Context(), audit.EventTypeAuthzAccessDenied, &principal.UserID,
				audit.ResourceTypePermission, forbidden.Permission,
				audit.EventStatusDenied, forbidden.Error(),
			)
		}
		httputil.WriteForbidden(w, forbidden.Error())
		return
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		httputil.WriteNotFoundError(w, notFound.Error())
		return
	}

	if errors.Is(err, ErrSuperadminImmutable) || errors.Is(err, ErrBootstrapImmutable) {
		httputil.WriteForbidden(w, err.Error())
		return
	}
	if errors.Is(err, ErrUnknownPermission) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteInternalError(w, err)
}
