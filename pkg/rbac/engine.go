package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/cloudscope/pkg/observability"
)

// Engine makes authorization decisions. Permissions are recomputed from the
// store on every call so grants and revokes take effect immediately.
type Engine struct {
	store   *Store
	metrics *observability.Metrics
}

// NewEngine creates a new authorization engine
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// WithMetrics attaches decision metrics to the engine
func (e *Engine) WithMetrics(metrics *observability.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// EffectivePermissions returns the union of a user's role permissions and
// additive overrides
func (e *Engine) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	role, err := e.store.GetUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	rolePerms, err := e.store.GetRolePermissionNames(ctx, role.ID)
	if err != nil {
		return nil, err
	}

	overrides, err := e.store.GetUserOverrideNames(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := NewPermissionSet(rolePerms...)
	for _, name := range overrides {
		set.Add(name)
	}

	return set, nil
}

// HasPermission reports whether a user holds the given permission
func (e *Engine) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	perms, err := e.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return perms.Has(permission), nil
}

// Authorize returns a *ForbiddenError naming the missing permission when the
// user does not hold it. Authentication failures (401) are handled upstream.
func (e *Engine) Authorize(ctx context.Context, userID int64, permission string) error {
	allowed, err := e.HasPermission(ctx, userID, permission)
	if err != nil {
		return err
	}

	if e.metrics != nil {
		decision := "allowed"
		if !allowed {
			decision = "denied"
		}
		e.metrics.AuthzDecisionsTotal.WithLabelValues(permission, decision).Inc()
	}

	if !allowed {
		return &ForbiddenError{Permission: permission}
	}
	return nil
}

// VisibleClients returns the client IDs a user may act on. Superadmins see
// every active client; everyone else sees exactly their assignment rows.
func (e *Engine) VisibleClients(ctx context.Context, userID int64) ([]int64, error) {
	role, err := e.store.GetUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	if role.Name == RoleSuperadmin {
		return e.store.ListClientIDs(ctx)
	}

	ids, err := e.store.AssignedClientIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// CanSeeClient reports whether a client is in the user's visible set
func (e *Engine) CanSeeClient(ctx context.Context, userID, clientID int64) (bool, error) {
	visible, err := e.VisibleClients(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range visible {
		if id == clientID {
			return true, nil
		}
	}
	return false, nil
}

// CanAssignClient checks whether the actor may assign the given clients to
// the target user. Superadmins may assign anything. Other actors may only
// assign clients from their own visible set, and only to users with a
// strictly lower-privileged role. The returned *ForbiddenError lists the
// specific unauthorized client IDs or names the role conflict.
func (e *Engine) CanAssignClient(ctx context.Context, actorID, targetID int64, clientIDs []int64) error {
	actorRole, err := e.store.GetUserRole(ctx, actorID)
	if err != nil {
		return err
	}

	targetRole, err := e.store.GetUserRole(ctx, targetID)
	if err != nil {
		return err
	}

	if actorRole.Name == RoleSuperadmin {
		return nil
	}

	if RoleRank(targetRole.Name) >= RoleRank(actorRole.Name) {
		return &ForbiddenError{
			RoleConflict: fmt.Sprintf("cannot assign clients to a user with role %q", targetRole.Name),
		}
	}

	visible, err := e.VisibleClients(ctx, actorID)
	if err != nil {
		return err
	}

	visibleSet := make(map[int64]struct{}, len(visible))
	for _, id := range visible {
		visibleSet[id] = struct{}{}
	}

	var unauthorized []int64
	for _, id := range clientIDs {
		if _, ok := visibleSet[id]; !ok {
			unauthorized = append(unauthorized, id)
		}
	}

	if len(unauthorized) > 0 {
		return &ForbiddenError{ClientIDs: unauthorized}
	}

	return nil
}
