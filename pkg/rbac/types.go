package rbac

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Permission names follow the pattern "resource.action"
const (
	// User management
	PermUsersView        = "users.view"
	PermUsersCreate      = "users.create"
	PermUsersEdit        = "users.edit"
	PermUsersDelete      = "users.delete"
	PermUsersManageRoles = "users.manage_roles"

	// Permission management
	PermPermissionsManage = "permissions.manage"

	// Client (tenant) management
	PermClientsView   = "clients.view"
	PermClientsCreate = "clients.create"
	PermClientsEdit   = "clients.edit"
	PermClientsDelete = "clients.delete"
	PermClientsAssign = "clients.assign"

	// Metrics and recommendations
	PermMetricsView                 = "metrics.view"
	PermMetricsExport               = "metrics.export"
	PermMetricsRecommendationsView  = "metrics.recommendations.view"
	PermMetricsRecommendationsApply = "metrics.recommendations.apply"

	// Chat assistant
	PermChatAccess        = "chat.access"
	PermChatHistoryView   = "chat.history.view"
	PermChatHistoryDelete = "chat.history.delete"

	// System administration
	PermSystemSettingsView    = "system.settings.view"
	PermSystemSettingsEdit    = "system.settings.edit"
	PermSystemAuditLogsView   = "system.audit_logs.view"
	PermSystemReportsGenerate = "system.reports.generate"

	// Cloud resources
	PermResourcesView      = "resources.view"
	PermResourcesManage    = "resources.manage"
	PermResourcesCostsView = "resources.costs.view"
)

// Seeded role names. RoleSuperadmin holds every permission and is only
// assignable through bootstrap seeding.
const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleMember     = "member"
)

// BootstrapUserID is the seeded superadmin account whose permission
// overrides cannot be edited
const BootstrapUserID int64 = 1

// PermissionDef describes one entry in the permission catalog
type PermissionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Catalog is the full permission catalog, seeded at startup
var Catalog = []PermissionDef{
	{PermUsersView, "View user list and details", "users"},
	{PermUsersCreate, "Create new users in the system", "users"},
	{PermUsersEdit, "Edit user details and information", "users"},
	{PermUsersDelete, "Delete users from the system", "users"},
	{PermUsersManageRoles, "Assign and change user roles", "users"},
	{PermPermissionsManage, "Grant and revoke permissions", "users"},
	{PermClientsView, "View client/tenant list and details", "clients"},
	{PermClientsCreate, "Create new clients/tenants", "clients"},
	{PermClientsEdit, "Edit client details and configuration", "clients"},
	{PermClientsDelete, "Delete clients/tenants", "clients"},
	{PermClientsAssign, "Assign clients to users", "clients"},
	{PermMetricsView, "View metrics and dashboards", "metrics"},
	{PermMetricsExport, "Export metrics data", "metrics"},
	{PermMetricsRecommendationsView, "View cost recommendations", "metrics"},
	{PermMetricsRecommendationsApply, "Apply cost recommendations", "metrics"},
	{PermChatAccess, "Use the chat assistant", "chat"},
	{PermChatHistoryView, "View chat history", "chat"},
	{PermChatHistoryDelete, "Clear chat history", "chat"},
	{PermSystemSettingsView, "View system settings", "system"},
	{PermSystemSettingsEdit, "Edit system settings", "system"},
	{PermSystemAuditLogsView, "View system audit logs", "system"},
	{PermSystemReportsGenerate, "Generate system reports", "system"},
	{PermResourcesView, "View cloud resource inventory", "resources"},
	{PermResourcesManage, "Manage cloud resources", "resources"},
	{PermResourcesCostsView, "View cloud resource costs", "resources"},
}

// DefaultRolePermissions maps each seeded role to its permission grants
var DefaultRolePermissions = map[string][]string{
	RoleSuperadmin: allPermissionNames(),
	RoleAdmin: {
		PermUsersView, PermUsersCreate, PermUsersEdit,
		PermClientsView, PermClientsCreate, PermClientsEdit, PermClientsDelete, PermClientsAssign,
		PermMetricsView, PermMetricsExport, PermMetricsRecommendationsView, PermMetricsRecommendationsApply,
		PermChatAccess, PermChatHistoryView, PermChatHistoryDelete,
		PermSystemSettingsView, PermSystemAuditLogsView, PermSystemReportsGenerate,
		PermResourcesView, PermResourcesManage, PermResourcesCostsView,
	},
	RoleMember: {
		PermClientsView,
		PermMetricsView, PermMetricsRecommendationsView,
		PermChatAccess, PermChatHistoryView,
		PermResourcesView, PermResourcesCostsView,
	},
}

func allPermissionNames() []string {
	names := make([]string, 0, len(Catalog))
	for _, def := range Catalog {
		names = append(names, def.Name)
	}
	return names
}

// roleRanks orders the seeded roles by privilege. Unknown roles rank below
// member so only superadmins can manage them.
var roleRanks = map[string]int{
	RoleSuperadmin: 3,
	RoleAdmin:      2,
	RoleMember:     1,
}

// RoleRank returns the privilege rank of a role name
func RoleRank(name string) int {
	return roleRanks[strings.ToLower(name)]
}

// PermissionSet is a set of permission names
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission names
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the permission
func (s PermissionSet) Has(permission string) bool {
	_, ok := s[permission]
	return ok
}

// Add inserts a permission into the set
func (s PermissionSet) Add(permission string) {
	s[permission] = struct{}{}
}

// List returns the permissions in sorted order
func (s PermissionSet) List() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Role is a named permission bundle
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// AccessLevel is the per-assignment access level for a client
type AccessLevel string

const (
	AccessLevelViewer   AccessLevel = "viewer"
	AccessLevelEditor   AccessLevel = "editor"
	AccessLevelApprover AccessLevel = "approver"
)

// ValidAccessLevel reports whether the value is a known access level
func ValidAccessLevel(level AccessLevel) bool {
	switch level {
	case AccessLevelViewer, AccessLevelEditor, AccessLevelApprover:
		return true
	}
	return false
}

// ClientAssignment grants a user visibility into one client
type ClientAssignment struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	ClientID    int64       `json:"client_id"`
	AccessLevel AccessLevel `json:"access_level"`
	GrantedBy   *int64      `json:"granted_by,omitempty"`
	GrantedAt   time.Time   `json:"granted_at"`
}

// ForbiddenError is returned when an authorization check fails. It names the
// missing permission, the specific unauthorized client IDs, or the role
// conflict so callers can produce a precise 403.
type ForbiddenError struct {
	Permission   string
	ClientIDs    []int64
	RoleConflict string
}

func (e *ForbiddenError) Error() string {
	switch {
	case len(e.ClientIDs) > 0:
		ids := make([]string, len(e.ClientIDs))
		for i, id := range e.ClientIDs {
			ids[i] = fmt.Sprintf("%d", id)
		}
		return fmt.Sprintf("not authorized for clients: %s", strings.Join(ids, ", "))
	case e.RoleConflict != "":
		return e.RoleConflict
	default:
		return fmt.Sprintf("missing permission: %s", e.Permission)
	}
}

// NotFoundError is returned when a referenced entity does not exist
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}
