package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	// setupTestDB already seeded once; a second run must not duplicate rows
	require.NoError(t, Seed(ctx, store, time.Now().UTC()))

	defs, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(Catalog))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)
}

func TestSeededRoleMatrices(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	super, err := store.GetRoleByName(ctx, RoleSuperadmin)
	require.NoError(t, err)
	superPerms, err := store.GetRolePermissionNames(ctx, super.ID)
	require.NoError(t, err)
	assert.Len(t, superPerms, len(Catalog))

	admin, err := store.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	adminPerms, err := store.GetRolePermissionNames(ctx, admin.ID)
	require.NoError(t, err)
	adminSet := NewPermissionSet(adminPerms...)
	assert.True(t, adminSet.Has(PermUsersCreate))
	assert.False(t, adminSet.Has(PermUsersManageRoles))
	assert.False(t, adminSet.Has(PermUsersDelete))
	assert.False(t, adminSet.Has(PermPermissionsManage))
	assert.False(t, adminSet.Has(PermSystemSettingsEdit))

	member, err := store.GetRoleByName(ctx, RoleMember)
	require.NoError(t, err)
	memberPerms, err := store.GetRolePermissionNames(ctx, member.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, DefaultRolePermissions[RoleMember], memberPerms)
}

func TestGetUserRoleNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	_, err := store.GetUserRole(context.Background(), 42)
	require.Error(t, err)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "user", notFound.Entity)
	assert.Equal(t, int64(42), notFound.ID)
}

func TestSuperadminRoleImmutable(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	err := store.GrantRolePermission(ctx, RoleSuperadmin, PermUsersView)
	assert.ErrorIs(t, err, ErrSuperadminImmutable)

	err = store.RevokeRolePermission(ctx, RoleSuperadmin, PermUsersView)
	assert.ErrorIs(t, err, ErrSuperadminImmutable)

	// The full grant set survives the attempts
	super, err := store.GetRoleByName(ctx, RoleSuperadmin)
	require.NoError(t, err)
	perms, err := store.GetRolePermissionNames(ctx, super.ID)
	require.NoError(t, err)
	assert.Len(t, perms, len(Catalog))
}

func TestBootstrapUserImmutable(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	createTestUser(t, db, BootstrapUserID, "root", RoleSuperadmin)

	err := store.GrantUserPermission(ctx, BootstrapUserID, PermUsersView, nil, time.Now().UTC())
	assert.ErrorIs(t, err, ErrBootstrapImmutable)

	err = store.RevokeUserPermission(ctx, BootstrapUserID, PermUsersView)
	assert.ErrorIs(t, err, ErrBootstrapImmutable)
}

func TestRoleGrantRevoke(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.GrantRolePermission(ctx, RoleMember, PermMetricsExport))
	// Granting again is a no-op
	require.NoError(t, store.GrantRolePermission(ctx, RoleMember, PermMetricsExport))

	member, err := store.GetRoleByName(ctx, RoleMember)
	require.NoError(t, err)
	perms, err := store.GetRolePermissionNames(ctx, member.ID)
	require.NoError(t, err)
	assert.Contains(t, perms, PermMetricsExport)

	require.NoError(t, store.RevokeRolePermission(ctx, RoleMember, PermMetricsExport))
	perms, err = store.GetRolePermissionNames(ctx, member.ID)
	require.NoError(t, err)
	assert.NotContains(t, perms, PermMetricsExport)
}

func TestUnknownPermissionRejected(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	createTestUser(t, db, 10, "alice", RoleMember)

	err := store.GrantRolePermission(ctx, RoleMember, "widgets.frobnicate")
	assert.ErrorIs(t, err, ErrUnknownPermission)

	err = store.GrantUserPermission(ctx, 10, "widgets.frobnicate", nil, time.Now().UTC())
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestAssignClientUpsert(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	createTestUser(t, db, 10, "alice", RoleMember)
	createTestClient(t, db, 1, "acme", true)

	grantedBy := int64(5)
	first := &ClientAssignment{
		UserID:      10,
		ClientID:    1,
		AccessLevel: AccessLevelViewer,
		GrantedBy:   &grantedBy,
	}
	require.NoError(t, store.AssignClient(ctx, first, time.Now().UTC()))
	require.NotZero(t, first.ID)

	// Re-assigning upgrades the access level in place
	second := &ClientAssignment{
		UserID:      10,
		ClientID:    1,
		AccessLevel: AccessLevelEditor,
		GrantedBy:   &grantedBy,
	}
	require.NoError(t, store.AssignClient(ctx, second, time.Now().UTC()))
	assert.Equal(t, first.ID, second.ID)

	assignments, err := store.ListAssignments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, AccessLevelEditor, assignments[0].AccessLevel)
}

func TestAssignClientInvalidAccessLevel(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	err := store.AssignClient(context.Background(), &ClientAssignment{
		UserID:      10,
		ClientID:    1,
		AccessLevel: "owner",
	}, time.Now().UTC())
	assert.Error(t, err)
}

func TestUnassignClientNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	err := store.UnassignClient(context.Background(), 10, 99)
	require.Error(t, err)

	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
