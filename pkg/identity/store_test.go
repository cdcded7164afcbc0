package identity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cloudscope/pkg/rbac"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			category TEXT
		)`,
		`CREATE TABLE role_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			UNIQUE (role_id, permission_id)
		)`,
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT,
			hashed_password TEXT NOT NULL,
			role_id INTEGER NOT NULL,
			assigned_client_id INTEGER,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT 'aws',
			metadata TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE user_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			granted_by INTEGER,
			granted_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, permission_id)
		)`,
		`CREATE TABLE user_clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			client_id INTEGER NOT NULL,
			access_level TEXT NOT NULL DEFAULT 'viewer',
			granted_by INTEGER,
			granted_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, client_id)
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	require.NoError(t, rbac.Seed(context.Background(), rbac.NewStore(db), time.Now().UTC()))

	return db
}

func TestCreateAndGetUser(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	user := &User{
		Username:       "alice",
		Email:          "alice@example.com",
		Role:           rbac.RoleMember,
		HashedPassword: "hash",
	}
	require.NoError(t, store.CreateUser(ctx, user, time.Now().UTC()))
	require.NotZero(t, user.ID)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, rbac.RoleMember, got.Role)
	assert.True(t, got.IsActive)

	byName, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
}

func TestCreateUserSuperadminRejected(t *testing.T) {
	store := NewStore(setupTestDB(t))

	err := store.CreateUser(context.Background(), &User{
		Username:       "mallory",
		Role:           rbac.RoleSuperadmin,
		HashedPassword: "hash",
	}, time.Now().UTC())
	assert.ErrorIs(t, err, ErrSuperadminAssignment)
}

func TestCreateUserUsernameTaken(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	first := &User{Username: "alice", Role: rbac.RoleMember, HashedPassword: "hash"}
	require.NoError(t, store.CreateUser(ctx, first, time.Now().UTC()))

	err := store.CreateUser(ctx, &User{
		Username: "alice", Role: rbac.RoleMember, HashedPassword: "hash",
	}, time.Now().UTC())
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUpdateUserRoleGuards(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	user := &User{Username: "alice", Role: rbac.RoleMember, HashedPassword: "hash"}
	require.NoError(t, store.CreateUser(ctx, user, time.Now().UTC()))

	role := rbac.RoleSuperadmin
	_, err := store.UpdateUser(ctx, user.ID, &UserUpdate{Role: &role}, time.Now().UTC())
	assert.ErrorIs(t, err, ErrSuperadminAssignment)

	role = rbac.RoleAdmin
	updated, err := store.UpdateUser(ctx, user.ID, &UserUpdate{Role: &role}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, updated.Role)
}

func TestBootstrapUserProtected(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.EnsureBootstrapUser(ctx, "root", "root@example.com", "hash", time.Now().UTC()))

	// Seeding again is a no-op
	require.NoError(t, store.EnsureBootstrapUser(ctx, "other", "other@example.com", "hash2", time.Now().UTC()))
	root, err := store.GetUser(ctx, rbac.BootstrapUserID)
	require.NoError(t, err)
	assert.Equal(t, "root", root.Username)
	assert.Equal(t, rbac.RoleSuperadmin, root.Role)

	role := rbac.RoleMember
	_, err = store.UpdateUser(ctx, rbac.BootstrapUserID, &UserUpdate{Role: &role}, time.Now().UTC())
	assert.ErrorIs(t, err, ErrBootstrapProtected)

	err = store.DeleteUser(ctx, rbac.BootstrapUserID)
	assert.ErrorIs(t, err, ErrBootstrapProtected)
}

func TestDeleteUser(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	user := &User{Username: "alice", Role: rbac.RoleMember, HashedPassword: "hash"}
	require.NoError(t, store.CreateUser(ctx, user, time.Now().UTC()))

	require.NoError(t, store.DeleteUser(ctx, user.ID))

	_, err := store.GetUser(ctx, user.ID)
	var notFound *rbac.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	err = store.DeleteUser(ctx, user.ID)
	assert.ErrorAs(t, err, &notFound)
}

func TestClientLifecycle(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	client := &Client{
		Name: "acme",
		Metadata: map[string]interface{}{
			"provider":     "azure",
			"tenantId":     "t-1",
			"clientId":     "c-1",
			"clientSecret": "s-1",
		},
	}
	require.NoError(t, store.CreateClient(ctx, client, time.Now().UTC()))
	require.NotZero(t, client.ID)
	assert.Equal(t, "azure", client.Provider)

	got, err := store.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "azure", got.ProviderName())
	assert.Equal(t, "t-1", got.Metadata["tenantId"])

	name := "acme-renamed"
	updated, err := store.UpdateClient(ctx, client.ID, &ClientUpdate{Name: &name}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "acme-renamed", updated.Name)
	assert.Equal(t, "t-1", updated.Metadata["tenantId"])

	require.NoError(t, store.DeleteClient(ctx, client.ID, time.Now().UTC()))

	active, err := store.ListActiveClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Deactivating twice reports not found
	err = store.DeleteClient(ctx, client.ID, time.Now().UTC())
	var notFound *rbac.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestListClientsByIDs(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"acme", "globex", "initech"} {
		require.NoError(t, store.CreateClient(ctx, &Client{Name: name}, time.Now().UTC()))
	}

	clients, err := store.ListClients(ctx, []int64{1, 3})
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "acme", clients[0].Name)
	assert.Equal(t, "initech", clients[1].Name)

	empty, err := store.ListClients(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestProviderNameDefault(t *testing.T) {
	c := &Client{Name: "acme"}
	assert.Equal(t, "aws", c.ProviderName())

	c.Metadata = map[string]interface{}{"provider": "GCP"}
	assert.Equal(t, "gcp", c.ProviderName())
}

func TestTestCredentials(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]interface{}
		ok       bool
	}{
		{
			name:     "aws complete",
			metadata: map[string]interface{}{"provider": "aws", "clientId": "k", "clientSecret": "s"},
			ok:       true,
		},
		{
			name:     "aws missing secret",
			metadata: map[string]interface{}{"provider": "aws", "clientId": "k"},
			ok:       false,
		},
		{
			name: "azure complete",
			metadata: map[string]interface{}{
				"provider": "azure", "tenantId": "t", "clientId": "c",
				"clientSecret": "s", "subscriptionId": "sub",
			},
			ok: true,
		},
		{
			name:     "azure incomplete",
			metadata: map[string]interface{}{"provider": "azure", "tenantId": "t"},
			ok:       false,
		},
		{
			name:     "gcp complete",
			metadata: map[string]interface{}{"provider": "gcp", "projectId": "p", "serviceAccountJson": "{}"},
			ok:       true,
		},
		{
			name:     "unknown provider",
			metadata: map[string]interface{}{"provider": "oraclecloud"},
			ok:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TestCredentials(&Client{Name: "c", Metadata: tt.metadata})
			assert.Equal(t, tt.ok, result.OK)
		})
	}
}
