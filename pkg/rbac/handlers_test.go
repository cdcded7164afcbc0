package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/contextkeys"
)

func setupHandlerTest(t *testing.T) (*mux.Router, *Store) {
	t.Helper()

	db := setupTestDB(t)
	store := NewStore(db)
	engine := NewEngine(store)
	handlers := NewHandlers(store, engine, nil)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return router, store
}

func doRequest(router *mux.Router, principal *auth.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if principal != nil {
		req = req.WithContext(contextkeys.WithAuth(req.Context(), principal))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListPermissionsUnauthenticated(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doRequest(router, nil, "GET", "/api/v1/permissions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListPermissions(t *testing.T) {
	router, store := setupHandlerTest(t)
	createTestUser(t, store.DB(), 5, "bob", RoleAdmin)

	principal := &auth.Principal{UserID: 5, Username: "bob", Role: RoleAdmin}
	rec := doRequest(router, principal, "GET", "/api/v1/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Permissions []PermissionDef `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Permissions, len(Catalog))
}

func TestListPermissionsForbiddenNamesPermission(t *testing.T) {
	router, store := setupHandlerTest(t)
	createTestUser(t, store.DB(), 10, "alice", RoleMember)

	principal := &auth.Principal{UserID: 10, Username: "alice", Role: RoleMember}
	rec := doRequest(router, principal, "GET", "/api/v1/permissions", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), PermUsersView)
}

func TestGetRolePermissions(t *testing.T) {
	router, store := setupHandlerTest(t)
	createTestUser(t, store.DB(), 5, "bob", RoleAdmin)

	principal := &auth.Principal{UserID: 5, Username: "bob", Role: RoleAdmin}
	rec := doRequest(router, principal, "GET", "/api/v1/roles/member/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, RoleMember, resp.Role)
	assert.ElementsMatch(t, DefaultRolePermissions[RoleMember], resp.Permissions)
}

func TestGrantRolePermissionSuperadminForbidden(t *testing.T) {
	router, store := setupHandlerTest(t)
	createTestUser(t, store.DB(), 1, "root", RoleSuperadmin)

	principal := &auth.Principal{UserID: 1, Username: "root", Role: RoleSuperadmin}
	rec := doRequest(router, principal, "POST", "/api/v1/roles/superadmin/permissions",
		map[string]string{"permission": PermUsersView})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGrantAndRevokeUserPermission(t *testing.T) {
	router, store := setupHandlerTest(t)
	db := store.DB()
	createTestUser(t, db, 1, "root", RoleSuperadmin)
	createTestUser(t, db, 10, "alice", RoleMember)

	root := &auth.Principal{UserID: 1, Username: "root", Role: RoleSuperadmin}

	rec := doRequest(router, root, "POST", "/api/v1/users/10/permissions",
		map[string]string{"permission": PermMetricsExport})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, root, "GET", "/api/v1/users/10/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), PermMetricsExport)

	rec = doRequest(router, root, "DELETE",
		fmt.Sprintf("/api/v1/users/10/permissions/%s", PermMetricsExport), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(router, root, "GET", "/api/v1/users/10/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Overrides []string `json:"overrides"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Overrides)
}

func TestGetUserPermissionsSelfView(t *testing.T) {
	router, store := setupHandlerTest(t)
	createTestUser(t, store.DB(), 10, "alice", RoleMember)

	// Members lack users.view but may inspect their own permissions
	principal := &auth.Principal{UserID: 10, Username: "alice", Role: RoleMember}
	rec := doRequest(router, principal, "GET", "/api/v1/users/10/permissions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, principal, "GET", "/api/v1/users/11/permissions", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAssignClientOutsideVisibleSet(t *testing.T) {
	router, store := setupHandlerTest(t)
	db := store.DB()
	createTestUser(t, db, 5, "bob", RoleAdmin)
	createTestUser(t, db, 10, "alice", RoleMember)
	createTestClient(t, db, 1, "acme", true)
	createTestClient(t, db, 9, "globex", true)
	assignTestClient(t, db, 5, 1)

	bob := &auth.Principal{UserID: 5, Username: "bob", Role: RoleAdmin}
	rec := doRequest(router, bob, "PUT", "/api/v1/users/10/clients",
		map[string]interface{}{"client_id": 9})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not authorized for clients: 9")
}

func TestAssignAndUnassignClient(t *testing.T) {
	router, store := setupHandlerTest(t)
	db := store.DB()
	createTestUser(t, db, 1, "root", RoleSuperadmin)
	createTestUser(t, db, 10, "alice", RoleMember)
	createTestClient(t, db, 9, "globex", true)

	root := &auth.Principal{UserID: 1, Username: "root", Role: RoleSuperadmin}

	rec := doRequest(router, root, "PUT", "/api/v1/users/10/clients",
		map[string]interface{}{"client_id": 9, "access_level": "editor"})
	require.Equal(t, http.StatusOK, rec.Code)

	var assignment ClientAssignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assignment))
	assert.Equal(t, int64(9), assignment.ClientID)
	assert.Equal(t, AccessLevelEditor, assignment.AccessLevel)

	rec = doRequest(router, root, "DELETE", "/api/v1/users/10/clients/9", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(router, root, "DELETE", "/api/v1/users/10/clients/9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
