package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSuperadminImmutable is returned on attempts to edit the superadmin
	// role's permission set
	ErrSuperadminImmutable = errors.New("superadmin role permissions cannot be modified")

	// ErrBootstrapImmutable is returned on attempts to edit the bootstrap
	// user's permission overrides
	ErrBootstrapImmutable = errors.New("bootstrap user permissions cannot be modified")

	// ErrUnknownPermission is returned when a permission name is not in the catalog
	ErrUnknownPermission = errors.New("unknown permission")
)

// Store handles authorization data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new authorization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for integration wiring
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetUserRole returns the role assigned to a user
func (s *Store) GetUserRole(ctx context.Context, userID int64) (*Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_at
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1
	`

	var role Role
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&role.ID, &role.Name, &description, &role.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user role: %w", err)
	}
	role.Description = description.String

	return &role, nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `SELECT id, name, description, created_at FROM roles WHERE name = $1`

	var role Role
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&role.ID, &role.Name, &description, &role.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	role.Description = description.String

	return &role, nil
}

// ListRoles returns all roles
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var description sql.NullString
		if err := rows.Scan(&role.ID, &role.Name, &description, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.Description = description.String
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// ListPermissions returns the permission catalog
func (s *Store) ListPermissions(ctx context.Context) ([]PermissionDef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, category FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var defs []PermissionDef
	for rows.Next() {
		var def PermissionDef
		var description, category sql.NullString
		if err := rows.Scan(&def.Name, &description, &category); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		def.Description = description.String
		def.Category = category.String
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// GetRolePermissionNames returns the permission names granted to a role
func (s *Store) GetRolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	return scanNames(rows)
}

// GetUserOverrideNames returns a user's additive permission overrides
func (s *Store) GetUserOverrideNames(ctx context.Context, userID int64) ([]string, error) {
	query := `
		SELECT p.name
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.name
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user overrides: %w", err)
	}
	defer rows.Close()

	return scanNames(rows)
}

// GrantRolePermission grants a permission to a role. The superadmin role's
// permission set is immutable.
func (s *Store) GrantRolePermission(ctx context.Context, roleName, permission string) error {
	if roleName == RoleSuperadmin {
		return ErrSuperadminImmutable
	}

	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	permID, err := s.permissionID(ctx, permission)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`, role.ID, permID)
	if err != nil {
		return fmt.Errorf("failed to grant role permission: %w", err)
	}

	return nil
}

// RevokeRolePermission removes a permission from a role. The superadmin
// role's permission set is immutable.
func (s *Store) RevokeRolePermission(ctx context.Context, roleName, permission string) error {
	if roleName == RoleSuperadmin {
		return ErrSuperadminImmutable
	}

	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	permID, err := s.permissionID(ctx, permission)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2
	`, role.ID, permID)
	if err != nil {
		return fmt.Errorf("failed to revoke role permission: %w", err)
	}

	return nil
}

// GrantUserPermission adds an additive permission override for a user.
// Overrides for the bootstrap user are immutable.
func (s *Store) GrantUserPermission(ctx context.Context, userID int64, permission string, grantedBy *int64, now time.Time) error {
	if userID == BootstrapUserID {
		return ErrBootstrapImmutable
	}

	permID, err := s.permissionID(ctx, permission)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, permission_id) DO NOTHING
	`, userID, permID, grantedBy, now)
	if err != nil {
		return fmt.Errorf("failed to grant user permission: %w", err)
	}

	return nil
}

// RevokeUserPermission removes a user permission override. Overrides for the
// bootstrap user are immutable.
func (s *Store) RevokeUserPermission(ctx context.Context, userID int64, permission string) error {
	if userID == BootstrapUserID {
		return ErrBootstrapImmutable
	}

	permID, err := s.permissionID(ctx, permission)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2
	`, userID, permID)
	if err != nil {
		return fmt.Errorf("failed to revoke user permission: %w", err)
	}

	return nil
}

// ListClientIDs returns the IDs of all active clients
func (s *Store) ListClientIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM clients WHERE is_active = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// AssignedClientIDs returns the client IDs assigned to a user
func (s *Store) AssignedClientIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id FROM user_clients WHERE user_id = $1 ORDER BY client_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assigned clients: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// AssignClient grants a user visibility into a client. Re-assigning updates
// the access level.
func (s *Store) AssignClient(ctx context.Context, assignment *ClientAssignment, now time.Time) error {
	if !ValidAccessLevel(assignment.AccessLevel) {
		return fmt.Errorf("invalid access level: %s", assignment.AccessLevel)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_clients (user_id, client_id, access_level, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, client_id) DO UPDATE
		SET access_level = $3, granted_by = $4, granted_at = $5
		RETURNING id
	`, assignment.UserID, assignment.ClientID, assignment.AccessLevel,
		assignment.GrantedBy, now).Scan(&assignment.ID)
	if err != nil {
		return fmt.Errorf("failed to assign client: %w", err)
	}

	assignment.GrantedAt = now
	return nil
}

// UnassignClient removes a user's visibility into a client
func (s *Store) UnassignClient(ctx context.Context, userID, clientID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_clients WHERE user_id = $1 AND client_id = $2`, userID, clientID)
	if err != nil {
		return fmt.Errorf("failed to unassign client: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &NotFoundError{Entity: "assignment", ID: clientID}
	}

	return nil
}

// ListAssignments returns all client assignments for a user
func (s *Store) ListAssignments(ctx context.Context, userID int64) ([]ClientAssignment, error) {
	query := `
		SELECT id, user_id, client_id, access_level, granted_by, granted_at
		FROM user_clients
		WHERE user_id = $1
		ORDER BY client_id
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []ClientAssignment
	for rows.Next() {
		var a ClientAssignment
		var grantedBy sql.NullInt64
		if err := rows.Scan(&a.ID, &a.UserID, &a.ClientID, &a.AccessLevel, &grantedBy, &a.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if grantedBy.Valid {
			id := grantedBy.Int64
			a.GrantedBy = &id
		}
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// permissionID resolves a permission name to its catalog ID
func (s *Store) permissionID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM permissions WHERE name = $1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve permission: %w", err)
	}
	return id, nil
}

func scanNames(rows *sql.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
