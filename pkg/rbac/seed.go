package rbac

import (
	"context"
	"fmt"
	"time"
)

// roleDescriptions for the seeded roles
var roleDescriptions = map[string]string{
	RoleSuperadmin: "Full access to every permission; assignable only at bootstrap",
	RoleAdmin:      "Management access without role or system settings administration",
	RoleMember:     "Read access to assigned clients",
}

// Seed populates the permission catalog, the built-in roles, and their
// permission grants. Safe to run repeatedly.
func Seed(ctx context.Context, store *Store, now time.Time) error {
	for _, def := range Catalog {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO permissions (name, description, category)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`, def.Name, def.Description, def.Category)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", def.Name, err)
		}
	}

	for _, roleName := range []string{RoleSuperadmin, RoleAdmin, RoleMember} {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO roles (name, description, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`, roleName, roleDescriptions[roleName], now)
		if err != nil {
			return fmt.Errorf("failed to seed role %s: %w", roleName, err)
		}

		role, err := store.GetRoleByName(ctx, roleName)
		if err != nil {
			return err
		}

		for _, permission := range DefaultRolePermissions[roleName] {
			permID, err := store.permissionID(ctx, permission)
			if err != nil {
				return err
			}
			_, err = store.db.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				VALUES ($1, $2)
				ON CONFLICT (role_id, permission_id) DO NOTHING
			`, role.ID, permID)
			if err != nil {
				return fmt.Errorf("failed to seed grant %s -> %s: %w", roleName, permission, err)
			}
		}
	}

	return nil
}
