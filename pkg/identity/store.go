package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/cloudscope/pkg/rbac"
)

var (
	// ErrSuperadminAssignment is returned when a create/update tries to hand
	// out the superadmin role. Only bootstrap seeding may do that.
	ErrSuperadminAssignment = errors.New("superadmin role cannot be assigned")

	// ErrBootstrapProtected is returned on attempts to delete or re-role the
	// bootstrap user
	ErrBootstrapProtected = errors.New("bootstrap user cannot be modified")

	// ErrUsernameTaken is returned when the username is already in use
	ErrUsernameTaken = errors.New("username already taken")
)

// Store handles user and client persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new identity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for integration wiring
func (s *Store) DB() *sql.DB {
	return s.db
}

const userColumns = `u.id, u.username, u.email, u.hashed_password, u.role_id, r.name,
	u.assigned_client_id, u.is_active, u.created_at, u.updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	var email sql.NullString
	var assigned sql.NullInt64
	err := row.Scan(&u.ID, &u.Username, &email, &u.HashedPassword, &u.RoleID, &u.Role,
		&assigned, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	if assigned.Valid {
		id := assigned.Int64
		u.AssignedClientID = &id
	}
	return &u, nil
}

// CreateUser inserts a new user. The superadmin role is rejected here so no
// ordinary path can mint a second superadmin.
func (s *Store) CreateUser(ctx context.Context, u *User, now time.Time) error {
	if strings.EqualFold(u.Role, rbac.RoleSuperadmin) {
		return ErrSuperadminAssignment
	}

	var roleID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE name = $1`, u.Role).Scan(&roleID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("role not found: %s", u.Role)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve role: %w", err)
	}

	var taken bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, u.Username).Scan(&taken)
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if taken {
		return ErrUsernameTaken
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, hashed_password, role_id, assigned_client_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		RETURNING id
	`, u.Username, u.Email, u.HashedPassword, roleID, u.AssignedClientID, now).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	u.RoleID = roleID
	u.IsActive = true
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1
	`, id)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, &rbac.NotFoundError{Entity: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN roles r ON r.id = u.role_id
		WHERE u.username = $1
	`, username)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, &rbac.NotFoundError{Entity: "user", ID: 0}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN roles r ON r.id = u.role_id
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserUpdate carries the mutable user fields. Nil fields are left unchanged.
type UserUpdate struct {
	Username *string
	Email    *string
	Role     *string
	IsActive *bool
}

// UpdateUser applies a partial update. Role changes to superadmin and any
// change to the bootstrap user's role are rejected.
func (s *Store) UpdateUser(ctx context.Context, id int64, update *UserUpdate, now time.Time) (*User, error) {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	roleID := current.RoleID
	if update.Role != nil && !strings.EqualFold(*update.Role, current.Role) {
		if strings.EqualFold(*update.Role, rbac.RoleSuperadmin) {
			return nil, ErrSuperadminAssignment
		}
		if id == rbac.BootstrapUserID {
			return nil, ErrBootstrapProtected
		}
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM roles WHERE name = $1`, *update.Role).Scan(&roleID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("role not found: %s", *update.Role)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role: %w", err)
		}
	}

	username := current.Username
	if update.Username != nil {
		username = *update.Username
	}
	email := current.Email
	if update.Email != nil {
		email = *update.Email
	}
	isActive := current.IsActive
	if update.IsActive != nil {
		isActive = *update.IsActive
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET username = $1, email = $2, role_id = $3, is_active = $4, updated_at = $5
		WHERE id = $6
	`, username, email, roleID, isActive, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return s.GetUser(ctx, id)
}

// SetPassword updates a user's password hash
func (s *Store) SetPassword(ctx context.Context, id int64, hashedPassword string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET hashed_password = $1, updated_at = $2 WHERE id = $3`,
		hashedPassword, now, id)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return nil
}

// DeleteUser removes a user. The bootstrap user cannot be deleted.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if id == rbac.BootstrapUserID {
		return ErrBootstrapProtected
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &rbac.NotFoundError{Entity: "user", ID: id}
	}
	return nil
}

// EnsureBootstrapUser seeds the superadmin account with the fixed bootstrap
// ID if it does not exist. Safe to run repeatedly.
func (s *Store) EnsureBootstrapUser(ctx context.Context, username, email, hashedPassword string, now time.Time) error {
	role, err := s.roleByName(ctx, rbac.RoleSuperadmin)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, hashed_password, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, rbac.BootstrapUserID, username, email, hashedPassword, role, now)
	if err != nil {
		return fmt.Errorf("failed to seed bootstrap user: %w", err)
	}
	return nil
}

func (s *Store) roleByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("role not found: %s", name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve role: %w", err)
	}
	return id, nil
}

const clientColumns = `id, name, provider, metadata, is_active, created_at, updated_at`

func scanClient(row interface{ Scan(...interface{}) error }) (*Client, error) {
	var c Client
	var metadata []byte
	err := row.Scan(&c.ID, &c.Name, &c.Provider, &metadata, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode client metadata: %w", err)
		}
	}
	return &c, nil
}

// CreateClient inserts a new client. The provider column mirrors the
// metadata's provider field.
func (s *Store) CreateClient(ctx context.Context, c *Client, now time.Time) error {
	c.Provider = c.ProviderName()

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode client metadata: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO clients (name, provider, metadata, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		RETURNING id
	`, c.Name, c.Provider, metadata, now).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	c.IsActive = true
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, id int64) (*Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)

	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, &rbac.NotFoundError{Entity: "client", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// ListClients returns the active clients whose IDs are in the given set,
// preserving ID order. An empty set yields an empty list.
func (s *Store) ListClients(ctx context.Context, ids []int64) ([]*Client, error) {
	if len(ids) == 0 {
		return []*Client{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT `+clientColumns+` FROM clients WHERE id IN (%s) AND is_active = TRUE ORDER BY id`,
		strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients := []*Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ListActiveClients returns every active client
func (s *Store) ListActiveClients(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE is_active = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients := []*Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ClientUpdate carries the mutable client fields. Nil fields are left unchanged.
type ClientUpdate struct {
	Name     *string
	Metadata map[string]interface{}
}

// UpdateClient applies a partial update
func (s *Store) UpdateClient(ctx context.Context, id int64, update *ClientUpdate, now time.Time) (*Client, error) {
	current, err := s.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}

	name := current.Name
	if update.Name != nil {
		name = *update.Name
	}
	if update.Metadata != nil {
		current.Metadata = update.Metadata
	}
	provider := current.ProviderName()

	metadata, err := json.Marshal(current.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE clients SET name = $1, provider = $2, metadata = $3, updated_at = $4
		WHERE id = $5
	`, name, provider, metadata, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}

	return s.GetClient(ctx, id)
}

// DeleteClient deactivates a client. Snapshots and history are kept; the
// client drops out of every visible set.
func (s *Store) DeleteClient(ctx context.Context, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE clients SET is_active = FALSE, updated_at = $1 WHERE id = $2 AND is_active = TRUE`,
		now, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &rbac.NotFoundError{Entity: "client", ID: id}
	}
	return nil
}
