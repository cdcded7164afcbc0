// Package identity manages user accounts and clients (managed cloud tenants).
package identity

import (
	"strings"
	"time"
)

// User is an account that can authenticate and hold a role
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	HashedPassword string `json:"-"`
	RoleID         int64  `json:"-"`
	Role           string `json:"role"`

	// AssignedClientID is a deprecated column kept for schema compatibility.
	// Client visibility is determined by assignment rows only.
	AssignedClientID *int64 `json:"assigned_client_id,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is a managed cloud account (tenant). Metadata holds the provider
// name and provider-specific credential fields.
type Client struct {
	ID        int64                  `json:"id"`
	Name      string                 `json:"name"`
	Provider  string                 `json:"provider"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	IsActive  bool                   `json:"is_active"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ProviderName resolves the client's cloud provider, preferring the metadata
// field over the column and defaulting to aws
func (c *Client) ProviderName() string {
	if c.Metadata != nil {
		if p, ok := c.Metadata["provider"].(string); ok && p != "" {
			return strings.ToLower(p)
		}
	}
	if c.Provider != "" {
		return strings.ToLower(c.Provider)
	}
	return "aws"
}

// metadataString reads a string credential field from client metadata
func (c *Client) metadataString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata[key].(string)
	return s
}
