package auth

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/cloudscope/pkg/contextkeys"
)

// Principal is the authenticated identity attached to a request
type Principal struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Claims is the JWT claim set issued at login
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// PrincipalFromRequest extracts the authenticated principal from a request,
// or nil when the request is unauthenticated
func PrincipalFromRequest(r *http.Request) *Principal {
	v := r.Context().Value(contextkeys.AuthKey)
	if v == nil {
		return nil
	}
	principal, ok := v.(*Principal)
	if !ok {
		return nil
	}
	return principal
}
