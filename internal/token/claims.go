package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-watchlist/internal/model"
)

type accessWire struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Type string `json:"typ"`
}

type refreshWire struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
}

// AccessClaims can only be produced by Issuer.VerifyAccess.
type AccessClaims struct {
	userID    string
	role      model.Role
	tokenID   string
	issuedAt  time.Time
	expiresAt time.Time
}

func (c *AccessClaims) UserID() string { return c.userID }
func (c *AccessClaims) Role() model.Role { return c.role }
func (c *AccessClaims) TokenID() string { return c.tokenID }
func (c *AccessClaims) IssuedAt() time.Time { return c.issuedAt }
func (c *AccessClaims) ExpiresAt() time.Time { return c.expiresAt }
func (c *AccessClaims) IsAdmin() bool { return c.role == model.RoleAdmin }

// RefreshClaims can only be produced by Issuer.VerifyRefresh.
type RefreshClaims struct {
	userID    string
	sessionID string
	tokenID   string
	expiresAt time.Time
}

func (c *RefreshClaims) UserID() string { return c.userID }
func (c *RefreshClaims) SessionID() string { return c.sessionID }
func (c *RefreshClaims) TokenID() string { return c.tokenID }
func (c *RefreshClaims) ExpiresAt() time.Time { return c.expiresAt }
