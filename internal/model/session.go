package model

import "time"

// RefreshSession is the server-side record of one login session. TokenHash
// is the hex SHA-256 of the only refresh token that may currently be redeemed.
type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	RotatedAt time.Time
	ExpiresAt time.Time
}

func (s RefreshSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuthResult is returned by register, login and password change.
type AuthResult struct {
	User         Profile   `json:"user"`
	AccessToken  string    `json:"accessToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int64     `json:"expiresIn"`
	RefreshToken string    `json:"-"`
	RefreshExp   time.Time `json:"-"`
}

// RefreshResult is returned by the refresh endpoint.
type RefreshResult struct {
	AccessToken  string    `json:"accessToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int64     `json:"expiresIn"`
	RefreshToken string    `json:"-"`
	RefreshExp   time.Time `json:"-"`
}
