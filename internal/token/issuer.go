package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-watchlist/internal/model"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type Option func(*Issuer)

// WithClock replaces the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(secret string, issuer string, accessTTL time.Duration, refreshTTL time.Duration, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: signing secret is empty", model.ErrSigning)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token TTLs must be positive", model.ErrSigning)
	}
	if refreshTTL <= accessTTL {
		return nil, fmt.Errorf("%w: refresh TTL must exceed access TTL", model.ErrSigning)
	}

	i := &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// Issue mints an access/refresh pair for user bound to sessionID.
func (i *Issuer) Issue(user model.User, sessionID string) (Pair, error) {
	now := i.now().UTC()
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access, err := i.sign(accessWire{
		RegisteredClaims: i.registered(user.ID, now, accessExp),
		Role:             string(user.Role),
		Type:             typeAccess,
	})
	if err != nil {
		return Pair{}, err
	}

	refresh, err := i.sign(refreshWire{
		RegisteredClaims: i.registered(user.ID, now, refreshExp),
		SessionID:        sessionID,
		Type:             typeRefresh,
	})
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess is the only way to obtain AccessClaims.
func (i *Issuer) VerifyAccess(raw string) (*AccessClaims, error) {
	var wire accessWire
	if err := i.parse(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Type != typeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", model.ErrTokenInvalid, wire.Type)
	}

	role, ok := model.ParseRole(wire.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role", model.ErrTokenInvalid)
	}

	return &AccessClaims{
		userID:    wire.Subject,
		role:      role,
		tokenID:   wire.ID,
		issuedAt:  wire.IssuedAt.Time,
		expiresAt: wire.ExpiresAt.Time,
	}, nil
}

// VerifyRefresh is the only way to obtain RefreshClaims.
func (i *Issuer) VerifyRefresh(raw string) (*RefreshClaims, error) {
	var wire refreshWire
	if err := i.parse(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Type != typeRefresh {
		return nil, fmt.Errorf("%w: unexpected token type %q", model.ErrTokenInvalid, wire.Type)
	}
	if wire.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session", model.ErrTokenInvalid)
	}

	return &RefreshClaims{
		userID:    wire.Subject,
		sessionID: wire.SessionID,
		tokenID:   wire.ID,
		expiresAt: wire.ExpiresAt.Time,
	}, nil
}

// Hash is the form in which refresh tokens are stored.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (i *Issuer) registered(subject string, now time.Time, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrSigning, err)
	}
	return signed, nil
}

func (i *Issuer) parse(raw string, claims jwt.Claims) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty token", model.ErrTokenInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", model.ErrTokenExpired, err)
		}
		return fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return model.ErrTokenInvalid
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return fmt.Errorf("%w: missing subject", model.ErrTokenInvalid)
	}

	return nil
}
