package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go-watchlist/internal/event"
	"go-watchlist/internal/model"
	"go-watchlist/internal/token"
	"go-watchlist/pkg/apierror"
)

type UserStore interface {
	Create(ctx context.Context, user model.User) error
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (model.User, error)
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate, at time.Time) (model.User, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error
	List(ctx context.Context) ([]model.User, error)
	Count(ctx context.Context) (int, error)
}

// SessionStore holds the one redeemable refresh token hash per session.
// Rotate must be an atomic check-and-swap: a hash mismatch deletes the
// session and reports model.ErrTokenReuse.
type SessionStore interface {
	Create(ctx context.Context, session model.RefreshSession) error
	Rotate(ctx context.Context, userID string, sessionID string, presentedHash string, nextHash string, expiresAt time.Time) (model.RefreshSession, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// RequestMeta carries request details that end up in security events.
type RequestMeta struct {
	IP string
}

type AuthService struct {
	users      UserStore
	sessions   SessionStore
	issuer     *token.Issuer
	bus        event.Bus
	bcryptCost int
	dummyHash  []byte
	now        func() time.Time
}

type AuthOption func(*AuthService)

func WithBcryptCost(cost int) AuthOption {
	return func(s *AuthService) {
		s.bcryptCost = cost
	}
}

func WithEventBus(bus event.Bus) AuthOption {
	return func(s *AuthService) {
		s.bus = bus
	}
}

func WithServiceClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		s.now = now
	}
}

func NewAuthService(users UserStore, sessions SessionStore, issuer *token.Issuer, opts ...AuthOption) (*AuthService, error) {
	if users == nil || sessions == nil || issuer == nil {
		return nil, errors.New("auth service requires users, sessions and issuer")
	}

	s := &AuthService{
		users:      users,
		sessions:   sessions,
		issuer:     issuer,
		bcryptCost: 12,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Compared against when the identifier is unknown so both failure paths
	// cost one bcrypt comparison.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = dummy

	return s, nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest, meta RequestMeta) (model.AuthResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return model.AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		Username:     strings.TrimSpace(req.Username),
		Role:         model.RoleUser,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, model.ErrEmailTaken):
			return model.AuthResult{}, apierror.Conflict("email already registered", "email")
		case errors.Is(err, model.ErrUsernameTaken):
			return model.AuthResult{}, apierror.Conflict("username already taken", "username")
		default:
			return model.AuthResult{}, err
		}
	}

	result, sessionID, err := s.startSession(ctx, user)
	if err != nil {
		return model.AuthResult{}, err
	}

	s.publish(event.TypeRegistered, user, sessionID, meta, "")
	return result, nil
}

// Login verifies the identifier (email or username) and password. Unknown
// identifiers and wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, identifier string, password string, meta RequestMeta) (model.AuthResult, error) {
	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, model.ErrUserNotFound) {
			return model.AuthResult{}, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.publish(event.TypeLoginFailed, model.User{}, "", meta, "unknown identifier")
		return model.AuthResult{}, apierror.InvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.publish(event.TypeLoginFailed, user, "", meta, "password mismatch")
		return model.AuthResult{}, apierror.InvalidCredentials()
	}

	result, sessionID, err := s.startSession(ctx, user)
	if err != nil {
		return model.AuthResult{}, err
	}

	s.publish(event.TypeLoginSucceeded, user, sessionID, meta, "")
	return result, nil
}

// Refresh redeems a refresh token exactly once and returns its successor.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta RequestMeta) (model.RefreshResult, error) {
	claims, err := s.issuer.VerifyRefresh(rawRefresh)
	if err != nil {
		return model.RefreshResult{}, apierror.Unauthenticated("invalid or expired refresh token")
	}

	user, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			_ = s.sessions.Revoke(ctx, claims.SessionID())
			return model.RefreshResult{}, apierror.Unauthenticated("invalid or expired refresh token")
		}
		return model.RefreshResult{}, err
	}

	pair, err := s.issuer.Issue(user, claims.SessionID())
	if err != nil {
		return model.RefreshResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	_, err = s.sessions.Rotate(ctx, user.ID, claims.SessionID(), token.Hash(rawRefresh), token.Hash(pair.RefreshToken), pair.RefreshExpiresAt)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrTokenReuse):
		slog.Warn("refresh token reuse detected; session revoked",
			"user_id", user.ID, "session_id", claims.SessionID(), "client_ip", meta.IP)
		s.publish(event.TypeReuseDetected, user, claims.SessionID(), meta, "token_id="+claims.TokenID())
		return model.RefreshResult{}, apierror.TokenReuse()
	case errors.Is(err, model.ErrSessionNotFound):
		return model.RefreshResult{}, apierror.Unauthenticated("session is no longer active")
	default:
		return model.RefreshResult{}, err
	}

	s.publish(event.TypeRefreshed, user, claims.SessionID(), meta, "")
	return model.RefreshResult{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		RefreshToken: pair.RefreshToken,
		RefreshExp:   pair.RefreshExpiresAt,
	}, nil
}

// Logout revokes the session named by the refresh token, if it still
// verifies. It never fails from the caller's point of view.
func (s *AuthService) Logout(ctx context.Context, rawRefresh string, meta RequestMeta) {
	if strings.TrimSpace(rawRefresh) == "" {
		return
	}

	claims, err := s.issuer.VerifyRefresh(rawRefresh)
	if err != nil {
		return
	}

	if err := s.sessions.Revoke(ctx, claims.SessionID()); err != nil {
		slog.Error("revoke session on logout failed", "session_id", claims.SessionID(), "error", err)
		return
	}

	s.publish(event.TypeLoggedOut, model.User{ID: claims.UserID()}, claims.SessionID(), meta, "")
}

func (s *AuthService) Me(ctx context.Context, userID string) (model.Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.Profile{}, apierror.Unauthenticated("account no longer exists")
		}
		return model.Profile{}, err
	}
	return user.Profile(), nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req model.UpdateProfileRequest, meta RequestMeta) (model.Profile, error) {
	if req.Name == nil && req.AvatarURL == nil {
		return model.Profile{}, apierror.Validation("at least one of name or avatarUrl is required")
	}

	update := model.ProfileUpdate{AvatarURL: req.AvatarURL}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return model.Profile{}, apierror.Validation("name must not be blank")
		}
		update.Name = &name
	}

	user, err := s.users.UpdateProfile(ctx, userID, update, s.now().UTC())
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.Profile{}, apierror.Unauthenticated("account no longer exists")
		}
		return model.Profile{}, err
	}

	s.publish(event.TypeProfileUpdated, user, "", meta, "")
	return user.Profile(), nil
}

// ChangePassword replaces the password hash, revokes every session of the
// user and starts a fresh one for the caller.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest, meta RequestMeta) (model.AuthResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.AuthResult{}, apierror.Unauthenticated("account no longer exists")
		}
		return model.AuthResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return model.AuthResult{}, apierror.Validation("currentPassword is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.bcryptCost)
	if err != nil {
		return model.AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), s.now().UTC()); err != nil {
		return model.AuthResult{}, err
	}
	if err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return model.AuthResult{}, err
	}

	result, sessionID, err := s.startSession(ctx, user)
	if err != nil {
		return model.AuthResult{}, err
	}

	s.publish(event.TypePasswordChanged, user, sessionID, meta, "")
	return result, nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]model.Profile, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]model.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	return profiles, nil
}

// EnsureAdmin creates the initial admin account when the user table is empty.
func (s *AuthService) EnsureAdmin(ctx context.Context, email string, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil
	}

	count, err := s.users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := s.now().UTC()
	admin := model.User{
		ID:           uuid.NewString(),
		Name:         "Administrator",
		Email:        strings.TrimSpace(email),
		Username:     "admin",
		Role:         model.RoleAdmin,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	slog.Info("seeded default admin account", "email", admin.Email)
	return nil
}

// PurgeExpiredSessions removes sessions past their refresh expiry.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) {
	removed, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		slog.Error("purge expired sessions failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("purged expired sessions", "count", removed)
	}
}

// StartSessionCleanup runs PurgeExpiredSessions every interval until ctx ends.
func (s *AuthService) StartSessionCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PurgeExpiredSessions(ctx)
		}
	}
}

func (s *AuthService) startSession(ctx context.Context, user model.User) (model.AuthResult, string, error) {
	sessionID := uuid.NewString()
	pair, err := s.issuer.Issue(user, sessionID)
	if err != nil {
		return model.AuthResult{}, "", fmt.Errorf("issue tokens: %w", err)
	}

	now := s.now().UTC()
	if err := s.sessions.Create(ctx, model.RefreshSession{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: token.Hash(pair.RefreshToken),
		CreatedAt: now,
		RotatedAt: now,
		ExpiresAt: pair.RefreshExpiresAt,
	}); err != nil {
		return model.AuthResult{}, "", err
	}

	return model.AuthResult{
		User:         user.Profile(),
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		RefreshToken: pair.RefreshToken,
		RefreshExp:   pair.RefreshExpiresAt,
	}, sessionID, nil
}

func (s *AuthService) publish(typ event.Type, user model.User, sessionID string, meta RequestMeta, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:      typ,
		UserID:    user.ID,
		Role:      string(user.Role),
		SessionID: sessionID,
		IP:        meta.IP,
		Detail:    detail,
	})
}
