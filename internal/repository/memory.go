package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go-watchlist/internal/model"
)

// MemoryUserRepository backs SESSION_STORE=memory deployments and tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[string]model.User{}}
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByIdentifier(_ context.Context, identifier string) (model.User, error) {
	identifier = strings.TrimSpace(identifier)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, identifier) || strings.EqualFold(u.Username, identifier) {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return model.ErrEmailTaken
		}
		if strings.EqualFold(existing.Username, u.Username) {
			return model.ErrUsernameTaken
		}
	}
	r.users[u.ID] = u
	return nil
}

func (r *MemoryUserRepository) UpdateProfile(_ context.Context, id string, update model.ProfileUpdate, at time.Time) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	if update.Name != nil {
		u.Name = *update.Name
	}
	if update.AvatarURL != nil {
		u.AvatarURL = *update.AvatarURL
	}
	u.UpdatedAt = at
	r.users[id] = u
	return u, nil
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, id string, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	r.users[id] = u
	return nil
}

func (r *MemoryUserRepository) List(_ context.Context) ([]model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (r *MemoryUserRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

// MemorySessionRepository holds refresh sessions behind one mutex, which makes
// every Rotate a check-and-swap.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]model.RefreshSession
	now      func() time.Time
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: map[string]model.RefreshSession{}, now: time.Now}
}

func (r *MemorySessionRepository) Create(_ context.Context, s model.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemorySessionRepository) Rotate(_ context.Context, userID string, sessionID string, presentedHash string, nextHash string, expiresAt time.Time) (model.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return model.RefreshSession{}, model.ErrSessionNotFound
	}

	now := r.now().UTC()
	if s.UserID != userID || s.Expired(now) {
		delete(r.sessions, sessionID)
		return model.RefreshSession{}, model.ErrSessionNotFound
	}
	if s.TokenHash != presentedHash {
		delete(r.sessions, sessionID)
		return model.RefreshSession{}, model.ErrTokenReuse
	}

	s.TokenHash = nextHash
	s.RotatedAt = now
	s.ExpiresAt = expiresAt
	r.sessions[sessionID] = s
	return s, nil
}

func (r *MemorySessionRepository) Revoke(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

func (r *MemorySessionRepository) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *MemorySessionRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	var removed int64
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live sessions.
func (r *MemorySessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Insert(_ context.Context, entry model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryAuditRepository) Query(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = normalizeAuditQuery(query)

	r.mu.Lock()
	matched := make([]model.AuditEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if query.Action != "" && !strings.EqualFold(string(e.Action), query.Action) {
			continue
		}
		if query.ActorID != "" && e.Actor.UserID != query.ActorID {
			continue
		}
		if query.SessionID != "" && e.SessionID != query.SessionID {
			continue
		}
		matched = append(matched, e)
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })

	total := len(matched)
	start := (query.Page - 1) * query.Limit
	if start > total {
		start = total
	}
	end := start + query.Limit
	if end > total {
		end = total
	}

	return matched[start:end], pageMeta(query, total), nil
}
