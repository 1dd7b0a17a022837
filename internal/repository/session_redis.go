package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go-watchlist/internal/model"
)

const (
	rotateNotFound int64 = 0
	rotateRotated  int64 = 1
	rotateMismatch int64 = 2
)

// KEYS[1] session hash, KEYS[2] owning user's session set.
// ARGV: user id, session id, presented hash, next hash, now ms, new expiry ms.
const rotateSessionScript = `
local data = redis.call("HMGET", KEYS[1], "user_id", "token_hash", "expires_at", "created_at")
if not data[1] then
  return {0}
end

if data[1] ~= ARGV[1] or tonumber(data[3]) <= tonumber(ARGV[5]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[2])
  return {0}
end

if data[2] ~= ARGV[3] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[2])
  return {2}
end

redis.call("HSET", KEYS[1], "token_hash", ARGV[4], "rotated_at", ARGV[5], "expires_at", ARGV[6])
redis.call("PEXPIREAT", KEYS[1], ARGV[6])
return {1, data[4]}
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

// RedisSessionRepository keeps refresh sessions in Redis hashes. Rotation is a
// single Lua script, so concurrent refreshes of one session serialize inside
// Redis. Expired sessions are dropped by key expiry.
type RedisSessionRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisSessionRepository(rdb redis.UniversalClient, prefix string) *RedisSessionRepository {
	if prefix == "" {
		prefix = "watchlist"
	}
	return &RedisSessionRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisSessionRepository) sessionKey(sessionID string) string {
	return r.prefix + ":session:" + sessionID
}

func (r *RedisSessionRepository) userKey(userID string) string {
	return r.prefix + ":user_sessions:" + userID
}

func (r *RedisSessionRepository) Create(ctx context.Context, s model.RefreshSession) error {
	key := r.sessionKey(s.ID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", s.UserID,
			"token_hash", s.TokenHash,
			"created_at", s.CreatedAt.UnixMilli(),
			"rotated_at", s.RotatedAt.UnixMilli(),
			"expires_at", s.ExpiresAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, s.ExpiresAt)
		pipe.SAdd(ctx, r.userKey(s.UserID), s.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create refresh session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Rotate(ctx context.Context, userID string, sessionID string, presentedHash string, nextHash string, expiresAt time.Time) (model.RefreshSession, error) {
	now := time.Now().UTC()
	res, err := rotateSessionLua.Run(ctx, r.rdb,
		[]string{r.sessionKey(sessionID), r.userKey(userID)},
		userID, sessionID, presentedHash, nextHash, now.UnixMilli(), expiresAt.UnixMilli(),
	).Slice()
	if err != nil {
		return model.RefreshSession{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	if len(res) == 0 {
		return model.RefreshSession{}, fmt.Errorf("rotate refresh session: empty script result")
	}

	status, _ := res[0].(int64)
	switch status {
	case rotateNotFound:
		return model.RefreshSession{}, model.ErrSessionNotFound
	case rotateMismatch:
		return model.RefreshSession{}, model.ErrTokenReuse
	case rotateRotated:
	default:
		return model.RefreshSession{}, fmt.Errorf("rotate refresh session: unexpected status %d", status)
	}

	s := model.RefreshSession{
		ID:        sessionID,
		UserID:    userID,
		TokenHash: nextHash,
		RotatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
		ExpiresAt: time.UnixMilli(expiresAt.UnixMilli()).UTC(),
	}
	if len(res) > 1 {
		if raw, ok := res[1].(string); ok {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.CreatedAt = time.UnixMilli(ms).UTC()
			}
		}
	}
	return s, nil
}

func (r *RedisSessionRepository) Revoke(ctx context.Context, sessionID string) error {
	key := r.sessionKey(sessionID)
	userID, err := r.rdb.HGet(ctx, key, "user_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("revoke refresh session: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.userKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	userKey := r.userKey(userID)
	sessionIDs, err := r.rdb.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("revoke all refresh sessions: %w", err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, r.sessionKey(id))
	}
	keys = append(keys, userKey)

	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke all refresh sessions: %w", err)
	}
	return nil
}

// DeleteExpired only prunes user session sets; the session hashes themselves
// carry a PEXPIREAT.
func (r *RedisSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	var removed int64
	iter := r.rdb.Scan(ctx, 0, r.prefix+":user_sessions:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := r.rdb.SMembers(ctx, userKey).Result()
		if err != nil {
			return removed, fmt.Errorf("clean expired sessions: %w", err)
		}
		for _, id := range ids {
			exists, err := r.rdb.Exists(ctx, r.sessionKey(id)).Result()
			if err != nil {
				return removed, fmt.Errorf("clean expired sessions: %w", err)
			}
			if exists == 0 {
				if err := r.rdb.SRem(ctx, userKey, id).Err(); err != nil {
					return removed, fmt.Errorf("clean expired sessions: %w", err)
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("clean expired sessions: %w", err)
	}
	return removed, nil
}
