package repository

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-watchlist/internal/model"
)

// SessionRepository keeps refresh sessions in Postgres. Rotation serializes on
// the session row with SELECT ... FOR UPDATE.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s model.RefreshSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_sessions (id, user_id, token_hash, created_at, rotated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.TokenHash, s.CreatedAt, s.RotatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create refresh session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Rotate(ctx context.Context, userID string, sessionID string, presentedHash string, nextHash string, expiresAt time.Time) (model.RefreshSession, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.RefreshSession{}, fmt.Errorf("begin rotate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var s model.RefreshSession
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, token_hash, created_at, rotated_at, expires_at
		 FROM refresh_sessions WHERE id = $1 FOR UPDATE`, sessionID).
		Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.RotatedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RefreshSession{}, model.ErrSessionNotFound
	}
	if err != nil {
		return model.RefreshSession{}, fmt.Errorf("lock refresh session: %w", err)
	}

	now := time.Now().UTC()
	if s.UserID != userID || s.Expired(now) {
		if err := r.deleteAndCommit(ctx, tx, sessionID); err != nil {
			return model.RefreshSession{}, err
		}
		return model.RefreshSession{}, model.ErrSessionNotFound
	}

	if subtle.ConstantTimeCompare([]byte(s.TokenHash), []byte(presentedHash)) != 1 {
		if err := r.deleteAndCommit(ctx, tx, sessionID); err != nil {
			return model.RefreshSession{}, err
		}
		return model.RefreshSession{}, model.ErrTokenReuse
	}

	s.TokenHash = nextHash
	s.RotatedAt = now
	s.ExpiresAt = expiresAt
	if _, err := tx.Exec(ctx,
		`UPDATE refresh_sessions SET token_hash = $2, rotated_at = $3, expires_at = $4 WHERE id = $1`,
		s.ID, s.TokenHash, s.RotatedAt, s.ExpiresAt); err != nil {
		return model.RefreshSession{}, fmt.Errorf("rotate refresh session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.RefreshSession{}, fmt.Errorf("commit rotate: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) deleteAndCommit(ctx context.Context, tx pgx.Tx, sessionID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM refresh_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit revoke: %w", err)
	}
	return nil
}

func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("revoke all refresh sessions: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("clean expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
