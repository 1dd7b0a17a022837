package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-watchlist/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Insert(ctx context.Context, entry model.AuditEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_entries
		 (id, action, occurred_at, actor_user_id, actor_role, actor_ip, session_id, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, string(entry.Action), entry.OccurredAt,
		entry.Actor.UserID, string(entry.Actor.Role), entry.Actor.IP,
		entry.SessionID, entry.Detail)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = normalizeAuditQuery(query)

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if query.Action != "" {
		args = append(args, query.Action)
		where = append(where, fmt.Sprintf("lower(action) = lower($%d)", len(args)))
	}
	if query.ActorID != "" {
		args = append(args, query.ActorID)
		where = append(where, fmt.Sprintf("actor_user_id = $%d", len(args)))
	}
	if query.SessionID != "" {
		args = append(args, query.SessionID)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries`+clause, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count audit entries: %w", err)
	}

	args = append(args, query.Limit, (query.Page-1)*query.Limit)
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, action, occurred_at, actor_user_id, actor_role, actor_ip, session_id, detail
		 FROM audit_entries%s ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]model.AuditEntry, 0, query.Limit)
	for rows.Next() {
		var e model.AuditEntry
		var action, role string
		if err := rows.Scan(&e.ID, &action, &e.OccurredAt, &e.Actor.UserID, &role, &e.Actor.IP, &e.SessionID, &e.Detail); err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = model.AuditAction(action)
		e.Actor.Role = model.Role(role)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Meta{}, fmt.Errorf("iterate audit entries: %w", err)
	}

	return items, pageMeta(query, total), nil
}

func normalizeAuditQuery(query model.AuditQuery) model.AuditQuery {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	query.Action = strings.TrimSpace(query.Action)
	query.ActorID = strings.TrimSpace(query.ActorID)
	query.SessionID = strings.TrimSpace(query.SessionID)
	return query
}

func pageMeta(query model.AuditQuery, total int) model.Meta {
	return model.NewMeta(query.Page, query.Limit, total)
}
