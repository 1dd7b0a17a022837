package service

import (
	"context"
	"log/slog"
	"time"

	"go-watchlist/internal/event"
	"go-watchlist/internal/model"
)

type AuditStore interface {
	Insert(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// AuditService persists authentication events taken off the event bus.
type AuditService struct {
	store        AuditStore
	writeTimeout time.Duration
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store, writeTimeout: 5 * time.Second}
}

func (s *AuditService) Record(ctx context.Context, e event.Event) error {
	entry := model.AuditEntry{
		ID:         e.ID,
		Action:     model.AuditAction(e.Type),
		OccurredAt: e.Timestamp,
		Actor: model.AuditActor{
			UserID: e.UserID,
			Role:   model.Role(e.Role),
			IP:     e.IP,
		},
		SessionID: e.SessionID,
		Detail:    e.Detail,
	}

	return s.store.Insert(ctx, entry)
}

// Consume writes events until ctx is done or the channel closes. Write
// failures are logged and do not stop the loop.
func (s *AuditService) Consume(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
			if err := s.Record(writeCtx, e); err != nil {
				slog.Error("audit write failed", "type", e.Type, "user_id", e.UserID, "error", err)
			}
			cancel()
		}
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	return s.store.Query(ctx, query)
}
