package handler

import (
	"net/http"
	"strings"

	"go-watchlist/internal/model"
	"go-watchlist/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List pages through security events, newest first. Filters combine:
// action, actorId and sessionId (to trace one login session end to end).
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	items, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		Action:    strings.TrimSpace(query.Get("action")),
		ActorID:   strings.TrimSpace(query.Get("actorId")),
		SessionID: strings.TrimSpace(query.Get("sessionId")),
		Page:      parseIntOrDefault(query.Get("page"), 1),
		Limit:     parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.AuditListData{Items: items}, &meta)
}
