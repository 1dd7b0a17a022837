package model

import "time"

type AuditAction string

const (
	AuditLoginSucceeded  AuditAction = "auth.login"
	AuditLoginFailed     AuditAction = "auth.login_failed"
	AuditRegistered      AuditAction = "auth.register"
	AuditRefreshed       AuditAction = "auth.refresh"
	AuditReuseDetected   AuditAction = "auth.refresh_reuse"
	AuditLoggedOut       AuditAction = "auth.logout"
	AuditPasswordChanged AuditAction = "auth.password_change"
	AuditProfileUpdated  AuditAction = "auth.profile_update"
)

type AuditActor struct {
	UserID string `json:"userId,omitempty"`
	Role   Role   `json:"role,omitempty"`
	IP     string `json:"ip,omitempty"`
}

type AuditEntry struct {
	ID         string      `json:"id"`
	Action     AuditAction `json:"action"`
	OccurredAt time.Time   `json:"occurredAt"`
	Actor      AuditActor  `json:"actor"`
	SessionID  string      `json:"sessionId,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

type AuditQuery struct {
	Action    string
	ActorID   string
	SessionID string
	Page      int
	Limit     int
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}
