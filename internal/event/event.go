package event

import "time"

type Type string

const (
	TypeRegistered      Type = "auth.register"
	TypeLoginSucceeded  Type = "auth.login"
	TypeLoginFailed     Type = "auth.login_failed"
	TypeRefreshed       Type = "auth.refresh"
	TypeReuseDetected   Type = "auth.refresh_reuse"
	TypeLoggedOut       Type = "auth.logout"
	TypePasswordChanged Type = "auth.password_change"
	TypeProfileUpdated  Type = "auth.profile_update"
)

// Event describes something that happened to a session or identity.
type Event struct {
	ID        string
	Type      Type
	UserID    string
	Role      string
	SessionID string
	IP        string
	Detail    string
	Timestamp time.Time
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
