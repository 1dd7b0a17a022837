package authclient

import (
	"sync"
	"time"
)

type Status string

const (
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusRefreshing     Status = "refreshing"
	StatusExpired        Status = "expired"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == "admin" }

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Status      Status
	User        *User
	AccessToken string
	LastError   error
}

// Session is the client-side state machine. It holds the access token in
// memory only and performs no I/O: the Client and Transport drive it.
//
// Every logout bumps the epoch. Transitions that complete an operation
// started under an older epoch are dropped, so a refresh that finishes after
// a logout can never resurrect the session.
type Session struct {
	mu     sync.Mutex
	state  Snapshot
	epoch  uint64
	nextID int
	subs   map[int]chan Snapshot
}

func NewSession() *Session {
	return &Session{
		state: Snapshot{Status: StatusAnonymous},
		subs:  map[int]chan Snapshot{},
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// AccessToken returns the current token, empty unless authenticated or
// refreshing.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AccessToken
}

// Subscribe delivers every subsequent snapshot. Slow subscribers miss
// snapshots rather than block transitions.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot, 16)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// BeginLogin moves an anonymous session to authenticating.
func (s *Session) BeginLogin() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusAnonymous {
		return s.epoch, false
	}
	s.setLocked(Snapshot{Status: StatusAuthenticating})
	return s.epoch, true
}

func (s *Session) LoginSucceeded(epoch uint64, user *User, accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state.Status != StatusAuthenticating {
		return false
	}
	s.setLocked(Snapshot{Status: StatusAuthenticated, User: user, AccessToken: accessToken})
	return true
}

func (s *Session) LoginFailed(epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state.Status != StatusAuthenticating {
		return
	}
	s.setLocked(Snapshot{Status: StatusAnonymous, LastError: err})
}

// BeginRefresh starts a refresh of an authenticated session. The old access
// token stays readable while the refresh runs.
func (s *Session) BeginRefresh() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusAuthenticated {
		return s.epoch, false
	}
	next := s.copyLocked()
	next.Status = StatusRefreshing
	next.LastError = nil
	s.setLocked(next)
	return s.epoch, true
}

// BeginBootstrap starts the silent refresh an anonymous session attempts on
// startup, relying on a cookie left by an earlier run.
func (s *Session) BeginBootstrap() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusAnonymous {
		return s.epoch, false
	}
	s.setLocked(Snapshot{Status: StatusRefreshing})
	return s.epoch, true
}

// RefreshSucceeded installs a new access token. A nil user keeps the
// current one.
func (s *Session) RefreshSucceeded(epoch uint64, accessToken string, user *User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state.Status != StatusRefreshing {
		return false
	}
	if user == nil {
		user = s.state.User
	}
	s.setLocked(Snapshot{Status: StatusAuthenticated, User: user, AccessToken: accessToken})
	return true
}

// RefreshFailed expires the session and funnels it back to anonymous with
// all user data cleared. Subscribers see both states.
func (s *Session) RefreshFailed(epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state.Status != StatusRefreshing {
		return
	}
	s.setLocked(Snapshot{Status: StatusExpired, LastError: err})
	s.setLocked(Snapshot{Status: StatusAnonymous, LastError: err})
}

// BootstrapFailed settles a failed startup refresh directly in anonymous.
func (s *Session) BootstrapFailed(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state.Status != StatusRefreshing {
		return
	}
	s.setLocked(Snapshot{Status: StatusAnonymous})
}

// Replace swaps the credentials of an authenticated session, as after a
// password change or profile update.
func (s *Session) Replace(user *User, accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusAuthenticated {
		return false
	}
	next := s.copyLocked()
	if user != nil {
		next.User = user
	}
	if accessToken != "" {
		next.AccessToken = accessToken
	}
	s.setLocked(next)
	return true
}

// Logout clears the session from any state and invalidates every operation
// still in flight.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.setLocked(Snapshot{Status: StatusAnonymous})
}

func (s *Session) copyLocked() Snapshot {
	snap := s.state
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap
}

func (s *Session) setLocked(next Snapshot) {
	s.state = next
	snap := s.copyLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
