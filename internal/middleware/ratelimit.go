package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go-watchlist/pkg/apierror"
)

// credentialPaths share the strict per-client budget.
var credentialPaths = map[string]struct{}{
	"/api/v1/auth/login":           {},
	"/api/v1/auth/register":        {},
	"/api/v1/auth/session/refresh": {},
}

type clientLimiter struct {
	general  *rate.Limiter
	auth     *rate.Limiter
	lastSeen time.Time
}

type RateLimitMiddleware struct {
	generalRPM int
	authLimit  int
	authWindow time.Duration
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	now        func() time.Time
}

// NewRateLimitMiddleware allows authLimit credential requests per authWindow
// and generalRPM requests per minute for everything else. generalRPM <= 0
// disables the general limit.
func NewRateLimitMiddleware(generalRPM int, authLimit int, authWindow time.Duration) *RateLimitMiddleware {
	if authLimit <= 0 {
		authLimit = 10
	}
	if authWindow <= 0 {
		authWindow = 15 * time.Minute
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authLimit:  authLimit,
		authWindow: authWindow,
		clients:    map[string]*clientLimiter{},
		now:        time.Now,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.getLimiter(ClientIP(r))

		target := limiter.general
		if _, ok := credentialPaths[strings.ToLower(strings.TrimRight(r.URL.Path, "/"))]; ok {
			target = limiter.auth
		}

		if target != nil {
			reservation := target.ReserveN(m.now(), 1)
			if delay := reservation.DelayFrom(m.now()); delay > 0 {
				reservation.CancelAt(m.now())
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				writeError(w, apierror.RateLimited())
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = now
		m.gcLocked(now)
		return limiter
	}

	created := &clientLimiter{
		auth:     rate.NewLimiter(rate.Every(m.authWindow/time.Duration(m.authLimit)), m.authLimit),
		lastSeen: now,
	}
	if m.generalRPM > 0 {
		created.general = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.generalRPM)), m.generalRPM)
	}
	m.clients[clientIP] = created
	m.gcLocked(now)

	return created
}

func (m *RateLimitMiddleware) gcLocked(now time.Time) {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := now.Add(-m.authWindow)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}
