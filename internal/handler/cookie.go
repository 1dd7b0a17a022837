package handler

import (
	"net/http"
	"strings"
	"time"
)

const (
	RefreshCookieName = "refresh_token"
	RefreshCookiePath = "/api/v1/auth/session"
)

// CookieConfig controls the refresh cookie. The cookie is always HttpOnly
// and SameSite=Strict and scoped to the refresh and logout routes.
type CookieConfig struct {
	Secure bool
	now    func() time.Time
}

func NewCookieConfig(secure bool) CookieConfig {
	return CookieConfig{Secure: secure, now: time.Now}
}

func (c CookieConfig) setRefresh(w http.ResponseWriter, value string, expiresAt time.Time) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}

	maxAge := int(expiresAt.Sub(now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     RefreshCookiePath,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c CookieConfig) clearRefresh(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func readRefresh(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
