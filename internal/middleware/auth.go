package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go-watchlist/internal/model"
	"go-watchlist/internal/token"
	"go-watchlist/pkg/apierror"
)

type accessVerifier interface {
	VerifyAccess(raw string) (*token.AccessClaims, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

type AuthMiddleware struct {
	verifier accessVerifier
}

func NewAuthMiddleware(verifier accessVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth admits requests carrying a valid access token in the
// Authorization header. Refresh tokens are never accepted here.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			writeError(w, apierror.Unauthenticated("missing or invalid authorization header"))
			return
		}

		claims, err := m.verifier.VerifyAccess(strings.TrimSpace(header[7:]))
		if err != nil {
			msg := "invalid access token"
			if errors.Is(err, model.ErrTokenExpired) {
				msg = "access token expired"
			}
			writeError(w, apierror.Unauthenticated(msg))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) RequireRoles(allowed ...model.Role) func(http.Handler) http.Handler {
	roleSet := map[model.Role]struct{}{}
	for _, role := range allowed {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, apierror.Unauthenticated(""))
				return
			}

			if _, exists := roleSet[claims.Role()]; !exists {
				writeError(w, apierror.Forbidden(""))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ContextWithClaims(ctx context.Context, claims *token.AccessClaims) context.Context {
	return context.WithValue(ctx, authClaimsContextKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*token.AccessClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*token.AccessClaims)
	return claims, ok && claims != nil
}
