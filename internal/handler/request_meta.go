package handler

import (
	"net/http"

	"go-watchlist/internal/middleware"
	"go-watchlist/internal/service"
	"go-watchlist/pkg/apierror"
)

func metaFromRequest(r *http.Request) service.RequestMeta {
	return service.RequestMeta{IP: middleware.ClientIP(r)}
}

// userIDFromRequest returns the subject of the verified access token.
func userIDFromRequest(r *http.Request) (string, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return "", apierror.Unauthenticated("")
	}
	return claims.UserID(), nil
}
