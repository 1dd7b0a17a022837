package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows credentialed requests from the configured origins so the
// refresh cookie travels with cross-origin calls. Wildcards are dropped
// because browsers reject them together with credentials.
func CORS(origins []string) func(http.Handler) http.Handler {
	explicit := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin != "*" {
			explicit = append(explicit, origin)
		}
	}

	opts := cors.Options{
		AllowedOrigins:   explicit,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		MaxAge:           3600,
		AllowCredentials: true,
	}
	if len(explicit) == 0 {
		// rs/cors treats an empty list as "*"
		opts.AllowOriginFunc = func(string) bool { return false }
	}

	return cors.New(opts).Handler
}
