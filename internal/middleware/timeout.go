package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"go-watchlist/internal/model"
	"go-watchlist/pkg/apierror"
)

// Timeout bounds handler time. The body on expiry uses the regular error
// envelope so clients never see a bare text response.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	apiErr := apierror.Timeout()
	body, _ := json.Marshal(model.Failure(apiErr.Code, apiErr.Message, ""))

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(body))
	}
}
