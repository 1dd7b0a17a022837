package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go-watchlist/internal/model"
	"go-watchlist/pkg/apierror"
)

const maxBodyBytes = 1 << 20

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.Success(data, meta))
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := classify(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(model.Failure(apiErr.Code, apiErr.Message, apiErr.Details))
}

func classify(err error) *apierror.APIError {
	var apiErr *apierror.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, model.ErrTokenReuse):
		return apierror.TokenReuse()
	case errors.Is(err, model.ErrInvalidCredentials):
		return apierror.InvalidCredentials()
	case errors.Is(err, model.ErrUnauthenticated),
		errors.Is(err, model.ErrTokenInvalid),
		errors.Is(err, model.ErrTokenExpired),
		errors.Is(err, model.ErrSessionNotFound):
		return apierror.Unauthenticated("")
	case errors.Is(err, model.ErrForbidden):
		return apierror.Forbidden("")
	case errors.Is(err, model.ErrEmailTaken):
		return apierror.Conflict("email already registered", "email")
	case errors.Is(err, model.ErrUsernameTaken):
		return apierror.Conflict("username already taken", "username")
	case errors.Is(err, model.ErrUserNotFound):
		return apierror.NotFound("user not found", "")
	case errors.Is(err, model.ErrInvalidInput):
		return apierror.New(apierror.CodeBadRequest, "invalid input", "", http.StatusBadRequest)
	case errors.Is(err, model.ErrSigning):
		slog.Error("token signing failed", "error", err)
		return apierror.Internal()
	default:
		slog.Error("unhandled error in writeError", "error", err)
		return apierror.Internal()
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return apierror.New(apierror.CodeBadRequest, "invalid JSON body", "", http.StatusBadRequest)
	}
	return nil
}

func parseIntOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func writeBody(w http.ResponseWriter, body any) {
	_ = json.NewEncoder(w).Encode(body)
}
