package middleware

import (
	"encoding/json"
	"net/http"

	"go-watchlist/internal/model"
	"go-watchlist/pkg/apierror"
)

func writeError(w http.ResponseWriter, apiErr *apierror.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(model.Failure(apiErr.Code, apiErr.Message, apiErr.Details))
}
