package handler

import (
	"net/http"

	"go-watchlist/internal/model"
	"go-watchlist/internal/service"
	"go-watchlist/internal/validation"
	"go-watchlist/pkg/apierror"
)

type AuthHandler struct {
	service   *service.AuthService
	validator *validation.Validator
	cookies   CookieConfig
}

func NewAuthHandler(service *service.AuthService, validator *validation.Validator, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{service: service, validator: validator, cookies: cookies}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Register(r.Context(), payload, metaFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.setRefresh(w, result.RefreshToken, result.RefreshExp)
	writeSuccess(w, http.StatusCreated, result, nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), payload.Identifier, payload.Password, metaFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.setRefresh(w, result.RefreshToken, result.RefreshExp)
	writeSuccess(w, http.StatusOK, result, nil)
}

// Refresh redeems the refresh cookie. Any failure clears the cookie so the
// browser stops presenting a dead token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := readRefresh(r)
	if raw == "" {
		writeError(w, apierror.Unauthenticated("missing refresh token"))
		return
	}

	result, err := h.service.Refresh(r.Context(), raw, metaFromRequest(r))
	if err != nil {
		h.cookies.clearRefresh(w)
		writeError(w, err)
		return
	}

	h.cookies.setRefresh(w, result.RefreshToken, result.RefreshExp)
	writeSuccess(w, http.StatusOK, result, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), readRefresh(r), metaFromRequest(r))
	h.cookies.clearRefresh(w)
	writeSuccess(w, http.StatusOK, map[string]any{"loggedOut": true}, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.service.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, profile, nil)
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.UpdateProfileRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), userID, payload, metaFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, profile, nil)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.ChangePasswordRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.ChangePassword(r.Context(), userID, payload, metaFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.setRefresh(w, result.RefreshToken, result.RefreshExp)
	writeSuccess(w, http.StatusOK, result, nil)
}
