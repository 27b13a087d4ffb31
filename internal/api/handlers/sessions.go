package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/conduit-foundation/conduit/internal/api/problem"
	"github.com/conduit-foundation/conduit/internal/auth"
	"github.com/conduit-foundation/conduit/internal/domain/sessions"
	"github.com/conduit-foundation/conduit/internal/domain/users"
	"github.com/conduit-foundation/conduit/internal/metrics"
)

// refreshCookie is the name of the HttpOnly cookie carrying the refresh
// token. The access token is never placed in a cookie.
const refreshCookie = "refresh_token"

type SessionsHandler struct {
	Service *sessions.Service
	Users   *users.Service
	Env     string
}

func NewSessionsHandler(service *sessions.Service, usersService *users.Service, env string) *SessionsHandler {
	return &SessionsHandler{Service: service, Users: usersService, Env: env}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/sessions. On success the refresh token is set
// as an HttpOnly cookie and the access token is returned in the body.
func (h *SessionsHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil || h.Users == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if req.Username == "" || req.Password == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Username and password are required", nil, h.Env)
		return
	}

	user, err := h.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) || errors.Is(err, users.ErrWrongPassword) {
			metrics.LoginsTotal.WithLabelValues("failure").Inc()
			problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid credentials", problem.ErrUnauthorized, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	session, refreshToken, err := h.Service.Login(r.Context(), user)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	h.setRefreshCookie(w, refreshToken, session.Expires)
	writeJSON(w, http.StatusCreated, session)
}

// Refresh handles POST /api/v1/sessions/refresh. A fresh access token is
// minted; the refresh cookie keeps its value and gets the new expiry.
func (h *SessionsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	cookie, err := r.Cookie(refreshCookie)
	if err != nil || cookie.Value == "" {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Missing refresh token", problem.ErrUnauthorized, h.Env)
		return
	}

	session, err := h.Service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unknown session", problem.ErrUnauthorized, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	h.setRefreshCookie(w, cookie.Value, session.Expires)
	writeJSON(w, http.StatusOK, session)
}

// Logout handles DELETE /api/v1/sessions. Always succeeds; the cookie is
// expired even when no matching session exists.
func (h *SessionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	if cookie, err := r.Cookie(refreshCookie); err == nil && cookie.Value != "" {
		if err := h.Service.Logout(r.Context(), cookie.Value); err != nil {
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
			return
		}
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Current handles GET /api/v1/sessions. The bearer access token identifies
// the session; the response carries no token.
func (h *SessionsHandler) Current(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	token, err := auth.BearerToken(r)
	if err != nil {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, h.Env)
		return
	}

	session, err := h.Service.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unknown session", problem.ErrUnauthorized, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *SessionsHandler) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *SessionsHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
