package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conduit-foundation/conduit/internal/api/middleware"
	"github.com/conduit-foundation/conduit/internal/api/problem"
	"github.com/conduit-foundation/conduit/internal/domain/users"
)

type UsersHandler struct {
	Service *users.Service
	Env     string
}

func NewUsersHandler(service *users.Service, env string) *UsersHandler {
	return &UsersHandler{Service: service, Env: env}
}

type createUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type renameUserRequest struct {
	Name string `json:"name"`
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

// List handles GET /api/v1/users. The caller sees itself and every user of
// strictly lower privilege.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	items, err := h.Service.List(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// Create handles POST /api/v1/users. The new user lands one rank below the
// caller.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if req.Name == "" || req.Password == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Name and password are required", nil, h.Env)
		return
	}

	user, err := h.Service.Create(r.Context(), caller, req.Name, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Rename handles PATCH /api/v1/users/name for the calling user.
func (h *UsersHandler) Rename(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req renameUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if req.Name == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Name is required", nil, h.Env)
		return
	}

	user, err := h.Service.Rename(r.Context(), caller.ID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ChangePassword handles PATCH /api/v1/users/password for the calling user.
func (h *UsersHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if req.Password == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Password is required", nil, h.Env)
		return
	}

	if err := h.Service.ChangePassword(r.Context(), caller.ID, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/users/{id}. Only strictly lower-ranked
// users can be removed, and the root user never can.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), caller, pathParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *UsersHandler) caller(w http.ResponseWriter, r *http.Request) (users.User, bool) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return users.User{}, false
	}
	caller, ok := middleware.CurrentUser(r)
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, h.Env)
		return users.User{}, false
	}
	return caller, true
}

func (h *UsersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "User not found", err, h.Env)
	case errors.Is(err, users.ErrDuplicateName):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "User name already in use", err, h.Env)
	case errors.Is(err, users.ErrForbidden), errors.Is(err, users.ErrProtectedUser):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Forbidden", err, h.Env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
	}
}
