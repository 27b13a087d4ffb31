package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conduit-foundation/conduit/internal/api/problem"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
)

type ChannelsHandler struct {
	Service *channels.Service
	Env     string
}

func NewChannelsHandler(service *channels.Service, env string) *ChannelsHandler {
	return &ChannelsHandler{Service: service, Env: env}
}

type createChannelRequest struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type renameChannelRequest struct {
	Name string `json:"name"`
}

type changeSchemaRequest struct {
	Schema json.RawMessage `json:"schema"`
}

// List handles GET /api/v1/channels.
func (h *ChannelsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	items, err := h.Service.List(r.Context())
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// Create handles POST /api/v1/channels.
func (h *ChannelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if req.Name == "" || len(req.Schema) == 0 {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Name and schema are required", nil, h.Env)
		return
	}

	channel, err := h.Service.Create(r.Context(), req.Name, req.Schema)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, channel)
}

// Delete handles DELETE /api/v1/channels/{id}.
func (h *ChannelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Missing channel id", nil, h.Env)
		return
	}

	if err := h.Service.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Rename handles PATCH /api/v1/channels/{id}/name.
func (h *ChannelsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	id := pathParam(r, "id")
	var req renameChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if req.Name == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Name is required", nil, h.Env)
		return
	}

	channel, err := h.Service.Rename(r.Context(), id, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, channel)
}

// ChangeSchema handles PATCH /api/v1/channels/{id}/schema. The new schema
// governs future publishes only; live subscriptions are left alone.
func (h *ChannelsHandler) ChangeSchema(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	id := pathParam(r, "id")
	var req changeSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if len(req.Schema) == 0 {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Schema is required", nil, h.Env)
		return
	}

	channel, err := h.Service.ChangeSchema(r.Context(), id, req.Schema)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, channel)
}

func (h *ChannelsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, channels.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Channel not found", err, h.Env)
	case errors.Is(err, channels.ErrDuplicateName):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Channel name already in use", err, h.Env)
	case errors.Is(err, channels.ErrInvalidSchema):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Schema does not compile", err, h.Env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
	}
}
