package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conduit-foundation/conduit/internal/api/problem"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
)

type KeysHandler struct {
	Service  *keys.Service
	Channels *channels.Service
	Env      string
}

func NewKeysHandler(service *keys.Service, channelsService *channels.Service, env string) *KeysHandler {
	return &KeysHandler{Service: service, Channels: channelsService, Env: env}
}

type createKeyRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type setChannelsRequest struct {
	Channels []string `json:"channels"`
}

type keyResponse struct {
	ID       string    `json:"id"`
	Type     keys.Type `json:"type"`
	Channels []string  `json:"channels"`
}

type createdKeyResponse struct {
	keyResponse
	// Token is the full bearer credential. It is shown exactly once.
	Token string `json:"token"`
}

// List handles GET /api/v1/keys.
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	items, err := h.Service.List(r.Context())
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]keyResponse, 0, len(items))
	for _, key := range items {
		resp, err := h.toResponse(r, key)
		if err != nil {
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
			return
		}
		out = append(out, resp)
	}

	writeJSON(w, http.StatusOK, out)
}

// Create handles POST /api/v1/keys. The response carries the plaintext
// token; no later endpoint can reproduce it.
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	keyType, err := keys.ParseType(req.Type)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Key type must be publisher or subscriber", err, h.Env)
		return
	}

	key, secret, err := h.Service.Create(r.Context(), keyType, req.Channels)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createdKeyResponse{
		keyResponse: keyResponse{ID: key.ID, Type: key.Type, Channels: normalize(req.Channels)},
		Token:       key.ID + ";" + secret,
	})
}

// Get handles GET /api/v1/keys/{id}.
func (h *KeysHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	key, err := h.Service.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.toResponse(r, key)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SetChannels handles PATCH /api/v1/keys/{id}. The access-edge set is
// replaced wholesale.
func (h *KeysHandler) SetChannels(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	id := pathParam(r, "id")
	var req setChannelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	if err := h.Service.SetChannels(r.Context(), id, req.Channels); err != nil {
		h.writeError(w, r, err)
		return
	}

	key, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.toResponse(r, key)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/v1/keys/{id}.
func (h *KeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return
	}

	if err := h.Service.Delete(r.Context(), pathParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *KeysHandler) toResponse(r *http.Request, key keys.Key) (keyResponse, error) {
	resp := keyResponse{ID: key.ID, Type: key.Type, Channels: []string{}}
	if h.Channels == nil {
		return resp, nil
	}
	granted, err := h.Channels.ListForKey(r.Context(), key.ID)
	if err != nil {
		return keyResponse{}, err
	}
	for _, channel := range granted {
		resp.Channels = append(resp.Channels, channel.ID)
	}
	return resp, nil
}

func (h *KeysHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, keys.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Key not found", err, h.Env)
	case errors.Is(err, channels.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Channel not found", err, h.Env)
	case errors.Is(err, keys.ErrUnknownChannel):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Unknown channel id", err, h.Env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
	}
}

func normalize(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
