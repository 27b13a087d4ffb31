package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/conduit-foundation/conduit/internal/api/middleware"
	"github.com/conduit-foundation/conduit/internal/api/problem"
	"github.com/conduit-foundation/conduit/internal/broadcast"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
	"github.com/conduit-foundation/conduit/internal/metrics"
	"github.com/conduit-foundation/conduit/internal/telemetry"
)

// maxMessageBytes bounds a published message body.
const maxMessageBytes = 1 << 20

// defaultKeepAlive is the idle interval between SSE keep-alive comments.
const defaultKeepAlive = 30 * time.Second

type TopicsHandler struct {
	Channels    *channels.Service
	Keys        *keys.Service
	Broadcaster *broadcast.Broadcaster
	Env         string

	// KeepAlive overrides the SSE keep-alive interval; zero means default.
	KeepAlive time.Duration
}

func NewTopicsHandler(channelsService *channels.Service, keysService *keys.Service, broadcaster *broadcast.Broadcaster, env string) *TopicsHandler {
	return &TopicsHandler{
		Channels:    channelsService,
		Keys:        keysService,
		Broadcaster: broadcaster,
		Env:         env,
	}
}

var tracer = telemetry.GetTracer("github.com/conduit-foundation/conduit/internal/api/handlers")

type publishResponse struct {
	ID        string `json:"id"`
	Delivered int    `json:"delivered"`
}

// Publish handles POST /api/v1/topics/{name}. The message must satisfy the
// channel's schema; on rejection every violation is reported.
func (h *TopicsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "TopicsPublish")
	defer span.End()
	r = r.WithContext(ctx)

	channel, key, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if !key.IsPublisher() {
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Subscriber keys cannot publish", problem.ErrForbidden, h.Env)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Unreadable message body", err, h.Env)
		return
	}

	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Message is not valid JSON", err, h.Env)
		return
	}

	if !channel.IsValid(instance) {
		metrics.MessagesRejected.WithLabelValues(channel.Name).Inc()
		violations := channel.Validate(instance)
		problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeSchema, "Message violates channel schema", nil, h.Env,
			problem.WithErrors(map[string]interface{}{"violations": violations}))
		return
	}

	// SSE data lines cannot carry newlines, so the wire form is the
	// compact encoding regardless of how the publisher formatted the body.
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, body); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Message is not valid JSON", err, h.Env)
		return
	}

	msg, delivered := h.Broadcaster.Topic(channel.ID).Publish(compacted.Bytes())
	metrics.MessagesPublished.WithLabelValues(channel.Name).Inc()
	metrics.MessagesDelivered.WithLabelValues(channel.Name).Add(float64(delivered))
	span.SetAttributes(
		attribute.String("channel.name", channel.Name),
		attribute.Int("delivered", delivered),
	)

	writeJSON(w, http.StatusOK, publishResponse{ID: msg.ID, Delivered: delivered})
}

// Stream handles GET /api/v1/topics/{name} as a server-sent event stream.
// A subscriber that falls behind its backlog receives a terminal "lagged"
// event and must reconnect.
func (h *TopicsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	channel, key, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if !key.IsSubscriber() {
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Publisher keys cannot subscribe", problem.ErrForbidden, h.Env)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Streaming unsupported", nil, h.Env)
		return
	}

	sub := h.Broadcaster.Topic(channel.ID).Subscribe()
	defer sub.Cancel()

	metrics.SubscribersActive.WithLabelValues(channel.Name).Inc()
	defer metrics.SubscribersActive.WithLabelValues(channel.Name).Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		// A lag or shutdown beats any queued message.
		select {
		case <-ctx.Done():
			return
		case <-sub.Lagged():
			h.writeLagged(w, flusher, channel.Name)
			return
		case <-sub.Closed():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.Lagged():
			h.writeLagged(w, flusher, channel.Name)
			return
		case <-sub.Closed():
			return
		case msg := <-sub.Messages():
			if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", msg.ID, msg.Data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *TopicsHandler) writeLagged(w http.ResponseWriter, flusher http.Flusher, channelName string) {
	metrics.SubscribersLagged.WithLabelValues(channelName).Inc()
	_, _ = io.WriteString(w, "event: lagged\ndata: subscriber fell behind\n\n")
	flusher.Flush()
}

// resolve authenticates the request key against the named channel. The
// channel name comes from the path; the key from the auth middleware.
func (h *TopicsHandler) resolve(w http.ResponseWriter, r *http.Request) (*channels.Channel, keys.Key, bool) {
	if h.Channels == nil || h.Keys == nil || h.Broadcaster == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", nil, h.Env)
		return nil, keys.Key{}, false
	}

	key, ok := middleware.RequestKey(r)
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, h.Env)
		return nil, keys.Key{}, false
	}

	name := pathParam(r, "name")
	if name == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Missing channel name", nil, h.Env)
		return nil, keys.Key{}, false
	}

	channel, err := h.Channels.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, channels.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Channel not found", err, h.Env)
			return nil, keys.Key{}, false
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return nil, keys.Key{}, false
	}

	granted, err := h.Keys.Authorizes(r.Context(), key, channel.ID)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return nil, keys.Key{}, false
	}
	if !granted {
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Key is not granted this channel", problem.ErrForbidden, h.Env)
		return nil, keys.Key{}, false
	}

	return channel, key, true
}
