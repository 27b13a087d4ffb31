// Package api wires the HTTP surface: management plane guarded by session
// auth, data plane guarded by key auth, and the operational endpoints.
package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/conduit-foundation/conduit/internal/api/handlers"
	"github.com/conduit-foundation/conduit/internal/api/middleware"
	"github.com/conduit-foundation/conduit/internal/broadcast"
	"github.com/conduit-foundation/conduit/internal/config"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
	"github.com/conduit-foundation/conduit/internal/domain/sessions"
	"github.com/conduit-foundation/conduit/internal/domain/users"
	"github.com/conduit-foundation/conduit/internal/metrics"
	"github.com/conduit-foundation/conduit/web"
)

// Deps carries everything the router needs. The caller owns the lifecycle
// of each dependency.
type Deps struct {
	Config      config.Config
	Logger      zerolog.Logger
	DB          handlers.Pinger
	Channels    *channels.Service
	Keys        *keys.Service
	Users       *users.Service
	Sessions    *sessions.Service
	Broadcaster *broadcast.Broadcaster
}

func NewRouter(deps Deps) http.Handler {
	env := deps.Config.Environment

	channelsHandler := handlers.NewChannelsHandler(deps.Channels, env)
	keysHandler := handlers.NewKeysHandler(deps.Keys, deps.Channels, env)
	usersHandler := handlers.NewUsersHandler(deps.Users, env)
	sessionsHandler := handlers.NewSessionsHandler(deps.Sessions, deps.Users, env)
	topicsHandler := handlers.NewTopicsHandler(deps.Channels, deps.Keys, deps.Broadcaster, env)

	rateLimit := middleware.RateLimit(deps.Config.RateLimit)
	sessionAuth := middleware.SessionAuth(deps.Sessions, env)
	keyAuth := middleware.KeyAuth(deps.Keys, env)

	limited := func(tier middleware.RateLimitTier, h http.Handler) http.Handler {
		return middleware.WithRateLimitTierHandler(tier)(rateLimit(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return limited(middleware.TierAdmin, sessionAuth(h))
	}
	data := func(h http.HandlerFunc) http.Handler {
		return limited(middleware.TierData, keyAuth(h))
	}

	mux := http.NewServeMux()

	mux.Handle("/{$}", limited(middleware.TierPublic, web.IndexHandler()))
	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", handlers.Readyz(deps.DB))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("/api/v1/channels", methodMux(map[string]http.Handler{
		http.MethodGet:  admin(channelsHandler.List),
		http.MethodPost: admin(channelsHandler.Create),
	}))
	mux.Handle("/api/v1/channels/{id}", methodMux(map[string]http.Handler{
		http.MethodDelete: admin(channelsHandler.Delete),
	}))
	mux.Handle("/api/v1/channels/{id}/name", methodMux(map[string]http.Handler{
		http.MethodPatch: admin(channelsHandler.Rename),
	}))
	mux.Handle("/api/v1/channels/{id}/schema", methodMux(map[string]http.Handler{
		http.MethodPatch: admin(channelsHandler.ChangeSchema),
	}))

	mux.Handle("/api/v1/keys", methodMux(map[string]http.Handler{
		http.MethodGet:  admin(keysHandler.List),
		http.MethodPost: admin(keysHandler.Create),
	}))
	mux.Handle("/api/v1/keys/{id}", methodMux(map[string]http.Handler{
		http.MethodGet:    admin(keysHandler.Get),
		http.MethodPatch:  admin(keysHandler.SetChannels),
		http.MethodDelete: admin(keysHandler.Delete),
	}))

	mux.Handle("/api/v1/users", methodMux(map[string]http.Handler{
		http.MethodGet:  admin(usersHandler.List),
		http.MethodPost: admin(usersHandler.Create),
	}))
	mux.Handle("/api/v1/users/name", methodMux(map[string]http.Handler{
		http.MethodPatch: admin(usersHandler.Rename),
	}))
	mux.Handle("/api/v1/users/password", methodMux(map[string]http.Handler{
		http.MethodPatch: admin(usersHandler.ChangePassword),
	}))
	mux.Handle("/api/v1/users/{id}", methodMux(map[string]http.Handler{
		http.MethodDelete: admin(usersHandler.Delete),
	}))

	mux.Handle("/api/v1/sessions", methodMux(map[string]http.Handler{
		http.MethodGet:    limited(middleware.TierAdmin, http.HandlerFunc(sessionsHandler.Current)),
		http.MethodPost:   limited(middleware.TierLogin, http.HandlerFunc(sessionsHandler.Login)),
		http.MethodDelete: limited(middleware.TierAdmin, http.HandlerFunc(sessionsHandler.Logout)),
	}))
	mux.Handle("/api/v1/sessions/refresh", methodMux(map[string]http.Handler{
		http.MethodPost: limited(middleware.TierAdmin, http.HandlerFunc(sessionsHandler.Refresh)),
	}))

	mux.Handle("/api/v1/topics/{name}", methodMux(map[string]http.Handler{
		http.MethodGet:  data(topicsHandler.Stream),
		http.MethodPost: data(topicsHandler.Publish),
	}))

	return metrics.HTTPMiddleware(middleware.RequestLogging(deps.Logger)(mux))
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
