package middleware

import (
	"context"
	"net/http"

	"github.com/conduit-foundation/conduit/internal/api/problem"
	"github.com/conduit-foundation/conduit/internal/auth"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
	"github.com/conduit-foundation/conduit/internal/domain/sessions"
	"github.com/conduit-foundation/conduit/internal/domain/users"
)

type contextKey string

const (
	currentUserKey contextKey = "currentUser"
	requestKeyKey  contextKey = "requestKey"
)

// SessionAuthenticator resolves a bearer access token to a session.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (sessions.Session, error)
}

// KeyAuthenticator resolves a "{id};{secret}" bearer token to an API key.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, token string) (keys.Key, error)
}

// SessionAuth guards the management endpoints. The request must carry a
// session access token as a bearer credential; the session's user is placed
// in the request context.
func SessionAuth(service SessionAuthenticator, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, env)
				return
			}
			session, err := service.Authenticate(r.Context(), token)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}
			ctx := context.WithValue(r.Context(), currentUserKey, session.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCurrentUser places a user in the context the way SessionAuth does.
func WithCurrentUser(ctx context.Context, user users.User) context.Context {
	return context.WithValue(ctx, currentUserKey, user)
}

// CurrentUser returns the session user placed in the context by SessionAuth.
func CurrentUser(r *http.Request) (users.User, bool) {
	if r == nil {
		return users.User{}, false
	}
	user, ok := r.Context().Value(currentUserKey).(users.User)
	return user, ok
}

// KeyAuth guards the data-plane endpoints. The bearer credential is an API
// key token; the resolved key is placed in the request context.
func KeyAuth(service KeyAuthenticator, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, env)
				return
			}
			key, err := service.Authenticate(r.Context(), token)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}
			ctx := context.WithValue(r.Context(), requestKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithRequestKey places an API key in the context the way KeyAuth does.
func WithRequestKey(ctx context.Context, key keys.Key) context.Context {
	return context.WithValue(ctx, requestKeyKey, key)
}

// RequestKey returns the API key placed in the context by KeyAuth.
func RequestKey(r *http.Request) (keys.Key, bool) {
	if r == nil {
		return keys.Key{}, false
	}
	key, ok := r.Context().Value(requestKeyKey).(keys.Key)
	return key, ok
}
