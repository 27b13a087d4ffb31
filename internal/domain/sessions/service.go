// Package sessions implements the credential lifecycle for interactive admin
// sessions: paired access/refresh tokens, rotation on refresh, and a lazy
// sweep of expired rows before every lookup.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/conduit-foundation/conduit/internal/auth"
	"github.com/conduit-foundation/conduit/internal/domain/users"
	"github.com/conduit-foundation/conduit/internal/metrics"
)

var ErrNotFound = errors.New("session not found")

// DefaultTTL is how long a session lives past its creation or last refresh.
const DefaultTTL = 24 * time.Hour

// Record is a session row as the storage engine holds it. Token hashes stay
// inside the repository; they are never carried around the application.
type Record struct {
	ID      string
	UserID  string
	Expires time.Time
}

// Session is a session augmented with its user. AccessToken is set only when
// the session was just created or refreshed, never on lookups.
type Session struct {
	ID          string     `json:"-"`
	AccessToken string     `json:"accessToken,omitempty"`
	Expires     time.Time  `json:"expires"`
	User        users.User `json:"user"`
}

// Repository is the storage contract for sessions. Rows are addressed by
// token digest; expired rows must be removable in bulk.
type Repository interface {
	Insert(ctx context.Context, userID, accessHash, refreshHash string, expires time.Time) (Record, error)
	GetByAccessHash(ctx context.Context, accessHash string) (Record, error)
	// Refresh overwrites the access-token hash and expiry of the row matched
	// by refresh-token hash, in place.
	Refresh(ctx context.Context, refreshHash, newAccessHash string, expires time.Time) (Record, error)
	DeleteByRefreshHash(ctx context.Context, refreshHash string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// UserGetter resolves a session's owning user.
type UserGetter interface {
	Get(ctx context.Context, id string) (users.User, error)
}

type Service struct {
	repo   Repository
	users  UserGetter
	ttl    time.Duration
	logger zerolog.Logger
}

func NewService(repo Repository, userGetter UserGetter, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:   repo,
		users:  userGetter,
		ttl:    ttl,
		logger: logger.With().Str("component", "sessions").Logger(),
	}
}

// Login creates a session for an already-authenticated user. Both plaintext
// tokens exist only in the return values.
func (s *Service) Login(ctx context.Context, user users.User) (Session, string, error) {
	accessToken, err := auth.GenerateSecret()
	if err != nil {
		return Session{}, "", err
	}
	refreshToken, err := auth.GenerateSecret()
	if err != nil {
		return Session{}, "", err
	}

	record, err := s.repo.Insert(ctx, user.ID,
		auth.DigestToken(accessToken), auth.DigestToken(refreshToken),
		time.Now().Add(s.ttl))
	if err != nil {
		return Session{}, "", fmt.Errorf("create session: %w", err)
	}

	return Session{
		ID:          record.ID,
		AccessToken: accessToken,
		Expires:     record.Expires,
		User:        user,
	}, refreshToken, nil
}

// Authenticate resolves an access token to its live session. Expired rows
// are swept first, so an expired session is indistinguishable from a missing
// one. The returned session carries no token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Session, error) {
	if err := s.sweep(ctx); err != nil {
		return Session{}, err
	}
	record, err := s.repo.GetByAccessHash(ctx, auth.DigestToken(accessToken))
	if err != nil {
		return Session{}, err
	}
	return s.attach(ctx, record, "")
}

// Refresh mints a new access token for the session matched by refresh token
// and pushes the expiry out. The refresh token itself is left unchanged, so
// the same credential keeps working for later refreshes.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if err := s.sweep(ctx); err != nil {
		return Session{}, err
	}
	accessToken, err := auth.GenerateSecret()
	if err != nil {
		return Session{}, err
	}
	record, err := s.repo.Refresh(ctx, auth.DigestToken(refreshToken),
		auth.DigestToken(accessToken), time.Now().Add(s.ttl))
	if err != nil {
		return Session{}, err
	}
	return s.attach(ctx, record, accessToken)
}

// Logout deletes the session matched by refresh token. A miss is silent:
// logout is idempotent and never fails for an already-gone session.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	err := s.repo.DeleteByRefreshHash(ctx, auth.DigestToken(refreshToken))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) sweep(ctx context.Context) error {
	swept, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired sessions: %w", err)
	}
	if swept > 0 {
		metrics.SessionsSwept.Add(float64(swept))
		s.logger.Debug().Int64("swept", swept).Msg("purged expired sessions")
	}
	return nil
}

func (s *Service) attach(ctx context.Context, record Record, accessToken string) (Session, error) {
	user, err := s.users.Get(ctx, record.UserID)
	if err != nil {
		return Session{}, fmt.Errorf("resolve session user: %w", err)
	}
	return Session{
		ID:          record.ID,
		AccessToken: accessToken,
		Expires:     record.Expires,
		User:        user,
	}, nil
}
