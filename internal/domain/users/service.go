// Package users manages the administrator accounts that own channels and
// keys. Privilege is rank-based: rank 0 is the root user, and every user
// created by rank N gets rank N+1.
package users

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/conduit-foundation/conduit/internal/auth"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrDuplicateName = errors.New("duplicate user name")
	ErrForbidden     = errors.New("insufficient privilege")
	ErrProtectedUser = errors.New("root user cannot be deleted")
)

// User is an administrator account.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Rank         int    `json:"rank"`
	PasswordHash string `json:"-"`
}

// Repository is the storage contract for users.
type Repository interface {
	Insert(ctx context.Context, name, passwordHash string, rank int) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByName(ctx context.Context, name string) (User, error)
	// List returns users with rank >= minRank.
	List(ctx context.Context, minRank int) ([]User, error)
	Rename(ctx context.Context, id, name string) (User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "users").Logger(),
	}
}

// Create registers a new user one rank below its creator.
func (s *Service) Create(ctx context.Context, creator User, name, password string) (User, error) {
	hash, err := auth.HashSecret(password)
	if err != nil {
		return User{}, err
	}
	return s.repo.Insert(ctx, name, hash, creator.Rank+1)
}

// CreateRoot registers the rank-0 bootstrap user.
func (s *Service) CreateRoot(ctx context.Context, name, password string) (User, error) {
	hash, err := auth.HashSecret(password)
	if err != nil {
		return User{}, err
	}
	return s.repo.Insert(ctx, name, hash, 0)
}

// Authenticate resolves a name/password pair to a user. ErrNotFound and
// ErrWrongPassword are distinct here; the HTTP surface reports both as one
// unauthorized rejection.
func (s *Service) Authenticate(ctx context.Context, name, password string) (User, error) {
	user, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return User{}, err
	}
	if !auth.VerifySecret(user.PasswordHash, password) {
		return User{}, ErrWrongPassword
	}
	return user, nil
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, name string) (User, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns the caller followed by every strictly lower-privileged user.
func (s *Service) List(ctx context.Context, caller User) ([]User, error) {
	lower, err := s.repo.List(ctx, caller.Rank+1)
	if err != nil {
		return nil, err
	}
	return append([]User{caller}, lower...), nil
}

func (s *Service) Rename(ctx context.Context, id, name string) (User, error) {
	return s.repo.Rename(ctx, id, name)
}

func (s *Service) ChangePassword(ctx context.Context, id, password string) error {
	hash, err := auth.HashSecret(password)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, hash)
}

// Delete removes a user. A caller may delete only users of strictly lower
// privilege, and the root user is never deletable.
func (s *Service) Delete(ctx context.Context, caller User, id string) error {
	target, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if target.Rank == 0 {
		return ErrProtectedUser
	}
	if target.Rank <= caller.Rank {
		return ErrForbidden
	}
	return s.repo.Delete(ctx, id)
}
