// Package keys implements the capability-scoped key/access model. A key is
// typed publisher or subscriber and owns a set of channel-authorization edges.
package keys

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/conduit-foundation/conduit/internal/auth"
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrInvalidSecret  = errors.New("invalid secret key")
	ErrInvalidType    = errors.New("invalid key type")
	ErrUnknownChannel = errors.New("unknown channel id")
)

// Type is a key's direction. It is immutable after creation.
type Type string

const (
	TypePublisher  Type = "publisher"
	TypeSubscriber Type = "subscriber"
)

// ParseType validates a direction tag from a request body.
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypePublisher, TypeSubscriber:
		return Type(raw), nil
	default:
		return "", ErrInvalidType
	}
}

// Key is an API key. The secret exists only as a salted hash; the plaintext
// is returned exactly once, at creation.
type Key struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	SecretHash string `json:"-"`
}

func (k *Key) IsPublisher() bool  { return k.Type == TypePublisher }
func (k *Key) IsSubscriber() bool { return k.Type == TypeSubscriber }

// Repository is the storage contract for keys and their access edges.
type Repository interface {
	// Insert stores a key and one access edge per channel id as a single
	// atomic unit.
	Insert(ctx context.Context, keyType Type, secretHash string, channelIDs []string) (Key, error)
	Get(ctx context.Context, id string) (Key, error)
	List(ctx context.Context) ([]Key, error)
	Delete(ctx context.Context, id string) error

	// SetChannels atomically replaces the key's access-edge set; no
	// intermediate state is observable.
	SetChannels(ctx context.Context, keyID string, channelIDs []string) error

	// Authorizes reports whether an access edge (keyID, channelID) exists.
	Authorizes(ctx context.Context, keyID, channelID string) (bool, error)
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "keys").Logger(),
	}
}

// Create mints a key scoped to the given channels. The returned secret is
// the only copy; it cannot be recovered later.
func (s *Service) Create(ctx context.Context, keyType Type, channelIDs []string) (Key, string, error) {
	secret, err := auth.GenerateSecret()
	if err != nil {
		return Key{}, "", err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return Key{}, "", err
	}
	key, err := s.repo.Insert(ctx, keyType, hash, channelIDs)
	if err != nil {
		return Key{}, "", err
	}
	return key, secret, nil
}

func (s *Service) Get(ctx context.Context, id string) (Key, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Key, error) {
	return s.repo.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// SetChannels replaces the key's authorized channel set atomically.
func (s *Service) SetChannels(ctx context.Context, keyID string, channelIDs []string) error {
	if _, err := s.repo.Get(ctx, keyID); err != nil {
		return err
	}
	return s.repo.SetChannels(ctx, keyID, channelIDs)
}

// Authorizes reports whether the key may act on the channel, independent of
// its direction.
func (s *Service) Authorizes(ctx context.Context, key Key, channelID string) (bool, error) {
	return s.repo.Authorizes(ctx, key.ID, channelID)
}

// Authenticate resolves a data-plane token of the form "{id};{secret}" to
// its key. Failures are ordered: malformed token, unknown id, wrong secret.
func (s *Service) Authenticate(ctx context.Context, token string) (Key, error) {
	id, secret, err := auth.SplitKeyToken(token)
	if err != nil {
		return Key{}, err
	}
	key, err := s.repo.Get(ctx, id)
	if err != nil {
		return Key{}, err
	}
	if !auth.VerifySecret(key.SecretHash, secret) {
		return Key{}, ErrInvalidSecret
	}
	return key, nil
}
