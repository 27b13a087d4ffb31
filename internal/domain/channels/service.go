package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Record is a channel row as the storage engine holds it.
type Record struct {
	ID     string
	Name   string
	Schema json.RawMessage
}

// Repository is the storage contract for channels. Row-level consistency is
// the storage engine's concern; the service never caches rows across requests.
type Repository interface {
	Insert(ctx context.Context, name string, schema json.RawMessage) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	GetByName(ctx context.Context, name string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	ListForKey(ctx context.Context, keyID string) ([]Record, error)
	Rename(ctx context.Context, id, name string) (Record, error)
	UpdateSchema(ctx context.Context, id string, schema json.RawMessage) (Record, error)
	Delete(ctx context.Context, id string) error
}

// TopicDropper tears down the broadcaster topic of a deleted channel.
type TopicDropper interface {
	Remove(channelID string)
}

type Service struct {
	repo   Repository
	topics TopicDropper
	logger zerolog.Logger
}

func NewService(repo Repository, topics TopicDropper, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		topics: topics,
		logger: logger.With().Str("component", "channels").Logger(),
	}
}

// Create registers a channel. The schema is compiled before the insert so an
// invalid document is rejected before anything is committed.
func (s *Service) Create(ctx context.Context, name string, schema json.RawMessage) (*Channel, error) {
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.Insert(ctx, name, schema)
	if err != nil {
		return nil, err
	}
	return &Channel{ID: record.ID, Name: record.Name, Schema: record.Schema, compiled: compiled}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Channel, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fromRecord(record)
}

func (s *Service) GetByName(ctx context.Context, name string) (*Channel, error) {
	record, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.fromRecord(record)
}

func (s *Service) List(ctx context.Context) ([]*Channel, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.fromRecords(records)
}

// ListForKey returns the channels a key holds access edges to.
func (s *Service) ListForKey(ctx context.Context, keyID string) ([]*Channel, error) {
	records, err := s.repo.ListForKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return s.fromRecords(records)
}

func (s *Service) Rename(ctx context.Context, id, name string) (*Channel, error) {
	record, err := s.repo.Rename(ctx, id, name)
	if err != nil {
		return nil, err
	}
	return s.fromRecord(record)
}

// ChangeSchema replaces a channel's schema. The new document must compile;
// the in-memory validator is rebuilt from the stored row.
func (s *Service) ChangeSchema(ctx context.Context, id string, schema json.RawMessage) (*Channel, error) {
	if _, err := compileSchema(schema); err != nil {
		return nil, err
	}
	record, err := s.repo.UpdateSchema(ctx, id, schema)
	if err != nil {
		return nil, err
	}
	return s.fromRecord(record)
}

// Delete removes the channel, its access edges (cascading in storage), and
// its broadcaster topic, ending any live subscriber streams.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.topics.Remove(id)
	return nil
}

func (s *Service) fromRecord(record Record) (*Channel, error) {
	compiled, err := compileSchema(record.Schema)
	if err != nil {
		// Rows are only ever written with a schema that compiled.
		s.logger.Error().Err(err).Str("channel_id", record.ID).Msg("stored schema failed to compile")
		return nil, fmt.Errorf("compile stored schema for channel %s: %w", record.ID, err)
	}
	return &Channel{ID: record.ID, Name: record.Name, Schema: record.Schema, compiled: compiled}, nil
}

func (s *Service) fromRecords(records []Record) ([]*Channel, error) {
	result := make([]*Channel, 0, len(records))
	for _, record := range records {
		channel, err := s.fromRecord(record)
		if err != nil {
			return nil, err
		}
		result = append(result, channel)
	}
	return result, nil
}
