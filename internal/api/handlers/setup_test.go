package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/conduit-foundation/conduit/internal/broadcast"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
	"github.com/conduit-foundation/conduit/internal/domain/sessions"
	"github.com/conduit-foundation/conduit/internal/domain/users"
)

// In-memory repositories backing the handler tests. They mirror the
// Postgres implementations' error contracts.

type memChannelRepo struct {
	records map[string]channels.Record
	access  map[string][]string
	nextID  int
}

func newMemChannelRepo() *memChannelRepo {
	return &memChannelRepo{records: make(map[string]channels.Record), access: make(map[string][]string)}
}

func (m *memChannelRepo) Insert(_ context.Context, name string, schema json.RawMessage) (channels.Record, error) {
	for _, r := range m.records {
		if r.Name == name {
			return channels.Record{}, channels.ErrDuplicateName
		}
	}
	m.nextID++
	record := channels.Record{ID: fmt.Sprintf("chan-%d", m.nextID), Name: name, Schema: schema}
	m.records[record.ID] = record
	return record, nil
}

func (m *memChannelRepo) GetByID(_ context.Context, id string) (channels.Record, error) {
	record, ok := m.records[id]
	if !ok {
		return channels.Record{}, channels.ErrNotFound
	}
	return record, nil
}

func (m *memChannelRepo) GetByName(_ context.Context, name string) (channels.Record, error) {
	for _, record := range m.records {
		if record.Name == name {
			return record, nil
		}
	}
	return channels.Record{}, channels.ErrNotFound
}

func (m *memChannelRepo) List(_ context.Context) ([]channels.Record, error) {
	var out []channels.Record
	for _, record := range m.records {
		out = append(out, record)
	}
	return out, nil
}

func (m *memChannelRepo) ListForKey(_ context.Context, keyID string) ([]channels.Record, error) {
	var out []channels.Record
	for _, id := range m.access[keyID] {
		out = append(out, m.records[id])
	}
	return out, nil
}

func (m *memChannelRepo) Rename(_ context.Context, id, name string) (channels.Record, error) {
	record, ok := m.records[id]
	if !ok {
		return channels.Record{}, channels.ErrNotFound
	}
	record.Name = name
	m.records[id] = record
	return record, nil
}

func (m *memChannelRepo) UpdateSchema(_ context.Context, id string, schema json.RawMessage) (channels.Record, error) {
	record, ok := m.records[id]
	if !ok {
		return channels.Record{}, channels.ErrNotFound
	}
	record.Schema = schema
	m.records[id] = record
	return record, nil
}

func (m *memChannelRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.records[id]; !ok {
		return channels.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

type memKeyRepo struct {
	keys     map[string]keys.Key
	edges    map[string]map[string]bool
	channels *memChannelRepo
	nextID   int
}

func newMemKeyRepo(channels *memChannelRepo) *memKeyRepo {
	return &memKeyRepo{keys: make(map[string]keys.Key), edges: make(map[string]map[string]bool), channels: channels}
}

// checkChannels mirrors the referential check the access table enforces.
func (m *memKeyRepo) checkChannels(channelIDs []string) error {
	for _, id := range channelIDs {
		if _, ok := m.channels.records[id]; !ok {
			return fmt.Errorf("channel %s: %w", id, keys.ErrUnknownChannel)
		}
	}
	return nil
}

func (m *memKeyRepo) Insert(_ context.Context, keyType keys.Type, secretHash string, channelIDs []string) (keys.Key, error) {
	if err := m.checkChannels(channelIDs); err != nil {
		return keys.Key{}, err
	}
	m.nextID++
	key := keys.Key{
		ID:         fmt.Sprintf("22222222-2222-2222-2222-%012d", m.nextID),
		Type:       keyType,
		SecretHash: secretHash,
	}
	m.keys[key.ID] = key
	edges := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		edges[id] = true
	}
	m.edges[key.ID] = edges
	return key, nil
}

func (m *memKeyRepo) Get(_ context.Context, id string) (keys.Key, error) {
	key, ok := m.keys[id]
	if !ok {
		return keys.Key{}, keys.ErrNotFound
	}
	return key, nil
}

func (m *memKeyRepo) List(_ context.Context) ([]keys.Key, error) {
	var out []keys.Key
	for _, key := range m.keys {
		out = append(out, key)
	}
	return out, nil
}

func (m *memKeyRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.keys[id]; !ok {
		return keys.ErrNotFound
	}
	delete(m.keys, id)
	delete(m.edges, id)
	return nil
}

func (m *memKeyRepo) SetChannels(_ context.Context, keyID string, channelIDs []string) error {
	if _, ok := m.keys[keyID]; !ok {
		return keys.ErrNotFound
	}
	if err := m.checkChannels(channelIDs); err != nil {
		return err
	}
	edges := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		edges[id] = true
	}
	m.edges[keyID] = edges
	return nil
}

func (m *memKeyRepo) Authorizes(_ context.Context, keyID, channelID string) (bool, error) {
	return m.edges[keyID][channelID], nil
}

type memUserRepo struct {
	users  map[string]users.User
	nextID int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]users.User)}
}

func (m *memUserRepo) Insert(_ context.Context, name, passwordHash string, rank int) (users.User, error) {
	for _, u := range m.users {
		if u.Name == name {
			return users.User{}, users.ErrDuplicateName
		}
	}
	m.nextID++
	user := users.User{ID: fmt.Sprintf("user-%d", m.nextID), Name: name, Rank: rank, PasswordHash: passwordHash}
	m.users[user.ID] = user
	return user, nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (users.User, error) {
	user, ok := m.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return user, nil
}

func (m *memUserRepo) GetByName(_ context.Context, name string) (users.User, error) {
	for _, user := range m.users {
		if user.Name == name {
			return user, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (m *memUserRepo) List(_ context.Context, minRank int) ([]users.User, error) {
	var out []users.User
	for _, user := range m.users {
		if user.Rank >= minRank {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *memUserRepo) Rename(_ context.Context, id, name string) (users.User, error) {
	user, ok := m.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	user.Name = name
	m.users[id] = user
	return user, nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	user, ok := m.users[id]
	if !ok {
		return users.ErrNotFound
	}
	user.PasswordHash = passwordHash
	m.users[id] = user
	return nil
}

func (m *memUserRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return users.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

type storedSession struct {
	record      sessions.Record
	accessHash  string
	refreshHash string
}

type memSessionRepo struct {
	sessions map[string]*storedSession
	nextID   int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*storedSession)}
}

func (m *memSessionRepo) Insert(_ context.Context, userID, accessHash, refreshHash string, expires time.Time) (sessions.Record, error) {
	m.nextID++
	record := sessions.Record{ID: fmt.Sprintf("sess-%d", m.nextID), UserID: userID, Expires: expires}
	m.sessions[record.ID] = &storedSession{record: record, accessHash: accessHash, refreshHash: refreshHash}
	return record, nil
}

func (m *memSessionRepo) GetByAccessHash(_ context.Context, accessHash string) (sessions.Record, error) {
	for _, s := range m.sessions {
		if s.accessHash == accessHash {
			return s.record, nil
		}
	}
	return sessions.Record{}, sessions.ErrNotFound
}

func (m *memSessionRepo) Refresh(_ context.Context, refreshHash, newAccessHash string, expires time.Time) (sessions.Record, error) {
	for _, s := range m.sessions {
		if s.refreshHash == refreshHash {
			s.accessHash = newAccessHash
			s.record.Expires = expires
			return s.record, nil
		}
	}
	return sessions.Record{}, sessions.ErrNotFound
}

func (m *memSessionRepo) DeleteByRefreshHash(_ context.Context, refreshHash string) error {
	for id, s := range m.sessions {
		if s.refreshHash == refreshHash {
			delete(m.sessions, id)
			return nil
		}
	}
	return sessions.ErrNotFound
}

func (m *memSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	var swept int64
	now := time.Now()
	for id, s := range m.sessions {
		if s.record.Expires.Before(now) {
			delete(m.sessions, id)
			swept++
		}
	}
	return swept, nil
}

// testEnv bundles real services over the in-memory repositories.
type testEnv struct {
	channelRepo *memChannelRepo
	keyRepo     *memKeyRepo
	userRepo    *memUserRepo
	sessionRepo *memSessionRepo

	channels    *channels.Service
	keys        *keys.Service
	users       *users.Service
	sessions    *sessions.Service
	broadcaster *broadcast.Broadcaster
}

func newTestEnv() *testEnv {
	channelRepo := newMemChannelRepo()
	env := &testEnv{
		channelRepo: channelRepo,
		keyRepo:     newMemKeyRepo(channelRepo),
		userRepo:    newMemUserRepo(),
		sessionRepo: newMemSessionRepo(),
	}
	logger := zerolog.Nop()
	env.broadcaster = broadcast.New(16)
	env.channels = channels.NewService(env.channelRepo, env.broadcaster, logger)
	env.keys = keys.NewService(env.keyRepo, logger)
	env.users = users.NewService(env.userRepo, logger)
	env.sessions = sessions.NewService(env.sessionRepo, env.users, time.Hour, logger)
	return env
}
