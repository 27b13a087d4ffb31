package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-foundation/conduit/internal/broadcast"
	"github.com/conduit-foundation/conduit/internal/config"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
	"github.com/conduit-foundation/conduit/internal/domain/sessions"
	"github.com/conduit-foundation/conduit/internal/domain/users"
)

// In-memory repositories sufficient to exercise routing end to end.

type memChannels struct {
	records map[string]channels.Record
	nextID  int
}

func (m *memChannels) Insert(_ context.Context, name string, schema json.RawMessage) (channels.Record, error) {
	m.nextID++
	record := channels.Record{ID: fmt.Sprintf("chan-%d", m.nextID), Name: name, Schema: schema}
	m.records[record.ID] = record
	return record, nil
}

func (m *memChannels) GetByID(_ context.Context, id string) (channels.Record, error) {
	record, ok := m.records[id]
	if !ok {
		return channels.Record{}, channels.ErrNotFound
	}
	return record, nil
}

func (m *memChannels) GetByName(_ context.Context, name string) (channels.Record, error) {
	for _, record := range m.records {
		if record.Name == name {
			return record, nil
		}
	}
	return channels.Record{}, channels.ErrNotFound
}

func (m *memChannels) List(_ context.Context) ([]channels.Record, error) {
	out := make([]channels.Record, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record)
	}
	return out, nil
}

func (m *memChannels) ListForKey(_ context.Context, _ string) ([]channels.Record, error) {
	return nil, nil
}

func (m *memChannels) Rename(_ context.Context, id, name string) (channels.Record, error) {
	record, ok := m.records[id]
	if !ok {
		return channels.Record{}, channels.ErrNotFound
	}
	record.Name = name
	m.records[id] = record
	return record, nil
}

func (m *memChannels) UpdateSchema(_ context.Context, id string, schema json.RawMessage) (channels.Record, error) {
	record, ok := m.records[id]
	if !ok {
		return channels.Record{}, channels.ErrNotFound
	}
	record.Schema = schema
	m.records[id] = record
	return record, nil
}

func (m *memChannels) Delete(_ context.Context, id string) error {
	delete(m.records, id)
	return nil
}

type memKeys struct {
	keys   map[string]keys.Key
	edges  map[string]map[string]bool
	nextID int
}

func (m *memKeys) Insert(_ context.Context, keyType keys.Type, secretHash string, channelIDs []string) (keys.Key, error) {
	m.nextID++
	key := keys.Key{ID: fmt.Sprintf("33333333-3333-3333-3333-%012d", m.nextID), Type: keyType, SecretHash: secretHash}
	m.keys[key.ID] = key
	edges := make(map[string]bool)
	for _, id := range channelIDs {
		edges[id] = true
	}
	m.edges[key.ID] = edges
	return key, nil
}

func (m *memKeys) Get(_ context.Context, id string) (keys.Key, error) {
	key, ok := m.keys[id]
	if !ok {
		return keys.Key{}, keys.ErrNotFound
	}
	return key, nil
}

func (m *memKeys) List(_ context.Context) ([]keys.Key, error) { return nil, nil }

func (m *memKeys) Delete(_ context.Context, id string) error {
	delete(m.keys, id)
	return nil
}

func (m *memKeys) SetChannels(_ context.Context, keyID string, channelIDs []string) error {
	edges := make(map[string]bool)
	for _, id := range channelIDs {
		edges[id] = true
	}
	m.edges[keyID] = edges
	return nil
}

func (m *memKeys) Authorizes(_ context.Context, keyID, channelID string) (bool, error) {
	return m.edges[keyID][channelID], nil
}

type memUsers struct {
	users  map[string]users.User
	nextID int
}

func (m *memUsers) Insert(_ context.Context, name, passwordHash string, rank int) (users.User, error) {
	m.nextID++
	user := users.User{ID: fmt.Sprintf("user-%d", m.nextID), Name: name, Rank: rank, PasswordHash: passwordHash}
	m.users[user.ID] = user
	return user, nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (users.User, error) {
	user, ok := m.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return user, nil
}

func (m *memUsers) GetByName(_ context.Context, name string) (users.User, error) {
	for _, user := range m.users {
		if user.Name == name {
			return user, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (m *memUsers) List(_ context.Context, minRank int) ([]users.User, error) {
	var out []users.User
	for _, user := range m.users {
		if user.Rank >= minRank {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *memUsers) Rename(_ context.Context, id, name string) (users.User, error) {
	user := m.users[id]
	user.Name = name
	m.users[id] = user
	return user, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	user := m.users[id]
	user.PasswordHash = passwordHash
	m.users[id] = user
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	delete(m.users, id)
	return nil
}

type memSession struct {
	record      sessions.Record
	accessHash  string
	refreshHash string
}

type memSessions struct {
	rows   map[string]*memSession
	nextID int
}

func (m *memSessions) Insert(_ context.Context, userID, accessHash, refreshHash string, expires time.Time) (sessions.Record, error) {
	m.nextID++
	record := sessions.Record{ID: fmt.Sprintf("sess-%d", m.nextID), UserID: userID, Expires: expires}
	m.rows[record.ID] = &memSession{record: record, accessHash: accessHash, refreshHash: refreshHash}
	return record, nil
}

func (m *memSessions) GetByAccessHash(_ context.Context, accessHash string) (sessions.Record, error) {
	for _, row := range m.rows {
		if row.accessHash == accessHash {
			return row.record, nil
		}
	}
	return sessions.Record{}, sessions.ErrNotFound
}

func (m *memSessions) Refresh(_ context.Context, refreshHash, newAccessHash string, expires time.Time) (sessions.Record, error) {
	for _, row := range m.rows {
		if row.refreshHash == refreshHash {
			row.accessHash = newAccessHash
			row.record.Expires = expires
			return row.record, nil
		}
	}
	return sessions.Record{}, sessions.ErrNotFound
}

func (m *memSessions) DeleteByRefreshHash(_ context.Context, refreshHash string) error {
	for id, row := range m.rows {
		if row.refreshHash == refreshHash {
			delete(m.rows, id)
			return nil
		}
	}
	return sessions.ErrNotFound
}

func (m *memSessions) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *users.Service, *keys.Service, *channels.Service) {
	t.Helper()
	logger := zerolog.Nop()
	broadcaster := broadcast.New(16)

	channelsService := channels.NewService(&memChannels{records: map[string]channels.Record{}}, broadcaster, logger)
	keysService := keys.NewService(&memKeys{keys: map[string]keys.Key{}, edges: map[string]map[string]bool{}}, logger)
	usersService := users.NewService(&memUsers{users: map[string]users.User{}}, logger)
	sessionsService := sessions.NewService(&memSessions{rows: map[string]*memSession{}}, usersService, time.Hour, logger)

	router := NewRouter(Deps{
		Config:      config.Config{Environment: "test"},
		Logger:      logger,
		DB:          okPinger{},
		Channels:    channelsService,
		Keys:        keysService,
		Users:       usersService,
		Sessions:    sessionsService,
		Broadcaster: broadcaster,
	})
	return router, usersService, keysService, channelsService
}

func TestRouterHealthEndpoints(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterLandingPage(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestRouterAdminRequiresSession(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/channels", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestRouterLoginThenManageThenPublish(t *testing.T) {
	router, usersService, _, _ := newTestRouter(t)

	_, err := usersService.CreateRoot(context.Background(), "root", "rootpw")
	require.NoError(t, err)

	// Login.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"username":"root","password":"rootpw"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var session struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.NotEmpty(t, session.AccessToken)

	// Create a channel with the session.
	body := `{"name":"people","schema":{"type":"object","required":["name"]}}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var channel struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&channel))

	// Mint a publisher key for it.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/keys", strings.NewReader(`{"type":"publisher","channels":["`+channel.ID+`"]}`))
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	// Publish with the key token.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/topics/people", strings.NewReader(`{"name":"ada"}`))
	req.Header.Set("Authorization", "Bearer "+created.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var published struct {
		ID        string `json:"id"`
		Delivered int    `json:"delivered"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&published))
	assert.Equal(t, 0, published.Delivered)
	assert.NotEmpty(t, published.ID)

	// The key token is not a session credential.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
