package sessions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-foundation/conduit/internal/domain/users"
)

type storedSession struct {
	Record
	accessHash  string
	refreshHash string
}

type fakeRepo struct {
	sessions map[string]*storedSession // by id
	nextID   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*storedSession)}
}

func (f *fakeRepo) Insert(_ context.Context, userID, accessHash, refreshHash string, expires time.Time) (Record, error) {
	f.nextID++
	stored := &storedSession{
		Record:      Record{ID: fmt.Sprintf("session-%d", f.nextID), UserID: userID, Expires: expires},
		accessHash:  accessHash,
		refreshHash: refreshHash,
	}
	f.sessions[stored.ID] = stored
	return stored.Record, nil
}

func (f *fakeRepo) GetByAccessHash(_ context.Context, accessHash string) (Record, error) {
	for _, stored := range f.sessions {
		if stored.accessHash == accessHash {
			return stored.Record, nil
		}
	}
	return Record{}, ErrNotFound
}

func (f *fakeRepo) Refresh(_ context.Context, refreshHash, newAccessHash string, expires time.Time) (Record, error) {
	for _, stored := range f.sessions {
		if stored.refreshHash == refreshHash {
			stored.accessHash = newAccessHash
			stored.Expires = expires
			return stored.Record, nil
		}
	}
	return Record{}, ErrNotFound
}

func (f *fakeRepo) DeleteByRefreshHash(_ context.Context, refreshHash string) error {
	for id, stored := range f.sessions {
		if stored.refreshHash == refreshHash {
			delete(f.sessions, id)
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeRepo) DeleteExpired(_ context.Context) (int64, error) {
	var swept int64
	now := time.Now()
	for id, stored := range f.sessions {
		if stored.Expires.Before(now) {
			delete(f.sessions, id)
			swept++
		}
	}
	return swept, nil
}

type fakeUsers struct{ user users.User }

func (f *fakeUsers) Get(_ context.Context, id string) (users.User, error) {
	if id != f.user.ID {
		return users.User{}, users.ErrNotFound
	}
	return f.user, nil
}

func newService(ttl time.Duration) (*Service, *fakeRepo, users.User) {
	repo := newFakeRepo()
	user := users.User{ID: "user-1", Name: "root", Rank: 0}
	return NewService(repo, &fakeUsers{user: user}, ttl, zerolog.Nop()), repo, user
}

func TestLoginThenAuthenticate(t *testing.T) {
	svc, _, user := newService(0)

	session, refreshToken, err := svc.Login(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, refreshToken)
	assert.NotEqual(t, session.AccessToken, refreshToken)
	assert.True(t, session.Expires.After(time.Now()))

	got, err := svc.Authenticate(context.Background(), session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, user.Name, got.User.Name)
	assert.Empty(t, got.AccessToken, "lookups must not return tokens")
}

func TestAuthenticateUnknownToken(t *testing.T) {
	svc, _, _ := newService(0)
	_, err := svc.Authenticate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	svc, _, user := newService(0)

	session, refreshToken, err := svc.Login(context.Background(), user)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), refreshToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, refreshed.ID, "refresh updates the row in place")
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, session.AccessToken, refreshed.AccessToken)
	assert.False(t, refreshed.Expires.Before(session.Expires))

	// the old access token's hash was overwritten
	_, err = svc.Authenticate(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, ErrNotFound)

	// the new one works
	_, err = svc.Authenticate(context.Background(), refreshed.AccessToken)
	assert.NoError(t, err)

	// the refresh token is not rotated; it keeps working
	again, err := svc.Refresh(context.Background(), refreshToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)
}

func TestRefreshUnknownToken(t *testing.T) {
	svc, _, _ := newService(0)
	_, err := svc.Refresh(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogout(t *testing.T) {
	svc, _, user := newService(0)

	session, refreshToken, err := svc.Login(context.Background(), user)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), refreshToken))

	_, err = svc.Authenticate(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, ErrNotFound)

	// idempotent: a second logout with the same token is silent
	assert.NoError(t, svc.Logout(context.Background(), refreshToken))
}

func TestExpiredSessionsAreSwept(t *testing.T) {
	svc, repo, user := newService(10 * time.Millisecond)

	session, refreshToken, err := svc.Login(context.Background(), user)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// the row still physically exists until a lookup sweeps it
	require.Len(t, repo.sessions, 1)

	_, err = svc.Authenticate(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, repo.sessions, "authenticate must purge expired rows")

	_, err = svc.Refresh(context.Background(), refreshToken)
	assert.ErrorIs(t, err, ErrNotFound)
}
