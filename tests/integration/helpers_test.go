package integration

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/conduit-foundation/conduit/internal/api"
	"github.com/conduit-foundation/conduit/internal/broadcast"
	"github.com/conduit-foundation/conduit/internal/config"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
	"github.com/conduit-foundation/conduit/internal/domain/sessions"
	"github.com/conduit-foundation/conduit/internal/domain/users"
	"github.com/conduit-foundation/conduit/internal/storage/postgres"
)

const (
	rootUsername = "root"
	rootPassword = "correct-horse-battery-staple"
)

type testEnv struct {
	Context context.Context
	DBURL   string
	Pool    *pgxpool.Pool
	Server  *httptest.Server
	Users   *users.Service
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("conduit"),
		tcpostgres.WithUsername("conduit"),
		tcpostgres.WithPassword("conduit_dev"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrationsPath := filepath.Join(projectRoot(t), "internal", "storage", "postgres", "migrations")
	require.NoError(t, migrateWithRetry(dbURL, migrationsPath, 10*time.Second))

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo, err := postgres.NewRepository(pool)
	require.NoError(t, err)

	logger := zerolog.New(io.Discard)
	broadcaster := broadcast.New(16)
	channelsService := channels.NewService(repo.Channels(), broadcaster, logger)
	keysService := keys.NewService(repo.Keys(), logger)
	usersService := users.NewService(repo.Users(), logger)
	sessionsService := sessions.NewService(repo.Sessions(), usersService, time.Hour, logger)

	_, err = usersService.CreateRoot(ctx, rootUsername, rootPassword)
	require.NoError(t, err)

	server := httptest.NewServer(api.NewRouter(api.Deps{
		Config:      testConfig(dbURL),
		Logger:      logger,
		DB:          repo,
		Channels:    channelsService,
		Keys:        keysService,
		Users:       usersService,
		Sessions:    sessionsService,
		Broadcaster: broadcaster,
	}))
	t.Cleanup(server.Close)

	return &testEnv{
		Context: ctx,
		DBURL:   dbURL,
		Pool:    pool,
		Server:  server,
		Users:   usersService,
	}
}

func testConfig(dbURL string) config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Database: config.DatabaseConfig{
			URL:            dbURL,
			MaxConnections: 5,
		},
		Sessions: config.SessionsConfig{
			TTL: time.Hour,
		},
		Broadcast: config.BroadcastConfig{
			Backlog: 16,
		},
		RateLimit: config.RateLimitConfig{
			PublicPerMinute:   1000,
			DataPerMinute:     1000,
			AdminPerMinute:    0,
			LoginPer15Minutes: 1000,
		},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "json",
		},
		Environment: "test",
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func migrateWithRetry(databaseURL string, migrationsPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := postgres.MigrateUp(databaseURL, migrationsPath); err != nil {
			if time.Now().After(deadline) {
				return err
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		return nil
	}
}
