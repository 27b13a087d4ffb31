package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/conduit-foundation/conduit/internal/api"
	"github.com/conduit-foundation/conduit/internal/broadcast"
	"github.com/conduit-foundation/conduit/internal/config"
	"github.com/conduit-foundation/conduit/internal/domain/channels"
	"github.com/conduit-foundation/conduit/internal/domain/keys"
	"github.com/conduit-foundation/conduit/internal/domain/sessions"
	"github.com/conduit-foundation/conduit/internal/domain/users"
	"github.com/conduit-foundation/conduit/internal/metrics"
	"github.com/conduit-foundation/conduit/internal/storage/postgres"
	"github.com/conduit-foundation/conduit/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Conduit HTTP server",
	Long: `Start the Conduit HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables
- Bootstrap the root user if ROOT_USERNAME and ROOT_PASSWORD are set
- Serve the management API and the publish/subscribe data plane
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  conduit serve

  # Start on a specific host and port
  conduit serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  conduit serve --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Msg("starting conduit server")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing, Version)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize tracing")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Error().Err(err).Msg("tracing shutdown failed")
			}
		}()
	}

	pool, err := newPool(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository init failed: %w", err)
	}

	broadcaster := broadcast.New(cfg.Broadcast.Backlog)
	channelsService := channels.NewService(repo.Channels(), broadcaster, logger)
	keysService := keys.NewService(repo.Keys(), logger)
	usersService := users.NewService(repo.Users(), logger)
	sessionsService := sessions.NewService(repo.Sessions(), usersService, cfg.Sessions.TTL, logger)

	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := bootstrapRootUser(bootstrapCtx, cfg, usersService, logger); err != nil {
		logger.Error().Err(err).Msg("root bootstrap failed")
	}
	cancel()

	router := api.NewRouter(api.Deps{
		Config:      cfg,
		Logger:      logger,
		DB:          repo,
		Channels:    channelsService,
		Keys:        keysService,
		Users:       usersService,
		Sessions:    sessionsService,
		Broadcaster: broadcaster,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: subscriber event streams stay open until the
		// client disconnects or lags out.
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	return gracefulShutdown(server, logger)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return cfg, nil
}

func newPool(cfg config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return pool, nil
}

// bootstrapRootUser creates the rank-0 user on first start. An existing user
// with the configured name short-circuits; the password is not reconciled.
func bootstrapRootUser(ctx context.Context, cfg config.Config, usersService *users.Service, logger zerolog.Logger) error {
	bootstrap := cfg.Bootstrap
	if bootstrap.Username == "" || bootstrap.Password == "" {
		logger.Warn().Msg("root bootstrap env vars not set; skipping")
		return nil
	}

	_, err := usersService.GetByName(ctx, bootstrap.Username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return fmt.Errorf("check root user: %w", err)
	}

	if _, err := usersService.CreateRoot(ctx, bootstrap.Username, bootstrap.Password); err != nil {
		return fmt.Errorf("create root user: %w", err)
	}

	logger.Info().Str("username", bootstrap.Username).Msg("bootstrapped root user")
	return nil
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
