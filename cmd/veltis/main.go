package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/veltis-io/veltis-api/adapters/ethsig"
	"github.com/veltis-io/veltis-api/adapters/events"
	"github.com/veltis-io/veltis-api/adapters/store"
	"github.com/veltis-io/veltis-api/adapters/tokenizer"
	"github.com/veltis-io/veltis-api/config"
	"github.com/veltis-io/veltis-api/logging"
	"github.com/veltis-io/veltis-api/metrics"
	"github.com/veltis-io/veltis-api/ports"
	"github.com/veltis-io/veltis-api/service"
	transporthttp "github.com/veltis-io/veltis-api/transport/http"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "veltis",
		Short:         "VELTIS wallet authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VELTIS_CONFIG"), "path to YAML config file (env VELTIS_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := setup(configPath)
				if err != nil {
					return err
				}
				defer logger.Sync() //nolint:errcheck

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				return serve(ctx, cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the Postgres schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := setup(configPath)
				if err != nil {
					return err
				}
				defer logger.Sync() //nolint:errcheck

				return migrate(cmd.Context(), cfg, logger)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Env:     cfg.Env,
		Level:   cfg.Log.Level,
		Service: "veltis-api",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required to migrate")
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, 1, logger.Named("postgres"))
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var (
		m   *metrics.Metrics
		reg *prometheus.Registry
		err error
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if m, err = metrics.New(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	var pg *store.PostgresStore
	if cfg.Database.URL != "" {
		pg, err = store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger.Named("postgres"))
		if err != nil {
			return err
		}
		defer pg.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	volatile := store.NewMemoryNonceStore(cfg.Auth.SweepInterval, time.Now)

	var (
		durable ports.NonceStore
		users   ports.UserStore
	)
	switch cfg.Auth.NonceBackend {
	case config.BackendPostgres:
		durable, users = pg, pg
	case config.BackendRedis:
		durable, users = store.NewRedisNonceStore(redisClient), pg
	case config.BackendMemory:
		if pg != nil {
			users = pg
		} else {
			logger.Warn("no database configured, identities are kept in memory")
			users = store.NewMemoryUserStore()
		}
	}

	var eventPub ports.EventPublisher = events.NopPublisher{}
	if cfg.Events.Enabled && redisClient != nil {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			events.NewZapLoggerAdapter(logger.Named("events")),
		)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		defer publisher.Close()
		eventPub = events.NewWatermillPublisher(publisher)
	}

	retry := service.RetryPolicy{
		MaxAttempts: cfg.Auth.Retry.MaxAttempts,
		BaseDelay:   cfg.Auth.Retry.BaseDelay,
		Multiplier:  cfg.Auth.Retry.Multiplier,
	}
	chain := service.NewNonceChain(durable, volatile, retry, logger, m, time.Now)
	authService := service.NewAuthService(
		chain,
		users,
		ethsig.NewVerifier(),
		tokenizer.NewJWTTokenizer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
		eventPub,
		service.Options{
			Platform:             cfg.Auth.Platform,
			NonceTTL:             cfg.Auth.NonceTTL,
			SessionTTL:           cfg.Auth.SessionTTL,
			Retry:                retry,
			AllowFallbackNonce:   cfg.Auth.AllowFallbackNonce,
			FallbackNonce:        cfg.Auth.FallbackNonce,
			AllowPlaceholderUser: cfg.Auth.AllowPlaceholderUser,
			Logger:               logger,
			Metrics:              m,
			Now:                  time.Now,
		},
	)

	if cfg.Auth.AllowFallbackNonce || cfg.Auth.AllowPlaceholderUser {
		logger.Warn("degraded authentication paths enabled",
			zap.Bool("allow_fallback_nonce", cfg.Auth.AllowFallbackNonce),
			zap.Bool("allow_placeholder_user", cfg.Auth.AllowPlaceholderUser),
		)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	routerOpts := transporthttp.RouterOptions{
		CORSOrigin: cfg.HTTP.CORSOrigin,
		Logger:     logger,
		Metrics:    m,
	}
	if reg != nil {
		routerOpts.Gatherer = reg
	}
	if pg != nil {
		routerOpts.Health = pg.Ping
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           transporthttp.SetupRouter(authService, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Auth.NonceBackend == config.BackendPostgres {
		go sweepExpiredNonces(ctx, pg, cfg.Auth.SweepInterval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("nonce_backend", cfg.Auth.NonceBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// sweepExpiredNonces removes expired rows from the nonces table. Lookups
// already ignore them; this keeps the table small.
func sweepExpiredNonces(ctx context.Context, pg *store.PostgresStore, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := pg.DeleteExpiredNonces(ctx, now)
			if err != nil {
				logger.Warn("expired nonce sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("expired nonces removed", zap.Int64("count", n))
			}
		}
	}
}
