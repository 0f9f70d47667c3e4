// Command server starts the Pulsecast session core HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"pulsecast/internal/api"
	"pulsecast/internal/auth"
	"pulsecast/internal/ingest"
	"pulsecast/internal/moderation"
	"pulsecast/internal/observability/logging"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/presence"
	"pulsecast/internal/reaper"
	"pulsecast/internal/server"
	"pulsecast/internal/store"
	"pulsecast/internal/stream"
	"pulsecast/internal/webhook"
)

func main() {
	envFile := flag.String("env-file", "", "path to an optional .env file")
	addr := flag.String("addr", "", "HTTP listen address")
	storeDriver := flag.String("store-driver", "", "store driver (memory, redis, or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when opening a Postgres connection")
	redisAddr := flag.String("redis-addr", "", "Redis address for the session store")
	redisUsername := flag.String("redis-username", "", "Redis username")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis logical database")
	webhookSecret := flag.String("webhook-secret", "", "shared secret for platform callback signatures")
	webhookTolerance := flag.Duration("webhook-tolerance", 0, "maximum accepted callback timestamp skew")
	gatewaySecret := flag.String("gateway-secret", "", "shared secret expected from the API gateway")
	deletedRetention := flag.Duration("deleted-retention", 0, "how long soft-deleted sessions are kept before purging")
	logRetention := flag.Duration("moderation-log-retention", 0, "how long moderation log entries are kept")
	staleWindow := flag.Duration("presence-stale-window", 0, "missed-heartbeat window before a viewer is detached")
	reapInterval := flag.Duration("reap-interval", 0, "period between retention sweeps")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	clientRPS := flag.Float64("rate-client-rps", 0, "per-client request rate limit in requests per second")
	clientBurst := flag.Int("rate-client-burst", 0, "per-client rate limit burst allowance")
	flag.Parse()

	if path := firstNonEmpty(*envFile, os.Getenv("PULSECAST_ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "load env file %s: %v\n", path, err)
			os.Exit(1)
		}
	} else {
		// Best effort: a local .env is a development convenience, not a
		// requirement.
		_ = godotenv.Load()
	}

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("PULSECAST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("PULSECAST_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, storeOptions{
		Driver:         firstNonEmpty(*storeDriver, os.Getenv("PULSECAST_STORE_DRIVER")),
		PostgresDSN:    resolvePostgresDSN(*postgresDSN),
		MaxConns:       resolveInt(*postgresMaxConns, "PULSECAST_POSTGRES_MAX_CONNS"),
		MinConns:       resolveInt(*postgresMinConns, "PULSECAST_POSTGRES_MIN_CONNS"),
		ConnectTimeout: resolveDuration(*postgresConnectTimeout, "PULSECAST_POSTGRES_CONNECT_TIMEOUT", 0),
		RedisAddr:      firstNonEmpty(*redisAddr, os.Getenv("PULSECAST_REDIS_ADDR")),
		RedisUsername:  firstNonEmpty(*redisUsername, os.Getenv("PULSECAST_REDIS_USERNAME")),
		RedisPassword:  firstNonEmpty(*redisPassword, os.Getenv("PULSECAST_REDIS_PASSWORD")),
		RedisDB:        resolveInt(*redisDB, "PULSECAST_REDIS_DB"),
	}, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	ingestConfig, err := ingest.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load ingest configuration", "error", err)
		os.Exit(1)
	}
	var controller ingest.Controller
	if ingestConfig.BaseURL != "" {
		httpController, err := ingest.NewHTTPController(ingest.HTTPControllerConfig{
			BaseURL:        ingestConfig.BaseURL,
			Token:          ingestConfig.Token,
			Logger:         logging.WithComponent(logger, "ingest"),
			RequestsPerSec: ingestConfig.RequestsPerSec,
			Burst:          ingestConfig.Burst,
			MaxAttempts:    ingestConfig.MaxAttempts,
			RetryInterval:  ingestConfig.RetryInterval,
		})
		if err != nil {
			logger.Error("failed to initialise ingest controller", "error", err)
			os.Exit(1)
		}
		controller = httpController
	} else {
		logger.Error("no ingest platform configured: set PULSECAST_INGEST_API")
		os.Exit(1)
	}

	secret := firstNonEmpty(*webhookSecret, os.Getenv("PULSECAST_WEBHOOK_SECRET"))
	if secret == "" {
		logger.Error("no webhook secret configured: set PULSECAST_WEBHOOK_SECRET")
		os.Exit(1)
	}

	viewers := presence.NewTracker(st, logging.WithComponent(logger, "presence"),
		presenceOptions(resolveDuration(*staleWindow, "PULSECAST_PRESENCE_STALE_WINDOW", 0))...)
	streams := stream.NewManager(st, controller, logging.WithComponent(logger, "streams"),
		streamOptions(resolveDuration(*deletedRetention, "PULSECAST_DELETED_RETENTION", 0), viewers)...)
	mod := moderation.NewService(st, logging.WithComponent(logger, "moderation"),
		moderationOptions(resolveDuration(*logRetention, "PULSECAST_MODERATION_LOG_RETENTION", 0))...)

	identity := auth.NewGatewayIdentity(firstNonEmpty(*gatewaySecret, os.Getenv("PULSECAST_GATEWAY_SECRET")))
	handler := api.NewHandler(streams, viewers, mod, identity, st, logger)
	verifier, err := webhook.NewVerifier(secret,
		resolveDuration(*webhookTolerance, "PULSECAST_WEBHOOK_TOLERANCE", webhook.DefaultTolerance))
	if err != nil {
		logger.Error("failed to configure webhook verifier", "error", err)
		os.Exit(1)
	}
	processor := webhook.NewProcessor(st, viewers, logging.WithComponent(logger, "webhook"))
	webhooks := api.NewWebhookHandler(verifier, processor)

	srv := server.New(handler, webhooks, server.Config{
		Addr: resolveListenAddr(*addr, os.Getenv("PULSECAST_ADDR")),
		RateLimit: server.RateLimitConfig{
			GlobalRPS:      resolveFloat(*globalRPS, "PULSECAST_RATE_GLOBAL_RPS"),
			GlobalBurst:    resolveInt(*globalBurst, "PULSECAST_RATE_GLOBAL_BURST"),
			PerClientRPS:   resolveFloat(*clientRPS, "PULSECAST_RATE_CLIENT_RPS"),
			PerClientBurst: resolveInt(*clientBurst, "PULSECAST_RATE_CLIENT_BURST"),
		},
		Logger:  logger,
		Metrics: recorder,
	})

	sweeper := reaper.New(streams, viewers, mod, logging.WithComponent(logger, "reaper"),
		reaperOptions(resolveDuration(*reapInterval, "PULSECAST_REAP_INTERVAL", 0))...)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	group.Go(func() error {
		if err := sweeper.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type storeOptions struct {
	Driver         string
	PostgresDSN    string
	MaxConns       int
	MinConns       int
	ConnectTimeout time.Duration
	RedisAddr      string
	RedisUsername  string
	RedisPassword  string
	RedisDB        int
}

func openStore(ctx context.Context, opts storeOptions, logger *slog.Logger) (store.Store, func(), error) {
	driver, err := resolveStoreDriver(opts.Driver, opts.PostgresDSN, opts.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	switch driver {
	case "memory":
		logger.Warn("using in-memory store, data will not survive restarts")
		return store.NewMemoryStore(), func() {}, nil
	case "redis":
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     opts.RedisAddr,
			Username: opts.RedisUsername,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Warn("failed to close redis store", "error", err)
			}
		}, nil
	case "postgres":
		ps, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			DSN:             opts.PostgresDSN,
			MaxConns:        int32(opts.MaxConns),
			MinConns:        int32(opts.MinConns),
			ConnectTimeout:  opts.ConnectTimeout,
			ApplicationName: "pulsecast",
		})
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func resolveStoreDriver(explicit, postgresDSN, redisAddr string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(explicit)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	if strings.TrimSpace(redisAddr) != "" {
		return "redis", nil
	}
	return "memory", nil
}

func presenceOptions(staleWindow time.Duration) []presence.Option {
	var opts []presence.Option
	if staleWindow > 0 {
		opts = append(opts, presence.WithStaleWindow(staleWindow))
	}
	return opts
}

func streamOptions(retention time.Duration, viewers *presence.Tracker) []stream.Option {
	opts := []stream.Option{stream.WithPresenceCloser(viewers)}
	if retention > 0 {
		opts = append(opts, stream.WithDeletedRetention(retention))
	}
	return opts
}

func moderationOptions(retention time.Duration) []moderation.Option {
	var opts []moderation.Option
	if retention > 0 {
		opts = append(opts, moderation.WithLogRetention(retention))
	}
	return opts
}

func reaperOptions(interval time.Duration) []reaper.Option {
	var opts []reaper.Option
	if interval > 0 {
		opts = append(opts, reaper.WithInterval(interval))
	}
	return opts
}

func resolveListenAddr(flagValue, envValue string) string {
	if addr := firstNonEmpty(flagValue, envValue); addr != "" {
		return addr
	}
	return ":8080"
}

func resolvePostgresDSN(flagValue string) string {
	return firstNonEmpty(flagValue, os.Getenv("PULSECAST_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
