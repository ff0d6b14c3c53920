package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/admindata/internal/api"
	"github.com/l0p7/admindata/internal/config"
	"github.com/l0p7/admindata/internal/credentials"
	"github.com/l0p7/admindata/internal/httpclient"
	"github.com/l0p7/admindata/internal/logging"
	"github.com/l0p7/admindata/internal/metrics"
	"github.com/l0p7/admindata/internal/querycache"
	"github.com/l0p7/admindata/internal/querycache/backend"
	"github.com/l0p7/admindata/internal/server"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var (
	newConfigLoader = func(envPrefix, file string) configLoader {
		return config.NewLoader(envPrefix, file)
	}
	newHTTPServer = func(cfg config.ServerConfig, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to gateway configuration file")
		envPrefix  = flag.String("env-prefix", "ADMINDATA", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := api.ValidatePins(cfg.Cache.Pinned); err != nil {
		return fmt.Errorf("cache.pinned: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	creds, stopCreds, err := buildCredentials(ctx, logger, cfg.Credentials)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	defer stopCreds()

	exec, err := httpclient.New(httpclient.Options{
		BaseURL:     cfg.Backend.BaseURL,
		Credentials: creds,
		Timeout:     cfg.Backend.Timeout,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}

	store := querycache.New(querycache.Options{
		Logger:      logger,
		Metrics:     recorder,
		GracePeriod: cfg.Cache.GracePeriod,
		Backend:     buildPersistedStore(logger.With(slog.String("agent", "cache_factory")), cfg.Cache.Persist),
		PersistTTL:  cfg.Cache.Persist.TTL,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	client, err := api.New(exec, store, logger)
	if err != nil {
		return err
	}
	pins, err := client.Pin(ctx, cfg.Cache.Pinned...)
	if err != nil {
		return fmt.Errorf("pin queries: %w", err)
	}
	defer pins.Release()

	srv, err := newHTTPServer(cfg.Server, logger, server.NewGatewayHandler(client, recorder, logger))
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}
	logger.Info("server shutdown complete")
	return err
}

// buildCredentials returns the bearer token source and a stop hook for any
// watcher it started.
func buildCredentials(ctx context.Context, logger *slog.Logger, cfg config.CredentialsConfig) (credentials.Provider, func(), error) {
	noop := func() {}
	scoped := logger.With(slog.String("agent", "credentials"))
	switch strings.TrimSpace(strings.ToLower(cfg.Source)) {
	case "", "none":
		scoped.Info("backend calls are unauthenticated")
		return credentials.None(), noop, nil
	case "static":
		return credentials.Static(cfg.Token), noop, nil
	case "env":
		scoped.Info("reading bearer token from environment", slog.String("env", cfg.Env))
		return credentials.Env(cfg.Env), noop, nil
	case "file":
		if !cfg.Watch {
			return credentials.File(cfg.File), noop, nil
		}
		watcher, err := credentials.WatchFile(ctx, cfg.File, logger)
		if err != nil {
			return nil, noop, err
		}
		scoped.Info("watching bearer token file", slog.String("file", cfg.File))
		return watcher, watcher.Stop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported source %q", cfg.Source)
	}
}

// buildPersistedStore falls back to in-memory caching only when redis cannot
// be reached; "none" disables persistence.
func buildPersistedStore(logger *slog.Logger, cfg config.CachePersistConfig) backend.Store {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "none":
		return nil
	case "memory":
		logger.Info("using memory payload store", slog.Duration("ttl", cfg.TTL))
		return backend.NewMemory(cfg.TTL)
	case "redis":
		redisStore, err := backend.NewRedis(backend.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: backend.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
			TTL: cfg.TTL,
		})
		if err != nil {
			logger.Error("redis payload store initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory payload store")
			return backend.NewMemory(cfg.TTL)
		}
		logger.Info("using redis payload store", slog.String("address", cfg.Redis.Address))
		return redisStore
	default:
		logger.Warn("unsupported payload store, defaulting to memory", slog.String("backend", cfg.Backend))
		return backend.NewMemory(cfg.TTL)
	}
}
