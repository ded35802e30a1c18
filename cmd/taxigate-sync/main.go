package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taxigate/internal/api"
	"taxigate/internal/backend"
	"taxigate/internal/cache"
	"taxigate/internal/config"
	"taxigate/internal/domain"
	"taxigate/internal/logging"
	"taxigate/internal/metrics"
	"taxigate/internal/notifications"
	"taxigate/internal/realtime"
	"taxigate/internal/repository"
	"taxigate/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, baseLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	client := backend.NewClient(cfg.Backend, baseLogger)
	pageCache, redisClient := initPageCache(cfg, baseLogger, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}
	if pageCache != nil {
		client.UsePageCache(pageCache)
	}

	conn := realtime.NewManager(
		&realtime.WebsocketDialer{
			URL:              cfg.Realtime.URL,
			HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
			PingInterval:     cfg.Realtime.PingInterval,
		},
		cfg.Realtime.Channel,
		realtime.RetryPolicy{
			InitialDelay:  cfg.Realtime.Retry.InitialDelay,
			MaxDelay:      cfg.Realtime.Retry.MaxDelay,
			BackoffFactor: cfg.Realtime.Retry.BackoffFactor,
		},
		baseLogger,
	)

	store := cache.NewStore()
	views := service.NewViewService(store, client, cfg.Backend.PageSize, baseLogger)
	feed := notifications.NewFeed(
		cfg.Notifications.Limit,
		cfg.Notifications.DedupeWindow,
		notifications.LogAlerter{Logger: baseLogger},
		baseLogger,
	)
	notes := service.NewNotificationService(client, feed, cfg.Notifications.Limit, baseLogger)

	creds := realtime.Credentials{
		APIKey:   cfg.Realtime.APIKey,
		ClientID: service.ClientID(cfg.Realtime.UserID),
	}
	session := service.NewSession(conn, store, views, notes, cfg.Bookings.PriceThreshold, creds, baseLogger)
	assign := service.NewAssignmentService(client, store, views, cfg.Bookings.PriceThreshold, baseLogger)

	session.Start(ctx)
	logger.Info().Str("client_id", creds.ClientID).Str("channel", cfg.Realtime.Channel).Msg("sync session started")

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, session, assign, baseLogger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	} else {
		logger.Warn().Msg("HTTP API is disabled in config, running the sync session only")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	session.Stop()

	logger.Info().Msg("sync service stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logger, closer, nil
}

// initPageCache returns nil when no Redis address is configured. An
// unreachable Redis leaves the in-memory cache on its own.
func initPageCache(cfg *config.Config, baseLogger, logger *zerolog.Logger) (domain.PageCache, *redis.Client) {
	if cfg.Redis.Address == "" {
		return nil, nil
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	memory := repository.NewMemoryPageCache(cfg.Backend.CacheTTL)
	redisClient := initRedis(cfg, logger)
	if redisClient == nil {
		return memory, nil
	}
	return repository.NewFailoverPageCache(
		repository.NewRedisPageCache(redisClient, cfg.Backend.CacheTTL),
		memory,
		baseLogger,
	), redisClient
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, using in-memory page cache")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
