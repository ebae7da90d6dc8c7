package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/editflow/internal/api"
	"github.com/dunamismax/editflow/internal/artifact"
	"github.com/dunamismax/editflow/internal/config"
	"github.com/dunamismax/editflow/internal/edit"
	"github.com/dunamismax/editflow/internal/logging"
	"github.com/dunamismax/editflow/internal/notify"
	"github.com/dunamismax/editflow/internal/predictor"
	"github.com/dunamismax/editflow/internal/ratelimit"
	"github.com/dunamismax/editflow/internal/reconcile"
	"github.com/dunamismax/editflow/internal/storage"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/dunamismax/editflow/internal/telemetry"
	"github.com/dunamismax/editflow/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.AppEnv, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "editflow-api",
		Environment:  cfg.AppEnv,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}

	jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
	defer closeStore()

	webhookClient := webhook.NewClient(webhook.Config{
		Timeout:     cfg.Webhook.Timeout,
		MaxAttempts: cfg.Webhook.MaxAttempts,
	})

	dispatcher, err := predictor.New(cfg.Predictor, logger, jobStore, webhookClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("create predictor")
	}

	edits := edit.NewService(logger, jobStore, dispatcher, edit.Config{
		PublicBaseURL: cfg.API.PublicBaseURL,
		WebhookSecret: cfg.Webhook.Secret,
		Models:        edit.ModelsFromConfig(cfg.Predictor),
	})

	receiver := notify.NewReceiver(logger, jobStore, receiverConfig(ctx, cfg, logger))

	metrics := api.NewMetrics()
	sweeper := reconcile.NewSweeper(logger, jobStore, reconcile.Config{
		Schedule:        cfg.Sweep.Schedule,
		StuckJobTimeout: cfg.Sweep.StuckJobTimeout,
		Retention:       cfg.Sweep.Retention,
		Report: func(r reconcile.Result, err error) {
			metrics.ObserveSweep(r.Expired, r.Pruned, err)
		},
	})
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start sweeper")
	}

	deps := api.Dependencies{
		Logger:              logger,
		Mode:                cfg.Predictor.Mode,
		Edits:               edits,
		Jobs:                jobStore,
		Receiver:            receiver,
		Metrics:             metrics,
		RateLimitUserHeader: cfg.RateLimit.UserIDHeader,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("create rate limiter")
		}
		deps.RateLimiter = limiter
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewServer(deps).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("predictor", dispatcher.Name()).
			Str("job_store", cfg.Database.Store).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	sweeper.Stop(shutdownCtx)
	if sim, ok := dispatcher.(*predictor.Simulator); ok {
		sim.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
}

func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (store.JobStore, func()) {
	if cfg.Store != config.StorePostgres {
		logger.Warn().Msg("using in-memory job store; jobs are lost on restart")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open postgres job store")
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Error().Err(err).Msg("close postgres job store")
		}
	}
}

// receiverConfig builds the webhook receiver's verifier and artifact
// persister. Simulated mode needs neither.
func receiverConfig(ctx context.Context, cfg config.Config, logger zerolog.Logger) notify.Config {
	if cfg.Predictor.Simulated() {
		return notify.Config{Simulated: true}
	}

	verifier, err := webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
	if err != nil {
		logger.Fatal().Err(err).Msg("create webhook verifier")
	}

	var sink storage.Sink = storage.Unavailable()
	if cfg.Storage.Enabled() {
		client, err := storage.NewClient(storage.Config{
			Endpoint:      cfg.Storage.Endpoint,
			Access:        cfg.Storage.AccessKey,
			Secret:        cfg.Storage.SecretKey,
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			UseSSL:        cfg.Storage.UseSSL,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("create storage client")
		}
		if err := client.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", client.Bucket()).Msg("ensure bucket failed")
		}
		sink = client
	} else {
		logger.Warn().Msg("object storage not configured; completed predictions will fail to persist")
	}

	return notify.Config{
		Verifier:  verifier,
		Persister: artifact.NewPersister(artifact.NewHTTPFetcher(cfg.Predictor.Timeout), sink),
	}
}
