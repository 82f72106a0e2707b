package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rl-arena/rl-arena-executor/config"
	"github.com/rl-arena/rl-arena-executor/health"
	"github.com/rl-arena/rl-arena-executor/match"
	"github.com/rl-arena/rl-arena-executor/metrics"
	"github.com/rl-arena/rl-arena-executor/queues"
	qpubsub "github.com/rl-arena/rl-arena-executor/queues/pubsub"
	"github.com/rl-arena/rl-arena-executor/semaphore"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("EXECUTOR_LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	setLogger()
	log.Info().Msgf("Starting rl-arena-executor version: %s", version)
	// Load config
	cfg := config.Load()
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	// Preflight required configuration
	if cfg.GoogleProjectID == "" {
		log.Fatal().Msg("missing Google project id; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or EXECUTOR_PUBSUB_PROJECT_ID")
	}
	if cfg.MatchSubscription == "" {
		log.Fatal().Msg("missing Pub/Sub subscription; set MATCH_REQUEST_SUBSCRIPTION or EXECUTOR_PUBSUB_SUBSCRIPTION")
	}
	if cfg.ResultTopic == "" {
		log.Fatal().Msg("missing Pub/Sub topic; set MATCH_RESULT_TOPIC or EXECUTOR_PUBSUB_TOPIC")
	}

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := match.NewTracker()

	// Metrics and health HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, version, tracker.Snapshot)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	if cfg.CredentialsFile != "" {
		log.Info().Str("credsFile", cfg.CredentialsFile).Msg("using explicit Google credentials file")
	} else {
		log.Info().Msg("using default Google credentials (in-cluster or ambient)")
	}
	publisher := qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.ResultTopic, cfg.CredentialsFile)

	var runner match.Runner
	switch cfg.Mode {
	case config.ModeKubernetes:
		runner = match.NewK8sRunner(cfg.Limits)
		log.Info().Str("namespace", cfg.Limits.K8s.Namespace).Msg("using kubernetes match runner")
	default:
		store, err := semaphore.Open(cfg.SemaphoreDB)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SemaphoreDB).Msg("failed to open semaphore store")
		}
		defer store.Close()
		manager := semaphore.NewManager(store,
			cfg.Limits.Concurrency.MaxConcurrentMatches,
			cfg.Limits.AcquireWaitTimeout(),
			cfg.Limits.StaleHolderTimeout())
		runner = match.NewLocalRunner(match.NewEngine(cfg.Limits, manager, tracker))
		log.Info().Int("maxConcurrent", cfg.Limits.Concurrency.MaxConcurrentMatches).Str("semaphoreDB", cfg.SemaphoreDB).Msg("using local match runner")
	}

	controller := match.NewController(publisher, runner, cfg.Limits)
	subscriber := qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.MatchSubscription, cfg.CredentialsFile)

	// Start match subscriber loop
	go func() {
		log.Info().Str("subscription", cfg.MatchSubscription).Msg("starting match subscriber loop")
		if err := subscriber.Start(ctx, func(ctx context.Context, req *queues.MatchRequest) error {
			return controller.Handle(ctx, req)
		}); err != nil {
			// Non-recoverable: if we can't receive from Pub/Sub, terminate the process
			log.Fatal().Err(err).Msg("match subscriber exited with fatal error; shutting down")
		}
	}()

	// Validation subscriber is optional
	if cfg.ValidationSubscription != "" {
		vsub := qpubsub.NewValidationSubscriber(cfg.GoogleProjectID, cfg.ValidationSubscription, cfg.CredentialsFile)
		go func() {
			log.Info().Str("subscription", cfg.ValidationSubscription).Msg("starting validation subscriber loop")
			if err := vsub.Start(ctx, func(ctx context.Context, req *queues.ValidationRequest) error {
				return controller.HandleValidation(ctx, req)
			}); err != nil {
				log.Fatal().Err(err).Msg("validation subscriber exited with fatal error; shutting down")
			}
		}()
	}

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
