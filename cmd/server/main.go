package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kidflix/watch-server-go/internal/config"
	"github.com/kidflix/watch-server-go/internal/database"
	"github.com/kidflix/watch-server-go/internal/handler"
	"github.com/kidflix/watch-server-go/internal/jobs"
	"github.com/kidflix/watch-server-go/internal/middleware"
	"github.com/kidflix/watch-server-go/internal/redis"
	"github.com/kidflix/watch-server-go/internal/repository"
	"github.com/kidflix/watch-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	profileRepo := repository.NewProfileRepository(db.DB)
	videoRepo := repository.NewVideoRepository(db.DB)
	chipRepo := repository.NewChipRepository(db.DB)
	sessionRepo := repository.NewWatchSessionRepository(db.DB)
	budgetRepo := repository.NewDailyBudgetRepository(db.DB)

	watchService := service.NewWatchService(
		db, sessionRepo, budgetRepo, profileRepo, videoRepo,
		cfg.PositionToleranceS, cfg.VideoCacheSize,
	)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	kioskLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.KioskStartPerMin, time.Minute, "kiosk",
	)
	heartbeatLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.HeartbeatPerMin, time.Minute, "heartbeat",
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	sessionHandler := handler.NewSessionHandler(watchService, profileRepo, chipRepo)
	profileHandler := handler.NewProfileHandler(watchService, profileRepo)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.With(authMiddleware.Handler, rateLimitMiddleware.Handler).
			Post("/", sessionHandler.Start)

		// Heartbeat and end carry the session id as a bearer capability:
		// they must work from the child-facing player without parent
		// credentials, and the teardown beacon cannot set headers.
		r.With(heartbeatLimitMiddleware.Handler).
			Post("/{sessionID}/heartbeat", sessionHandler.Heartbeat)
		r.With(heartbeatLimitMiddleware.Handler).
			Post("/{sessionID}/end", sessionHandler.End)
	})

	r.Route("/kiosk/sessions", func(r chi.Router) {
		r.Use(kioskLimitMiddleware.Handler)
		r.Post("/", sessionHandler.KioskStart)
	})

	r.Route("/v1/profiles", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", profileHandler.Routes())
	})

	retentionJob := jobs.NewRetentionJob(budgetRepo, cfg.BudgetRetention(), config.RetentionJobInterval)
	retentionJob.Start()
	defer retentionJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
