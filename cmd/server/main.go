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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/auth"
	"github.com/meetsync/realtime-server-go/internal/config"
	"github.com/meetsync/realtime-server-go/internal/database"
	"github.com/meetsync/realtime-server-go/internal/handler"
	"github.com/meetsync/realtime-server-go/internal/jobs"
	"github.com/meetsync/realtime-server-go/internal/location"
	"github.com/meetsync/realtime-server-go/internal/middleware"
	"github.com/meetsync/realtime-server-go/internal/queue"
	"github.com/meetsync/realtime-server-go/internal/ratelimit"
	"github.com/meetsync/realtime-server-go/internal/realtime"
	"github.com/meetsync/realtime-server-go/internal/redis"
	"github.com/meetsync/realtime-server-go/internal/repository"
	"github.com/meetsync/realtime-server-go/internal/session"
)

func main() {
	_ = godotenv.Load()

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

	var sessions session.Store
	var locations location.Store
	var limiter ratelimit.Limiter
	var memLimiter *ratelimit.MemoryLimiter
	var dispatcherRedis *redis.Client

	switch cfg.StoreBackend {
	case "redis":
		sessions = session.NewRedisStore(redisClient, cfg.SessionTTL())
		locations = location.NewRedisStore(redisClient, cfg.LocationStaleness())
		limiter = ratelimit.NewRedisLimiter(redisClient)
		dispatcherRedis = redisClient
	default:
		sessions = session.NewMemoryStore(cfg.SessionTTL())
		locations = location.NewMemoryStore()
		memLimiter = ratelimit.NewMemoryLimiter()
		limiter = memLimiter
	}
	log.Info().Str("backend", cfg.StoreBackend).Msg("state stores initialized")

	participantRepo := repository.NewParticipantRepository(db.DB)

	queueClient, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue client")
	}
	defer queueClient.Close()

	queueServer, err := queue.NewServer(cfg.RedisURL, participantRepo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue server")
	}
	if err := queueServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start queue server")
	}
	defer queueServer.Shutdown()

	verifier := auth.NewHMACVerifier(cfg.TokenSecret)
	registry := realtime.NewRegistry(verifier, sessions)
	hub := realtime.NewHub(locations)
	dispatcher := realtime.NewDispatcher(dispatcherRedis, hub)
	hub.AttachDispatcher(dispatcher)
	defer dispatcher.Close()

	wsGuard := ratelimit.NewGuard(limiter, cfg.GlobalRateLimitPerMin, config.GlobalRateLimitWindow).
		WithOpLimit(realtime.MsgUpdateLocation, cfg.LocationUpdatesPerSec, config.LocationThrottleWindow)
	restGuard := ratelimit.NewGuard(limiter, cfg.GlobalRateLimitPerMin, config.GlobalRateLimitWindow)

	wsHandler := realtime.NewHandler(registry, hub, locations, dispatcher, wsGuard, queueClient)
	sessionHandler := handler.NewSessionHandler(sessions)
	appointmentHandler := handler.NewAppointmentHandler(locations, participantRepo)

	authMiddleware := middleware.NewAuthMiddleware(verifier, sessions)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(restGuard)
	sessionCreateLimit := middleware.NewIPRateLimitMiddleware(
		limiter, cfg.SessionCreatesPerMinIP, config.SessionCreateRateWindow, "session-create",
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": registry.Count(),
			"rooms":       hub.RoomCount(),
			"timestamp":   time.Now().UnixMilli(),
		})
	})

	r.Get("/ws", wsHandler.ServeWS)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.With(sessionCreateLimit.Handler).Post("/", sessionHandler.CreateSession)
		r.Get("/stats", sessionHandler.Stats)
		r.Delete("/{sessionID}", sessionHandler.DeleteSession)
	})

	r.Route("/v1/appointments", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", appointmentHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(
		sessions, locations, memLimiter, cfg.LocationStaleness(), config.CleanupJobInterval,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	mirrorJob := jobs.NewMirrorJob(locations, queueClient, cfg.CoordinateMirrorInterval())
	mirrorJob.Start()
	defer mirrorJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// Write timeout stays unset: websocket connections are long-lived.
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
