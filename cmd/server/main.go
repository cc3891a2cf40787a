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

	"github.com/medres/whatsapp-gateway/internal/bridge"
	"github.com/medres/whatsapp-gateway/internal/config"
	"github.com/medres/whatsapp-gateway/internal/database"
	"github.com/medres/whatsapp-gateway/internal/driver"
	"github.com/medres/whatsapp-gateway/internal/handler"
	"github.com/medres/whatsapp-gateway/internal/jobs"
	"github.com/medres/whatsapp-gateway/internal/middleware"
	"github.com/medres/whatsapp-gateway/internal/redis"
	"github.com/medres/whatsapp-gateway/internal/repository"
	"github.com/medres/whatsapp-gateway/internal/sse"
	"github.com/medres/whatsapp-gateway/internal/wa"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	var archiveRepo repository.MessageArchiveRepository
	var cleanupJob *jobs.CleanupJob
	if cfg.ArchiveEnabled() {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		log.Info().Msg("database connected, message archive enabled")

		archiveRepo = repository.NewMessageArchiveRepository(db.DB)
		cleanupJob = jobs.NewCleanupJob(archiveRepo, cfg.ArchiveRetention(), config.ArchiveCleanupInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	var renderer wa.QRRenderer
	if cfg.RenderQRToTerminal {
		renderer = wa.TerminalQRRenderer(os.Stdout)
	}

	registry := wa.NewRegistry(driver.Factory(), wa.Options{
		AuthDataPath: cfg.AuthDataPath,
		QRRenderer:   renderer,
	})

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	notifier := bridge.NewNotifier(registry, broker, archiveRepo)
	notifier.Start()
	defer notifier.Stop()

	authMiddleware := middleware.NewAuthMiddleware(cfg.APIToken)
	sendLimiter := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.SendRateLimitPerMin)

	gatewayHandler := handler.NewGatewayHandler(registry, archiveRepo, sendLimiter.Handler)
	eventsHandler := handler.NewEventsHandler(broker, registry)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		// The SSE stream must not inherit the request timeout.
		r.Get("/{organizationID}/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/", gatewayHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		IdleTimeout: config.ServerIdleTimeout,
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

	if err := registry.DisconnectAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to close whatsapp connections")
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
