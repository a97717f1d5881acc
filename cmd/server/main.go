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

	"github.com/quickpass/qr-login-server-go/internal/config"
	"github.com/quickpass/qr-login-server-go/internal/database"
	"github.com/quickpass/qr-login-server-go/internal/handler"
	"github.com/quickpass/qr-login-server-go/internal/jobs"
	"github.com/quickpass/qr-login-server-go/internal/middleware"
	"github.com/quickpass/qr-login-server-go/internal/redis"
	"github.com/quickpass/qr-login-server-go/internal/repository"
	"github.com/quickpass/qr-login-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("ENVIRONMENT") == "production"
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

	qrTokenRepo := repository.NewQRTokenRepository(db)
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	sessionService := service.NewSessionService(sessionRepo, cfg.SessionTTL())
	authService := service.NewAuthService(userRepo, sessionService)
	qrService := service.NewQRLoginService(qrTokenRepo, userRepo, sessionService, service.QRLoginConfig{
		ServerOrigin:            cfg.ServerOrigin,
		TokenTTL:                cfg.QRTokenTTL(),
		MinTokenTTL:             config.MinQRTokenTTL,
		MaxTokenTTL:             config.MaxQRTokenTTL,
		SessionCreationTokenTTL: cfg.SessionCreationTokenTTL(),
	})

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	authMiddleware := middleware.NewAuthMiddleware(sessionRepo, userRepo)
	qrRateLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.QRRateLimit, cfg.QRRateLimitWindow(), "qr",
	)
	loginLimiter := middleware.NewLoginRateLimiter()
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	qrHandler := handler.NewQRLoginHandler(qrService)
	authHandler := handler.NewAuthHandler(authService, sessionService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer pingCancel()

		status := http.StatusOK
		body := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		}
		if err := db.Ping(pingCtx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(loginLimiter.Handler).Post("/login", authHandler.Login)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
		})
	})

	r.Route("/qr", func(r chi.Router) {
		r.Use(qrRateLimit.Handler)
		r.Post("/generate", qrHandler.Generate)
		r.Get("/status", qrHandler.Status)
		r.Post("/claim-session", qrHandler.ClaimSession)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Post("/verify", qrHandler.Verify)
		})
	})

	cleanupJob := jobs.NewCleanupJob(qrTokenRepo, sessionRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

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
