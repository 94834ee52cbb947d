package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/browser"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/consumers"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/events"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/handler"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/metrics"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/photo"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/register"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/repository"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/service"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/vision"
	"github.com/sitecomply/sitecomply-backend/pkg/config"
	"github.com/sitecomply/sitecomply-backend/pkg/database"
	"github.com/sitecomply/sitecomply-backend/pkg/httputil"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
	"github.com/sitecomply/sitecomply-backend/pkg/messaging"
)

const portalProbeInterval = 5 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.LoadWithValidation(events.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(events.ServiceName, cfg.Server.Environment)
	log.Info().Msg("starting Card Check Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue(events.ServiceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	publisher, err := events.NewCardCheckEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Redis backs the register cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	m := metrics.New()

	var registerClient register.Client
	if cfg.Register.URL != "" {
		registerClient = register.NewCachedClient(
			register.NewHTTPClient(&cfg.Register, log), rdb, cfg.Register.CacheTTL, m, log)
	} else {
		log.Warn().Msg("register URL not set, manual and image checks cannot cross-check cards")
	}

	visionClient := vision.NewClient(&cfg.Vision, log)
	if !visionClient.Configured() {
		log.Warn().Msg("vision provider not set, image verification disabled")
	}

	sessions := browser.NewRodSessionManager(browser.OptionsFromConfig(&cfg.Portal), m, log)
	photos := photo.NewStore(cfg.Photos.RootDir)
	history := repository.NewVerificationRepository(db)

	verifier := service.NewVerifier(service.ConfigFrom(cfg), service.Dependencies{
		Sessions:  sessions,
		Extractor: photo.NewExtractor(cfg.CardCheck.ImageTimeout, log),
		Photos:    photos,
		Register:  registerClient,
		Vision:    visionClient,
		History:   history,
		Events:    publisher,
		Metrics:   m,
		Logger:    log,
	})
	defer func() {
		if err := verifier.Shutdown(); err != nil {
			log.Error().Err(err).Msg("failed to close browser")
		}
	}()

	// Start batch request consumer
	batchConsumer, err := consumers.NewBatchConsumer(rmq, verifier, cfg.CardCheck.MaxBatchSize, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create batch consumer")
	}
	if err := batchConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start batch consumer")
	}

	probe := &portalProbe{verifier: verifier, log: log}
	go probe.run(ctx, portalProbeInterval)

	cardCheckHandler := handler.NewCardCheckHandler(verifier, history, photos, handler.Options{
		MaxBatchSize:  cfg.CardCheck.MaxBatchSize,
		MaxImageBytes: cfg.Vision.MaxImageBytes,
		BatchDeadline: cfg.Server.BatchDeadline(),
	}, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if cfg.Server.Environment == config.EnvDevelopment {
				return strings.HasPrefix(origin, "http://localhost:")
			}
			return strings.HasSuffix(origin, ".sitecomply.co.uk")
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.TenantMiddleware(httputil.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)))

	// Health check (no tenant required - handled by middleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		redisStatus := "healthy"
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			redisStatus = "unhealthy: " + err.Error()
		}
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  events.ServiceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
			"redis":    redisStatus,
			"portal":   probe.status(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes (tenant required)
	r.Mount("/api/v1/cardcheck", cardCheckHandler.Routes())

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers and the portal probe
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// portalProbe checks the portal in the background so /health never drives the browser
type portalProbe struct {
	verifier *service.Verifier
	log      *logger.Logger
	checked  atomic.Bool
	up       atomic.Bool
}

func (p *portalProbe) run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		p.up.Store(p.verifier.TestConnection(ctx))
		p.checked.Store(true)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (p *portalProbe) status() string {
	switch {
	case !p.checked.Load():
		return "unknown"
	case p.up.Load():
		return "reachable"
	default:
		return "unreachable"
	}
}
