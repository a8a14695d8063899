package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/database"
	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/handler"
	"github.com/stemsi/exstem-integrity/internal/logger"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/repository"
	"github.com/stemsi/exstem-integrity/internal/router"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/session"
	"github.com/stemsi/exstem-integrity/internal/validator"
	"github.com/stemsi/exstem-integrity/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("store_backend", cfg.StoreBackend).
		Msg("Starting ExStem Integrity")

	// ─── Initialize Validator ──────────────────────────────────────────
	if err := validator.Setup(); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up validator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Draft Store ───────────────────────────────────────────────────
	store := draftstore.NewStore(newDraftBackend(cfg, rdb, log), cfg.DraftNamespace, log)

	// ─── Initialize Repositories ───────────────────────────────────────
	assignmentRepo := repository.NewAssignmentRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	assignmentService := service.NewAssignmentService(assignmentRepo, rdb, log)
	submissionService := service.NewSubmissionService(submissionRepo, rdb, log)
	retryQueue := service.NewRetryQueue(rdb, log)
	violationService := service.NewViolationService(rdb, log)
	sessionService := service.NewSessionService(store, submissionService, cfg.MinContentLength, log)
	monitorService := service.NewMonitorService(monitorRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	sessionOpts := session.Options{
		AutosaveInterval:    cfg.AutosaveInterval,
		PollInterval:        cfg.FullscreenPollInterval,
		ThrottleWindow:      cfg.AlertThrottleWindow,
		ForcedRedirectDelay: cfg.ForcedRedirectDelay,
		ViolationThreshold:  cfg.ViolationThreshold,
		MinContentLength:    cfg.MinContentLength,
		RedirectPath:        cfg.RedirectPath,
	}

	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(assignmentService, sessionService, log),
		Session: handler.NewSessionHandler(
			assignmentService,
			submissionService,
			store,
			submissionService,
			retryQueue,
			violationService,
			sessionOpts,
			log,
			cfg.AllowedOrigins,
		),
		Assignment: handler.NewAssignmentHandler(assignmentService, log),
		Monitor:    handler.NewMonitorHandler(rdb, assignmentService, monitorService, log),
		System:     handler.NewSystemHandler(rdb, log),
	}

	var draftLimiter *middleware.RateLimiter
	if cfg.DraftRateLimit > 0 {
		draftLimiter = middleware.NewRateLimiter(ctx, cfg.DraftRateLimit, time.Minute)
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workers, workerCtx := errgroup.WithContext(workerCtx)

	violationWorker := worker.NewViolationWorker(violationRepo, rdb, log)
	retryWorker := worker.NewSubmissionRetryWorker(submissionService, rdb, log)

	workers.Go(func() error { return violationWorker.Start(workerCtx) })
	workers.Go(func() error { return retryWorker.Start(workerCtx) })

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published assignments into Redis BEFORE accepting traffic,
	// so the first wave of students does not stampede PostgreSQL.
	if err := assignmentService.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, draftLimiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	case <-workerCtx.Done():
		log.Error().Msg("A background worker stopped, shutting down")
	}

	// 1. Stop accepting new HTTP requests. Hijacked WebSockets are not
	// tracked by Shutdown; their runtimes end when the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their final flush.
	workerCancel()
	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Worker exited with error")
	}

	log.Info().Msg("Shutdown complete")
}

func newDraftBackend(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) draftstore.Backend {
	if cfg.StoreBackend == "memory" {
		log.Warn().Msg("Using in-memory draft store; drafts and timers are lost on restart")
		return draftstore.NewMemoryBackend()
	}
	return draftstore.NewRedisBackend(rdb)
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
