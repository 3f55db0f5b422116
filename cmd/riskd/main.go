package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianbank/authrisk/internal/auth"
	"github.com/meridianbank/authrisk/internal/background"
	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/database"
	"github.com/meridianbank/authrisk/internal/handlers"
	middlewareCustom "github.com/meridianbank/authrisk/internal/middleware"
	"github.com/meridianbank/authrisk/internal/notify"
	"github.com/meridianbank/authrisk/internal/repositories"
	"github.com/meridianbank/authrisk/internal/routes"
	"github.com/meridianbank/authrisk/internal/services"
	"github.com/meridianbank/authrisk/migrations"
	pkghttp "github.com/meridianbank/authrisk/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Apply schema migrations before opening the pool
	if err := runMigrations(cfg, logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	rateLimitRepo := repositories.NewRateLimitEntryRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	patternRepo := repositories.NewLoginPatternRepository(db)
	anomalyRepo := repositories.NewAnomalyRepository(db)
	alertRepo := repositories.NewSecurityAlertRepository(db)

	// Initialize services
	rateLimitService := services.NewRateLimitService(rateLimitRepo, cfg.Risk, logger)
	attemptLedger := services.NewAttemptLedger(attemptRepo, cfg.Risk, logger)

	patternService, err := services.NewPatternService(patternRepo, cfg.Risk, logger)
	if err != nil {
		logger.Error("failed to initialize pattern service", slog.Any("error", err))
		os.Exit(1)
	}

	anomalyService := services.NewAnomalyService(anomalyRepo, attemptLedger, cfg.Risk, logger)

	// Alert delivery is optional; without it alerts stay queryable but
	// remain pending.
	var notifier services.Notifier
	if cfg.Email.Enabled {
		sesNotifier, err := notify.NewSESNotifier(cfg.Email.AWSRegion, cfg.Email.FromAddress, attemptLedger, logger)
		if err != nil {
			logger.Error("failed to initialize alert notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	alertService := services.NewAlertService(alertRepo, notifier, cfg.Alerts, logger)

	engine := services.NewRiskEngine(
		rateLimitService,
		attemptLedger,
		patternService,
		anomalyService,
		alertService,
		cfg.Risk,
		logger,
	)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenExpiry)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	riskHandler := handlers.NewRiskHandler(engine, ipConfig)
	adminHandler := handlers.NewAdminHandler(anomalyService, alertService, rateLimitService)

	// Background maintenance
	sweeper := background.NewSweeper(rateLimitService, attemptLedger, alertService, logger, cfg.Risk.SweepInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, riskHandler, adminHandler, tokenManager)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	router.Handle("/metrics", promhttp.Handler())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// runMigrations applies embedded goose migrations over a short-lived
// database/sql connection.
func runMigrations(cfg *config.Config, logger *slog.Logger) error {
	sqlDB, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.Up(sqlDB, "."); err != nil {
		return err
	}

	logger.Info("database migrations applied")
	return nil
}

func logLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
