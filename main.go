package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"guild-progression-system/config"
	"guild-progression-system/handlers"
	"guild-progression-system/middleware"
	"guild-progression-system/models"
	"guild-progression-system/services"
	"guild-progression-system/utils"
	"guild-progression-system/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get database handle", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := models.Migrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	svc := services.New(db, cfg.Progression, cfg.Retry, log)
	if _, err := svc.Achievements.SeedDefaults(ctx); err != nil {
		log.Fatal("failed to seed achievements", zap.Error(err))
	}

	if url := cfg.Collaborators.NotifyURL; url != "" {
		svc.Progression.Notifier = services.NewHTTPNotifier(url, cfg.ServiceToken)
	}
	if url := cfg.Collaborators.ModerationURL; url != "" {
		svc.Guilds.Moderator = services.NewHTTPModerator(url, cfg.ServiceToken)
	}

	var emblems handlers.EmblemUploader
	if cfg.R2.Enabled() {
		store, err := utils.NewR2Store(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		emblems = store
	} else {
		log.Warn("R2 not configured, emblem uploads disabled")
	}

	if cfg.Catalog.BaseURL != "" {
		workers.NewCatalogSyncWorker(db, cfg.Catalog.BaseURL, cfg.ServiceToken, cfg.Catalog.Interval, log).Start(ctx)
	}

	if _, err := svc.Guilds.StartReconcileScheduler(ctx, cfg.ReconcileInterval); err != nil {
		log.Fatal("failed to start reconcile scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		BodyLimit:   utils.MaxEmblemBytes + 64*1024,
		ReadTimeout: 15 * time.Second,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID, Retry-After",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Probes and scrapers reach these without the gateway token.
	handlers.SetupHealthRoutes(app, svc.Progression, log)

	// Everything below must come through the gateway.
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, log))

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, log).Handler()
	handlers.SetupProgressionRoutes(app, svc, log, limiter)
	handlers.SetupGuildRoutes(app, svc.Guilds, emblems, log, limiter)
	handlers.SetupAdminRoutes(app, svc.Guilds, log, limiter)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	log.Info("server running",
		zap.String("addr", cfg.ListenAddr),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Bool("emblem_uploads", emblems != nil),
		zap.Bool("catalog_sync", cfg.Catalog.BaseURL != ""),
	)

	<-ctx.Done()
	log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
